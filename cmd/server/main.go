package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/astromechza/pixelboard/pkg/boarddoc"
	"github.com/astromechza/pixelboard/pkg/config"
	"github.com/astromechza/pixelboard/pkg/relay"
	"github.com/astromechza/pixelboard/pkg/server"
	"github.com/astromechza/pixelboard/pkg/store"
	"github.com/astromechza/pixelboard/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.ParseServer(os.Args[1:])
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("Opening database")
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		return err
	}
	slog.Info("Ensured initial tables exist")

	var rl *relay.Relay
	var publisher server.Publisher
	if cfg.RedisAddr != "" {
		if rl, err = relay.Dial(ctx, cfg.RedisAddr, boarddoc.NewActorID()); err != nil {
			return err
		}
		defer rl.Close()
		publisher = rl
		slog.Info("Connected to redis", "addr", cfg.RedisAddr)
	}

	s := server.New(st, publisher)
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunBackups(ctx, cfg.BackupInterval)
	}()

	if rl != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunPublisher(ctx)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Run(ctx, func(board string, content []byte) {
				if err := s.ApplyRelayed(ctx, board, content); err != nil {
					slog.Error("failed to apply relayed board", "board", board, "err", err)
				}
			}); err != nil {
				slog.Error("relay stopped", "err", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
		// sync connections are hijacked, so they only stop when this context is cancelled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	// final flush with a fresh context since ctx is already cancelled
	s.Backup(context.Background())

	if cfg.Dump {
		dump(s)
	}
	return nil
}

func dump(s *server.Server) {
	s.Range(func(id string, doc *boarddoc.Document) bool {
		tf := filepath.Join(os.TempDir(), id+".automerge")
		if err := os.WriteFile(tf, doc.Save(), 0o644); err != nil {
			slog.Error("failed to dump", "board", id, "err", err)
		} else {
			slog.Info("dumped", "board", id, "path", tf)
		}
		if svgPath, err := viz.RenderToTemp(doc); err != nil {
			slog.Error("failed to render", "board", id, "err", err)
		} else {
			slog.Info("rendered", "board", id, "path", "file://"+svgPath)
		}
		return true
	})
}
