package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/astromechza/pixelboard/pkg/config"
	"github.com/astromechza/pixelboard/pkg/session"
	"github.com/astromechza/pixelboard/pkg/viewmodel"
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
	cfg, err := config.ParseClient(os.Args[1:])
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	loc, err := session.ParseLocation(cfg.URL)
	if err != nil {
		return err
	}
	s := session.New(session.Options{
		BaseURL:        loc.Base(),
		Location:       loc,
		Width:          cfg.Width,
		Height:         cfg.Height,
		ConnectTimeout: cfg.ConnectTimeout,
		MaxRetries:     cfg.MaxRetries,
	})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &printer{w: os.Stdout}
	adapter := viewmodel.NewAdapter()
	defer adapter.Close()
	adapter.Subscribe(out.render)

	if err := adapter.Initialize(ctx, s); err != nil {
		return err
	}
	out.printf("share this board: %s\n", loc.String())
	out.printf("enter \"x y\" to toggle a cell, \"q\" to quit\n")

	// stdin cannot be interrupted, so this goroutine is left behind when a signal arrives
	go func() {
		defer cancel()
		readToggles(os.Stdin, adapter, out)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	return nil
}

func readToggles(r io.Reader, adapter *viewmodel.Adapter, out *printer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "q" {
			return
		}
		x, y, err := parseToggle(line)
		if err != nil {
			out.printf("%v\n", err)
			continue
		}
		if err := adapter.ToggleCell(x, y); err != nil {
			out.printf("%v\n", err)
		}
	}
}

func parseToggle(line string) (int, int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected \"x y\", got %q", line)
	}
	x, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid x: %w", err)
	}
	y, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid y: %w", err)
	}
	return x, y, nil
}

// printer serialises output from the stdin loop and change notifications.
type printer struct {
	lock sync.Mutex
	w    io.Writer
}

func (p *printer) printf(format string, args ...interface{}) {
	p.lock.Lock()
	defer p.lock.Unlock()
	_, _ = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) render(view viewmodel.View) {
	if !view.Loaded {
		if view.Err != nil {
			p.printf("[%s] %v\n", view.State, view.Err)
		} else {
			p.printf("[%s]\n", view.State)
		}
		return
	}
	p.printf("[%s] %d/%d on\n%s", view.State, view.Board.OnCount(), view.Board.Width()*view.Board.Height(), view.Board.String())
}
