// Package syncproto runs the automerge sync protocol for a board document over a websocket connection.
package syncproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/astromechza/pixelboard/pkg/boarddoc"
)

// FlushInterval is how often pending messages are generated even when nothing poked the writer.
var FlushInterval = time.Second

func readAndReceiveMessage(conn *websocket.Conn, peer *boarddoc.SyncPeer) error {
	mt, p, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	switch mt {
	case websocket.BinaryMessage:
		if err := peer.Receive(p); err != nil {
			return fmt.Errorf("failed to receive message: %w", err)
		}
	default:
	}
	return nil
}

func generateAndWriteMessages(conn *websocket.Conn, peer *boarddoc.SyncPeer) error {
	for {
		msg, ok := peer.Generate()
		if !ok {
			return nil
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
}

// Sync keeps doc in sync with the peer on the other end of conn until the context is cancelled or the connection
// closes. A normal close or a cancelled context returns nil.
func Sync(ctx context.Context, conn *websocket.Conn, doc *boarddoc.Document) error {
	peer := doc.NewSyncPeer()

	// one slot is enough: the writer drains everything that is pending whenever it wakes
	poke := make(chan struct{}, 1)
	wake := func() {
		select {
		case poke <- struct{}{}:
		default:
		}
	}
	cancelListener := doc.OnChanged(func(boarddoc.Origin) { wake() })
	defer cancelListener()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	g.Go(func() error {
		for {
			if err := readAndReceiveMessage(conn, peer); err != nil {
				if gctx.Err() != nil || isClosed(err) {
					return errClosed
				}
				return err
			}
			// the remote side may be waiting for an answer even when nothing changed locally
			wake()
		}
	})

	g.Go(func() error {
		if err := generateAndWriteMessages(conn, peer); err != nil {
			if gctx.Err() != nil || isClosed(err) {
				return errClosed
			}
			return err
		}
		t := time.NewTicker(FlushInterval)
		defer t.Stop()
		for {
			select {
			case <-poke:
			case <-t.C:
			case <-gctx.Done():
				return nil
			}
			if err := generateAndWriteMessages(conn, peer); err != nil {
				if gctx.Err() != nil || isClosed(err) {
					return errClosed
				}
				return err
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errClosed) {
		return err
	}
	return nil
}

var errClosed = errors.New("connection closed")

func isClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		slog.Debug("connection closed", "code", ce.Code, "text", ce.Text)
		return true
	}
	return false
}
