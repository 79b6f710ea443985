package syncproto

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/pixelboard/pkg/boarddoc"
)

func serveDoc(t *testing.T, doc *boarddoc.Document) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = Sync(r.Context(), conn, doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestSyncPropagatesBothWays(t *testing.T) {
	serverDoc, err := boarddoc.New(4, 4)
	require.NoError(t, err)
	clientDoc, err := boarddoc.Load(serverDoc.Save())
	require.NoError(t, err)
	require.NoError(t, clientDoc.SetActorID(boarddoc.NewActorID()))

	srv := serveDoc(t, serverDoc)
	conn := dial(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Sync(ctx, conn, clientDoc) }()

	require.NoError(t, clientDoc.SetCell(1, 2, 1))
	require.Eventually(t, func() bool {
		v, err := serverDoc.GetCell(1, 2)
		return err == nil && v == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, serverDoc.SetCell(3, 3, 1))
	require.Eventually(t, func() bool {
		v, err := clientDoc.GetCell(3, 3)
		return err == nil && v == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not stop after cancel")
	}
}

func TestSyncReturnsWhenConnectionCloses(t *testing.T) {
	serverDoc, err := boarddoc.New(2, 2)
	require.NoError(t, err)
	srv := serveDoc(t, serverDoc)
	conn := dial(t, srv)

	clientDoc, err := boarddoc.Load(serverDoc.Save())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- Sync(context.Background(), conn, clientDoc) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not stop after the connection closed")
	}
}
