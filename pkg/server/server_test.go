package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/pixelboard/pkg/boarddoc"
	"github.com/astromechza/pixelboard/pkg/store"
)

type recordingPublisher struct {
	lock   sync.Mutex
	boards []string
}

func (p *recordingPublisher) Publish(ctx context.Context, board string, content []byte) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.boards = append(p.boards, board)
	return nil
}

func newTestServer(t *testing.T, publisher Publisher) (*Server, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "boards.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Init(context.Background()))
	return New(st, publisher), st
}

func createBoard(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/boards", bytes.NewBufferString(body))
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	return recorder
}

func TestCreateAndFetchBoard(t *testing.T) {
	s, st := newTestServer(t, nil)
	h := s.Handler()

	recorder := createBoard(t, h, "")
	require.Equal(t, http.StatusCreated, recorder.Code)
	var created CreateResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&created))
	_, err := uuid.Parse(created.ID)
	require.NoError(t, err)

	_, err = st.Load(context.Background(), created.ID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/boards/"+created.ID+"/latest", nil)
	recorder = httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/octet-stream", recorder.Header().Get("Content-Type"))

	raw, err := io.ReadAll(recorder.Body)
	require.NoError(t, err)
	doc, err := boarddoc.Load(raw)
	require.NoError(t, err)
	snap, err := doc.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 8, snap.Width())
	assert.Equal(t, 8, snap.Height())
	assert.Equal(t, 0, snap.OnCount())
}

func TestCreateBoardDimensions(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"custom size", `{"width": 3, "height": 5}`, http.StatusCreated},
		{"zero width", `{"width": 0, "height": 5}`, http.StatusBadRequest},
		{"too large", `{"width": 65, "height": 5}`, http.StatusBadRequest},
		{"bad json", `{"width":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, createBoard(t, h, tc.body).Code)
		})
	}
}

func TestUnknownBoardIsNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	for _, path := range []string{
		"/boards/" + uuid.NewString() + "/latest",
		"/boards/" + uuid.NewString() + "/sync",
		"/boards/not-a-uuid/latest",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		recorder := httptest.NewRecorder()
		h.ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusNotFound, recorder.Code, path)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestLookupLoadsFromStore(t *testing.T) {
	s, st := newTestServer(t, nil)
	doc, err := boarddoc.New(2, 2)
	require.NoError(t, err)
	require.NoError(t, doc.SetCell(1, 0, 1))
	id := uuid.NewString()
	require.NoError(t, st.Create(context.Background(), id, doc.Save()))

	first, err := s.Lookup(context.Background(), id)
	require.NoError(t, err)
	second, err := s.Lookup(context.Background(), id)
	require.NoError(t, err)
	assert.Same(t, first, second)

	v, err := first.GetCell(1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestBackupPersistsChanges(t *testing.T) {
	s, st := newTestServer(t, nil)
	recorder := createBoard(t, s.Handler(), "")
	var created CreateResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&created))

	doc, err := s.Lookup(context.Background(), created.ID)
	require.NoError(t, err)
	require.NoError(t, doc.SetCell(4, 4, 1))
	s.Backup(context.Background())

	raw, err := st.Load(context.Background(), created.ID)
	require.NoError(t, err)
	restored, err := boarddoc.Load(raw)
	require.NoError(t, err)
	v, err := restored.GetCell(4, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestApplyRelayedMergesWithoutRepublishing(t *testing.T) {
	publisher := &recordingPublisher{}
	s, _ := newTestServer(t, publisher)
	recorder := createBoard(t, s.Handler(), "")
	var created CreateResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&created))

	local, err := s.Lookup(context.Background(), created.ID)
	require.NoError(t, err)
	remote, err := boarddoc.Load(local.Save())
	require.NoError(t, err)
	require.NoError(t, remote.SetActorID(boarddoc.NewActorID()))
	require.NoError(t, remote.SetCell(0, 7, 1))

	require.NoError(t, s.ApplyRelayed(context.Background(), created.ID, remote.Save()))
	v, err := local.GetCell(0, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Empty(t, publisher.boards)

	s.flushPublishes(context.Background())
	assert.Empty(t, publisher.boards)

	require.NoError(t, local.SetCell(1, 1, 1))
	s.flushPublishes(context.Background())
	assert.Equal(t, []string{created.ID}, publisher.boards)
}

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	recordingPublisher
	started chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, board string, content []byte) error {
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-p.release
	return p.recordingPublisher.Publish(ctx, board, content)
}

func TestSlowPublisherDoesNotBlockChanges(t *testing.T) {
	publisher := &blockingPublisher{started: make(chan struct{}, 1), release: make(chan struct{})}
	s, _ := newTestServer(t, publisher)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunPublisher(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	recorder := createBoard(t, s.Handler(), "")
	var created CreateResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&created))
	doc, err := s.Lookup(context.Background(), created.ID)
	require.NoError(t, err)

	require.NoError(t, doc.SetCell(0, 0, 1))
	select {
	case <-publisher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("publish never started")
	}

	// the publisher is stuck, yet further writes return straight away and coalesce
	for x := 1; x < 8; x++ {
		require.NoError(t, doc.SetCell(x, 0, 1))
	}
	close(publisher.release)

	require.Eventually(t, func() bool {
		publisher.lock.Lock()
		defer publisher.lock.Unlock()
		return len(publisher.boards) == 2
	}, 5*time.Second, 10*time.Millisecond)
	publisher.lock.Lock()
	assert.Equal(t, []string{created.ID, created.ID}, publisher.boards)
	publisher.lock.Unlock()
}

func TestApplyRelayedUnknownBoard(t *testing.T) {
	s, st := newTestServer(t, nil)
	remote, err := boarddoc.New(2, 2)
	require.NoError(t, err)
	id := uuid.NewString()

	require.NoError(t, s.ApplyRelayed(context.Background(), id, remote.Save()))
	_, err = st.Load(context.Background(), id)
	require.NoError(t, err)
	_, err = s.Lookup(context.Background(), id)
	require.NoError(t, err)
}
