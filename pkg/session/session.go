// Package session owns the connection between a client and one board on the relay server: it creates or joins
// the board named by a Location, keeps a live sync connection open and reports the connection state.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/astromechza/pixelboard/pkg/board"
	"github.com/astromechza/pixelboard/pkg/boarddoc"
	"github.com/astromechza/pixelboard/pkg/syncproto"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrDocumentNotFound = errors.New("document not found")

// ConnectionError is returned by Start when the relay could not be reached or the document does not exist.
type ConnectionError struct {
	DocumentID string
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("failed to connect: %v", e.Err)
	}
	return fmt.Sprintf("failed to connect to document %s: %v", e.DocumentID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type Options struct {
	// BaseURL is where the relay server lives.
	BaseURL  *url.URL
	Location Location
	// Width and Height are only used when a new document is created.
	Width  int
	Height int

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// ConnectTimeout bounds Start. Zero means only the caller's context applies.
	ConnectTimeout time.Duration
	// MaxRetries is how many times Start retries after the first failed attempt.
	MaxRetries uint64
	// ReconnectMaxInterval caps the wait between background reconnects.
	ReconnectMaxInterval time.Duration
}

type Session struct {
	opts Options

	lock           sync.Mutex
	state          State
	err            error
	id             string
	doc            *boarddoc.Document
	started        bool
	stateListeners map[uint64]func(State)
	nextListener   uint64
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func New(opts Options) *Session {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Width == 0 {
		opts.Width = board.DefaultWidth
	}
	if opts.Height == 0 {
		opts.Height = board.DefaultHeight
	}
	if opts.ReconnectMaxInterval == 0 {
		opts.ReconnectMaxInterval = 30 * time.Second
	}
	return &Session{opts: opts, stateListeners: make(map[uint64]func(State))}
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Err is the reason the session failed, if it did.
func (s *Session) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

// ID is the document id once Start has resolved it.
func (s *Session) ID() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.id
}

// OnStateChanged registers fn for every connection state transition. The returned func removes it.
func (s *Session) OnStateChanged(fn func(State)) func() {
	s.lock.Lock()
	defer s.lock.Unlock()
	id := s.nextListener
	s.nextListener++
	s.stateListeners[id] = fn
	return func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		delete(s.stateListeners, id)
	}
}

func (s *Session) setState(state State, err error) {
	s.lock.Lock()
	if s.state == state {
		s.lock.Unlock()
		return
	}
	s.state = state
	s.err = err
	fns := make([]func(State), 0, len(s.stateListeners))
	for _, fn := range s.stateListeners {
		fns = append(fns, fn)
	}
	s.lock.Unlock()
	slog.Info("session state changed", "state", state)
	for _, fn := range fns {
		fn(state)
	}
}

// Start creates a new document when the location has no fragment, or joins the one it names, and returns the live
// handle. Creating writes the new id into the location. Failures are reported as *ConnectionError and leave the
// session Failed.
func (s *Session) Start(ctx context.Context) (*boarddoc.Document, error) {
	s.lock.Lock()
	if s.started {
		s.lock.Unlock()
		return nil, errors.New("session already started")
	}
	s.started = true
	s.lock.Unlock()

	s.setState(Connecting, nil)
	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	id := s.opts.Location.Fragment()
	created := false
	var doc *boarddoc.Document
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.opts.MaxRetries), ctx)
	err := backoff.Retry(func() error {
		if id == "" {
			newID, err := s.create(ctx)
			if err != nil {
				slog.Warn("failed to create document", "err", err)
				return err
			}
			id, created = newID, true
		}
		d, err := s.fetch(ctx, id)
		if err != nil {
			slog.Warn("failed to fetch document", "id", id, "err", err)
			return err
		}
		doc = d
		return nil
	}, b)
	if err != nil {
		cerr := &ConnectionError{DocumentID: id, Err: err}
		s.setState(Failed, cerr)
		return nil, cerr
	}

	if err := doc.SetActorID(boarddoc.NewActorID()); err != nil {
		cerr := &ConnectionError{DocumentID: id, Err: fmt.Errorf("failed to set actor id: %w", err)}
		s.setState(Failed, cerr)
		return nil, cerr
	}
	if created {
		s.opts.Location.SetFragment(id)
	}

	syncCtx, cancel := context.WithCancel(context.Background())
	s.lock.Lock()
	s.id = id
	s.doc = doc
	s.cancel = cancel
	s.lock.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.syncContinuously(syncCtx, id, doc)
	}()

	slog.Info("established board doc", "id", id, "created", created, "heads", doc.Heads())
	s.setState(Connected, nil)
	return doc, nil
}

// OnChanged runs fn after every change to doc, wherever it came from, and once straight away because the document
// may have loaded before anybody was listening. The returned func removes it.
func (s *Session) OnChanged(doc *boarddoc.Document, fn func()) func() {
	cancel := doc.OnChanged(func(boarddoc.Origin) { fn() })
	fn()
	return cancel
}

// Close stops the background sync and leaves the session Disconnected.
func (s *Session) Close() error {
	s.lock.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lock.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.setState(Disconnected, nil)
	return nil
}

func (s *Session) boardsURL(parts ...string) *url.URL {
	return s.opts.BaseURL.JoinPath(append([]string{"boards"}, parts...)...)
}

func (s *Session) create(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"width":  s.opts.Width,
		"height": s.opts.Height,
	})
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to encode body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.boardsURL().String(), bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", statusError(resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to read body from post: %w", err)
	}
	if out.ID == "" {
		return "", backoff.Permanent(errors.New("server returned an empty document id"))
	}
	return out.ID, nil
}

func (s *Session) fetch(ctx context.Context, id string) (*boarddoc.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.boardsURL(id, "latest").String(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, backoff.Permanent(ErrDocumentNotFound)
	default:
		return nil, statusError(resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body from get: %w", err)
	}
	doc, err := boarddoc.Load(raw)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if _, err := doc.Snapshot(); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("document does not hold a board: %w", err))
	}
	return doc, nil
}

// statusError retries server errors and gives up on anything the client got wrong.
func statusError(code int) error {
	err := fmt.Errorf("unexpected status code: %d", code)
	if code >= 400 && code < 500 {
		return backoff.Permanent(err)
	}
	return err
}

func (s *Session) syncContinuously(ctx context.Context, id string, doc *boarddoc.Document) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = s.opts.ReconnectMaxInterval
	b.MaxElapsedTime = 0
	for {
		connected, err := s.connectAndSync(ctx, id, doc)
		if ctx.Err() != nil {
			slog.Info("stopping scheduled sync")
			return
		}
		if connected {
			b.Reset()
		}
		if err != nil {
			slog.Error("failed to sync", "id", id, "err", err)
		} else {
			slog.Info("sync connection closed", "id", id)
		}
		t := time.NewTimer(b.NextBackOff())
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scheduled sync")
			return
		}
	}
}

func (s *Session) connectAndSync(ctx context.Context, id string, doc *boarddoc.Document) (bool, error) {
	u := s.boardsURL(id, "sync")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := s.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	if err := syncproto.Sync(ctx, conn, doc); err != nil {
		return true, fmt.Errorf("failed to sync: %w", err)
	}
	return true, nil
}
