// Package viewmodel keeps a local board in step with a shared board document and turns toggles into writes.
package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/astromechza/pixelboard/pkg/board"
	"github.com/astromechza/pixelboard/pkg/boarddoc"
	"github.com/astromechza/pixelboard/pkg/session"
)

// ErrNotConnected rejects toggles issued before the document handle is available.
var ErrNotConnected = errors.New("not connected to a board")

// Session is the part of session.Session the adapter needs.
type Session interface {
	Start(ctx context.Context) (*boarddoc.Document, error)
	OnChanged(doc *boarddoc.Document, fn func()) func()
	OnStateChanged(fn func(session.State)) func()
	State() session.State
	Err() error
}

// View is everything a renderer needs. Cells must not be drawn until Loaded is true.
type View struct {
	Board  board.Board
	Loaded bool
	State  session.State
	Err    error
}

type Adapter struct {
	// reprojectLock orders snapshot-and-store so the last stored board is never older than the document.
	reprojectLock sync.Mutex

	lock      sync.Mutex
	board     board.Board
	loaded    bool
	state     session.State
	err       error
	doc       *boarddoc.Document
	observers map[uint64]func(View)
	next      uint64
	cancels   []func()
}

func NewAdapter() *Adapter {
	return &Adapter{observers: make(map[uint64]func(View))}
}

// NewPreset returns an adapter that is already loaded with b and has no document behind it.
func NewPreset(b board.Board) *Adapter {
	a := NewAdapter()
	a.board = b
	a.loaded = true
	return a
}

// Initialize starts the session and binds a handler that rebuilds the board from a full snapshot on every change.
func (a *Adapter) Initialize(ctx context.Context, s Session) error {
	a.cancels = append(a.cancels, s.OnStateChanged(func(state session.State) {
		a.setState(state, s.Err())
	}))
	a.setState(s.State(), s.Err())

	doc, err := s.Start(ctx)
	if err != nil {
		a.setState(s.State(), err)
		return err
	}

	// OnChanged seeds the board before toggles can reach the document
	a.cancels = append(a.cancels, s.OnChanged(doc, func() {
		a.reproject(doc)
	}))

	a.lock.Lock()
	a.doc = doc
	a.lock.Unlock()
	return nil
}

// reproject rebuilds the board from a full snapshot. Listeners run on whichever goroutine changed the document, so
// snapshots are taken and stored one at a time; observers are called outside that lock and always read the stored
// board.
func (a *Adapter) reproject(doc *boarddoc.Document) {
	a.reprojectLock.Lock()
	snap, err := doc.Snapshot()
	if err != nil {
		a.reprojectLock.Unlock()
		slog.Error("failed to read board snapshot", "err", err)
		return
	}
	a.lock.Lock()
	a.board = snap
	a.loaded = true
	a.lock.Unlock()
	a.reprojectLock.Unlock()
	a.notify()
}

func (a *Adapter) setState(state session.State, err error) {
	a.lock.Lock()
	if a.state == state && a.err == err {
		a.lock.Unlock()
		return
	}
	a.state = state
	a.err = err
	a.lock.Unlock()
	a.notify()
}

// ToggleCell writes the opposite of the currently displayed value at (x,y) into the document. The local board only
// changes once the change notification comes back.
func (a *Adapter) ToggleCell(x, y int) error {
	a.lock.Lock()
	doc, current := a.doc, a.board
	a.lock.Unlock()

	if doc == nil {
		return ErrNotConnected
	}
	v, err := current.Get(x, y)
	if err != nil {
		return err
	}
	if err := doc.SetCell(x, y, 1-v); err != nil {
		return fmt.Errorf("failed to toggle (%d,%d): %w", x, y, err)
	}
	return nil
}

func (a *Adapter) Board() board.Board {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.board
}

func (a *Adapter) Loaded() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.loaded
}

func (a *Adapter) View() View {
	a.lock.Lock()
	defer a.lock.Unlock()
	return View{Board: a.board, Loaded: a.loaded, State: a.state, Err: a.err}
}

// Subscribe calls fn with the new view after every re-projection or connection state change. The returned func
// removes it.
func (a *Adapter) Subscribe(fn func(View)) func() {
	a.lock.Lock()
	defer a.lock.Unlock()
	id := a.next
	a.next++
	a.observers[id] = fn
	return func() {
		a.lock.Lock()
		defer a.lock.Unlock()
		delete(a.observers, id)
	}
}

func (a *Adapter) notify() {
	a.lock.Lock()
	view := View{Board: a.board, Loaded: a.loaded, State: a.state, Err: a.err}
	fns := make([]func(View), 0, len(a.observers))
	for _, fn := range a.observers {
		fns = append(fns, fn)
	}
	a.lock.Unlock()
	for _, fn := range fns {
		fn(view)
	}
}

// Close unbinds the adapter from the session. It does not close the session.
func (a *Adapter) Close() {
	for _, cancel := range a.cancels {
		cancel()
	}
	a.cancels = nil
}
