// Package boarddoc holds a pixel board inside an automerge document so that it can be shared and synced between
// peers. The root map carries "width", "height" and a row-major "cells" list of 0/1 integers.
package boarddoc

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/google/uuid"

	"github.com/astromechza/pixelboard/pkg/board"
)

const (
	keyWidth  = "width"
	keyHeight = "height"
	keyCells  = "cells"
)

// Origin says where a change to the document came from.
type Origin int

const (
	OriginLocal Origin = iota
	OriginSync
	OriginMerge
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginSync:
		return "sync"
	case OriginMerge:
		return "merge"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

type Listener func(origin Origin)

// Document is the live handle on a shared board. All access to the underlying automerge doc goes through the
// document lock and listeners are always called after the lock has been released.
type Document struct {
	mu  sync.Mutex
	doc *automerge.Doc

	listenersLock sync.Mutex
	listeners     map[uint64]Listener
	nextListener  uint64
}

// NewActorID returns a random hex actor id suitable for automerge.
func NewActorID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// New creates a fresh document holding a width x height board with every cell off.
func New(width, height int) (*Document, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid board dimensions %dx%d", width, height)
	}
	doc := automerge.New()
	if err := doc.Path(keyWidth).Set(int64(width)); err != nil {
		return nil, fmt.Errorf("failed to set width: %w", err)
	}
	if err := doc.Path(keyHeight).Set(int64(height)); err != nil {
		return nil, fmt.Errorf("failed to set height: %w", err)
	}
	if err := doc.Path(keyCells).Set(automerge.NewList()); err != nil {
		return nil, fmt.Errorf("failed to create cells: %w", err)
	}
	cells := make([]interface{}, width*height)
	for i := range cells {
		cells[i] = int64(0)
	}
	if err := doc.Path(keyCells).List().Append(cells...); err != nil {
		return nil, fmt.Errorf("failed to fill cells: %w", err)
	}
	if _, err := doc.Commit("seed", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return nil, fmt.Errorf("failed to commit seed: %w", err)
	}
	return Wrap(doc), nil
}

// Load restores a document from the bytes produced by Save.
func Load(raw []byte) (*Document, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	return Wrap(doc), nil
}

func Wrap(doc *automerge.Doc) *Document {
	return &Document{doc: doc, listeners: make(map[uint64]Listener)}
}

func (d *Document) ActorID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.ActorID()
}

func (d *Document) SetActorID(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.SetActorID(id)
}

func (d *Document) Save() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save()
}

func (d *Document) Heads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return hashStrings(d.doc.Heads())
}

// Dimensions returns the width and height recorded in the document.
func (d *Document) Dimensions() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return dimensions(d.doc)
}

func (d *Document) GetCell(x, y int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, err := cellIndex(d.doc, x, y)
	if err != nil {
		return 0, err
	}
	v, err := automerge.As[int64](d.doc.Path(keyCells).List().Get(idx))
	if err != nil {
		return 0, fmt.Errorf("failed to read cell (%d,%d): %w", x, y, err)
	}
	return int(v), nil
}

// SetCell writes v at (x,y) and commits the change. Listeners are told about it with OriginLocal.
func (d *Document) SetCell(x, y, v int) error {
	if v != 0 && v != 1 {
		return fmt.Errorf("%w: got %d", board.ErrInvalidValue, v)
	}
	changed, err := d.mutate(func(doc *automerge.Doc) error {
		idx, err := cellIndex(doc, x, y)
		if err != nil {
			return err
		}
		if err := doc.Path(keyCells).List().Set(idx, int64(v)); err != nil {
			return fmt.Errorf("failed to set cell (%d,%d): %w", x, y, err)
		}
		if _, err := doc.Commit(fmt.Sprintf("set %d,%d=%d", x, y, v)); err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		d.notify(OriginLocal)
	}
	return nil
}

// Snapshot reads the whole board out of the document in one pass.
func (d *Document) Snapshot() (board.Board, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return snapshot(d.doc)
}

// OnChanged registers fn to run after every change that moves the document heads. The returned func removes it.
func (d *Document) OnChanged(fn Listener) func() {
	d.listenersLock.Lock()
	defer d.listenersLock.Unlock()
	id := d.nextListener
	d.nextListener++
	d.listeners[id] = fn
	return func() {
		d.listenersLock.Lock()
		defer d.listenersLock.Unlock()
		delete(d.listeners, id)
	}
}

// MergeSaved merges a saved copy of the same board (for example from another server instance) into this one.
func (d *Document) MergeSaved(raw []byte) (bool, error) {
	other, err := automerge.Load(raw)
	if err != nil {
		return false, fmt.Errorf("failed to load doc: %w", err)
	}
	changed, err := d.mutate(func(doc *automerge.Doc) error {
		if _, err := doc.Merge(other); err != nil {
			return fmt.Errorf("failed to merge: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		d.notify(OriginMerge)
	}
	return changed, nil
}

// mutate runs fn under the lock and reports whether the heads moved.
func (d *Document) mutate(fn func(doc *automerge.Doc) error) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	before := d.doc.Heads()
	if err := fn(d.doc); err != nil {
		return false, err
	}
	return !sameHeads(before, d.doc.Heads()), nil
}

func (d *Document) notify(origin Origin) {
	d.listenersLock.Lock()
	fns := make([]Listener, 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.listenersLock.Unlock()
	for _, fn := range fns {
		fn(origin)
	}
}

func dimensions(doc *automerge.Doc) (int, int, error) {
	width, err := automerge.As[int64](doc.Path(keyWidth).Get())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read width: %w", err)
	}
	height, err := automerge.As[int64](doc.Path(keyHeight).Get())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read height: %w", err)
	}
	return int(width), int(height), nil
}

func cellIndex(doc *automerge.Doc, x, y int) (int, error) {
	width, height, err := dimensions(doc)
	if err != nil {
		return 0, err
	}
	if x < 0 || y < 0 || x >= width || y >= height {
		return 0, fmt.Errorf("%w: (%d,%d) outside %dx%d board", board.ErrOutOfBounds, x, y, width, height)
	}
	return y*width + x, nil
}

func snapshot(doc *automerge.Doc) (board.Board, error) {
	width, height, err := dimensions(doc)
	if err != nil {
		return board.Board{}, err
	}
	values, err := doc.Path(keyCells).List().Values()
	if err != nil {
		return board.Board{}, fmt.Errorf("failed to read cells: %w", err)
	}
	flat := make([]int64, len(values))
	for i, value := range values {
		if flat[i], err = automerge.As[int64](value); err != nil {
			return board.Board{}, fmt.Errorf("failed to read cell %d: %w", i, err)
		}
	}
	return board.FromFlat(width, height, flat)
}

func sameHeads(a, b []automerge.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[automerge.ChangeHash]bool, len(a))
	for _, h := range a {
		seen[h] = true
	}
	for _, h := range b {
		if !seen[h] {
			return false
		}
	}
	return true
}

func hashStrings(hashes []automerge.ChangeHash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}
