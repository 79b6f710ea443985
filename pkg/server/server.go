// Package server is the relay that holds the authoritative copy of every board and syncs it with clients over
// websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/pixelboard/pkg/board"
	"github.com/astromechza/pixelboard/pkg/boarddoc"
	"github.com/astromechza/pixelboard/pkg/store"
	"github.com/astromechza/pixelboard/pkg/syncproto"
)

// Publisher receives the saved board after every change a client made on this instance.
type Publisher interface {
	Publish(ctx context.Context, board string, content []byte) error
}

type Server struct {
	store     store.Store
	publisher Publisher
	cache     *sync.Map
	loadLock  sync.Mutex
	upgrader  websocket.Upgrader

	// boards waiting for RunPublisher, keyed by id so repeated changes coalesce
	pendingLock sync.Mutex
	pending     map[string]*boarddoc.Document
	wake        chan struct{}
}

func New(st store.Store, publisher Publisher) *Server {
	return &Server{
		store:     st,
		publisher: publisher,
		cache:     new(sync.Map),
		pending:   make(map[string]*boarddoc.Document),
		wake:      make(chan struct{}, 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodPost).Path("/boards").HandlerFunc(s.createBoard)
	r.Methods(http.MethodGet).Path("/boards/{board}/latest").HandlerFunc(s.getLatest)
	r.Methods(http.MethodGet).Path("/boards/{board}/sync").HandlerFunc(s.syncBoard)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
	})
	return r
}

type CreateRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type CreateResponse struct {
	ID string `json:"id"`
}

func (s *Server) createBoard(writer http.ResponseWriter, request *http.Request) {
	inputs := CreateRequest{Width: board.DefaultWidth, Height: board.DefaultHeight}
	if err := json.NewDecoder(request.Body).Decode(&inputs); err != nil && !errors.Is(err, io.EOF) {
		slog.Error("failed to decode body", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if inputs.Width < 1 || inputs.Height < 1 || inputs.Width > board.MaxDimension || inputs.Height > board.MaxDimension {
		slog.Error("rejecting board dimensions", "width", inputs.Width, "height", inputs.Height)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	doc, err := boarddoc.New(inputs.Width, inputs.Height)
	if err != nil {
		slog.Error("failed to create doc", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	id := uuid.NewString()
	if err := s.store.Create(request.Context(), id, doc.Save()); err != nil {
		slog.Error("failed to persist board", "board", id, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.remember(id, doc)
	slog.Info("created board", "board", id, "width", inputs.Width, "height", inputs.Height)

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(writer).Encode(CreateResponse{ID: id}); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) getLatest(writer http.ResponseWriter, request *http.Request) {
	doc, ok := s.lookupForRequest(writer, request)
	if !ok {
		return
	}
	writer.Header().Add("Content-Type", "application/octet-stream")
	if _, err := writer.Write(doc.Save()); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) syncBoard(writer http.ResponseWriter, request *http.Request) {
	doc, ok := s.lookupForRequest(writer, request)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	id := mux.Vars(request)["board"]
	slog.Info("syncing", "board", id, "remote", request.RemoteAddr)
	if err := syncproto.Sync(request.Context(), conn, doc); err != nil {
		slog.Error("failed to sync", "board", id, "err", err)
	}
}

func (s *Server) lookupForRequest(writer http.ResponseWriter, request *http.Request) (*boarddoc.Document, bool) {
	id := mux.Vars(request)["board"]
	doc, err := s.Lookup(request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writer.WriteHeader(http.StatusNotFound)
			return nil, false
		}
		slog.Error("failed to load board", "board", id, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return nil, false
	}
	return doc, true
}

// Lookup returns the cached document for id, loading it from the store the first time it is asked for.
func (s *Server) Lookup(ctx context.Context, id string) (*boarddoc.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	if raw, ok := s.cache.Load(id); ok {
		return raw.(*boarddoc.Document), nil
	}

	s.loadLock.Lock()
	defer s.loadLock.Unlock()
	if raw, ok := s.cache.Load(id); ok {
		return raw.(*boarddoc.Document), nil
	}
	content, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := boarddoc.Load(content)
	if err != nil {
		return nil, err
	}
	s.remember(id, doc)
	slog.Info("loaded board", "board", id, "heads", doc.Heads())
	return doc, nil
}

func (s *Server) remember(id string, doc *boarddoc.Document) {
	s.cache.Store(id, doc)
	if s.publisher == nil {
		return
	}
	doc.OnChanged(func(origin boarddoc.Origin) {
		// merged changes came from the relay in the first place
		if origin == boarddoc.OriginMerge {
			return
		}
		s.enqueuePublish(id, doc)
	})
}

// enqueuePublish never blocks: it runs inside sync read loops and local writes.
func (s *Server) enqueuePublish(id string, doc *boarddoc.Document) {
	s.pendingLock.Lock()
	s.pending[id] = doc
	s.pendingLock.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunPublisher hands changed boards to the publisher until ctx is done. Boards that change again while a publish is
// in flight are sent once more afterwards with their latest content.
func (s *Server) RunPublisher(ctx context.Context) {
	for {
		select {
		case <-s.wake:
			s.flushPublishes(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) flushPublishes(ctx context.Context) {
	s.pendingLock.Lock()
	batch := s.pending
	s.pending = make(map[string]*boarddoc.Document)
	s.pendingLock.Unlock()
	for id, doc := range batch {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.publisher.Publish(pctx, id, doc.Save()); err != nil {
			slog.Error("failed to publish change", "board", id, "err", err)
		}
		cancel()
	}
}

// ApplyRelayed merges a board published by another instance into the local copy.
func (s *Server) ApplyRelayed(ctx context.Context, id string, content []byte) error {
	doc, err := s.Lookup(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		// the other instance may use a store we cannot see
		if doc, err = boarddoc.Load(content); err != nil {
			return err
		}
		if err := s.store.Create(ctx, id, content); err != nil {
			return err
		}
		s.remember(id, doc)
		return nil
	} else if err != nil {
		return err
	}
	if changed, err := doc.MergeSaved(content); err != nil {
		return fmt.Errorf("failed to merge relayed board: %w", err)
	} else if changed {
		slog.Info("merged relayed board", "board", id, "heads", doc.Heads())
	}
	return nil
}

// Backup writes every cached board whose content changed since the last backup.
func (s *Server) Backup(ctx context.Context) {
	s.cache.Range(func(key, value any) bool {
		id, doc := key.(string), value.(*boarddoc.Document)
		if changed, err := s.store.Save(ctx, id, doc.Save()); err != nil {
			slog.Error("failed to backup board", "board", id, "err", err)
		} else if changed {
			slog.Info("backed up", "board", id, "heads", doc.Heads())
		}
		return true
	})
}

func (s *Server) RunBackups(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Backup(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Range calls fn for every cached board until it returns false.
func (s *Server) Range(fn func(id string, doc *boarddoc.Document) bool) {
	s.cache.Range(func(key, value any) bool {
		return fn(key.(string), value.(*boarddoc.Document))
	})
}
