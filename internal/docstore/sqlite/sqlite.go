// Package sqlite is a docstore.Store kept in a SQLite table, with in-process
// change notification for watchers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vbonduro/where2skate/internal/docstore"
)

// ErrClosed is returned by every operation once the store has been closed.
var ErrClosed = errors.New("document store closed")

type Store struct {
	db     *sql.DB
	logger *slog.Logger
	hub    *hub

	clockMu sync.Mutex
	now     func() time.Time
	last    time.Time
}

type Option func(*Store)

// WithClock replaces the wall clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store over db. The documents table must already exist (see
// package db).
func New(db *sql.DB, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: logger.With("component", "docstore"),
		hub:    newHub(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// serverTime returns a timestamp strictly after every one handed out before.
func (s *Store) serverTime() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	if s.hub.isClosed() {
		return "", ErrClosed
	}
	raw, err := encodeData(data, s.serverTime())
	if err != nil {
		return "", err
	}

	id := ulid.Make().String()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
	`, collection, id, raw); err != nil {
		return "", fmt.Errorf("failed to add document: %w", err)
	}

	s.logger.Debug("document added", "collection", collection, "id", id)
	s.hub.publish(collection, id)
	return id, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if s.hub.isClosed() {
		return ErrClosed
	}
	raw, err := encodeData(data, s.serverTime())
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = excluded.data,
			updated_at = datetime('now')
	`, collection, id, raw); err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}

	s.logger.Debug("document set", "collection", collection, "id", id)
	s.hub.publish(collection, id)
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if s.hub.isClosed() {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = ? AND id = ?
	`, collection, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	s.logger.Debug("document deleted", "collection", collection, "id", id)
	s.hub.publish(collection, id)
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if s.hub.isClosed() {
		return nil, ErrClosed
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE collection = ? AND id = ?
	`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	data, err := decodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("document %s/%s: %w", collection, id, err)
	}
	return &docstore.Document{ID: id, Data: data}, nil
}

func (s *Store) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if s.hub.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data FROM documents WHERE collection = ? ORDER BY seq ASC
	`, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", "error", err)
		}
	}()

	docs := make([]docstore.Document, 0)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", q.Collection, id, err)
		}
		if q.OrderBy != "" {
			if _, ok := data[q.OrderBy]; !ok {
				continue
			}
		}
		docs = append(docs, docstore.Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	if q.OrderBy != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			c := docstore.Compare(docs[i].Data[q.OrderBy], docs[j].Data[q.OrderBy])
			if q.Direction == docstore.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	return docs, nil
}

func (s *Store) WatchQuery(ctx context.Context, q docstore.Query) docstore.QueryWatcher {
	w := &queryWatcher{
		watcher: s.newWatcher(ctx, q.Collection, ""),
		store:   s,
		query:   q,
	}
	s.logger.Debug("query watch started", "collection", q.Collection)
	return w
}

func (s *Store) WatchDocument(ctx context.Context, collection, id string) docstore.DocumentWatcher {
	w := &documentWatcher{
		watcher: s.newWatcher(ctx, collection, id),
		store:   s,
	}
	s.logger.Debug("document watch started", "collection", collection, "id", id)
	return w
}

// Close wakes every watcher with ErrClosed. The underlying *sql.DB is owned by
// the caller and stays open.
func (s *Store) Close() error {
	s.hub.close()
	return nil
}

func (s *Store) newWatcher(ctx context.Context, collection, id string) *watcher {
	w := &watcher{
		ctx:        ctx,
		hub:        s.hub,
		collection: collection,
		docID:      id,
		notify:     make(chan struct{}, 1),
		stopped:    make(chan struct{}),
	}
	s.hub.register(w)
	return w
}

// watcher is registered with the hub before its first snapshot is read so no
// write between registration and the first read is lost.
type watcher struct {
	ctx        context.Context
	hub        *hub
	collection string
	docID      string
	notify     chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
	started    bool
}

// wait blocks until the first snapshot may be read or the next change.
func (w *watcher) wait() error {
	select {
	case <-w.stopped:
		return docstore.ErrWatcherStopped
	default:
	}
	if w.hub.isClosed() {
		return ErrClosed
	}
	if !w.started {
		w.started = true
		return nil
	}
	select {
	case <-w.notify:
		if w.hub.isClosed() {
			return ErrClosed
		}
		return nil
	case <-w.stopped:
		return docstore.ErrWatcherStopped
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.hub.unregister(w)
	})
}

type queryWatcher struct {
	*watcher
	store *Store
	query docstore.Query
}

func (w *queryWatcher) Next() ([]docstore.Document, error) {
	if err := w.wait(); err != nil {
		return nil, err
	}
	return w.store.List(w.ctx, w.query)
}

type documentWatcher struct {
	*watcher
	store *Store
}

func (w *documentWatcher) Next() (*docstore.Document, error) {
	if err := w.wait(); err != nil {
		return nil, err
	}
	return w.store.Get(w.ctx, w.collection, w.docID)
}

type hub struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
	closed   bool
}

func newHub() *hub {
	return &hub{watchers: make(map[*watcher]struct{})}
}

func (h *hub) register(w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers[w] = struct{}{}
}

func (h *hub) unregister(w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers, w)
}

// publish wakes the watchers of the touched collection. Pending wake-ups
// collapse into one: watchers always re-read the full current state.
func (h *hub) publish(collection, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		if w.collection != collection || (w.docID != "" && w.docID != id) {
			continue
		}
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

func (h *hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for w := range h.watchers {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

// size reports the number of registered watchers.
func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// ActiveWatchers is the number of watchers that have not been stopped.
func (s *Store) ActiveWatchers() int {
	return s.hub.size()
}
