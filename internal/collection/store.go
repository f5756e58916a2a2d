// Package collection keeps cart and wishlist state consistent across every
// store instance that shares a storage key.
//
// A store is the only writer of its key's durable copy for the mutations it
// performs. After each local mutation it persists the collection and
// announces it on the page channel and the shared channel. Other instances
// apply announcements they receive without persisting or announcing again,
// which is what keeps two instances from echoing a change back and forth.
package collection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/channel"
	"github.com/fjod/go_cart/cart-sync/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 2 * time.Second

// maxTrackedOrigins caps how many other instances a store remembers
// sequence numbers for. The least recently heard from is forgotten first.
const maxTrackedOrigins = 256

// Item is a collection row. ItemKey is its identity; rows that are not
// Valid are dropped whenever a collection is read from outside.
type Item interface {
	ItemKey() string
	Valid() bool
}

type Options struct {
	// Key names the collection in storage and on the channels.
	Key     string
	Storage storage.Storage
	// Page reaches other stores in the same process.
	Page channel.Channel
	// Shared reaches stores in other processes. Optional.
	Shared       channel.Channel
	Logger       *zap.Logger
	WriteTimeout time.Duration
}

// Snapshot is a committed state of a collection.
type Snapshot[T Item] struct {
	Items []T
	Count int
}

type Store[T Item] struct {
	key          string
	origin       string
	storage      storage.Storage
	page         channel.Channel
	shared       channel.Channel
	logger       *zap.Logger
	writeTimeout time.Duration
	count        func([]T) int

	// commitMu serializes commits so they persist, broadcast and reach
	// observers in the order they were applied.
	commitMu sync.Mutex
	// suppress counts external applies whose commit must skip persist and broadcast.
	suppress int
	// seq numbers this instance's broadcasts; lastSeq remembers the newest
	// event applied from recently heard instances, ordered by heard.
	seq     uint64
	lastSeq map[string]originMark
	heard   uint64

	mu         sync.RWMutex
	items      []T
	serialized []byte

	obsMu     sync.Mutex
	observers map[uint64]func(Snapshot[T])
	nextObs   uint64

	unsubscribe []func()
}

// Open builds a store, loads the durable copy and starts listening for
// changes made by other instances.
func Open[T Item](ctx context.Context, opts Options, count func([]T) int) *Store[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	origin := uuid.NewString()

	s := &Store[T]{
		key:          opts.Key,
		origin:       origin,
		storage:      opts.Storage,
		page:         opts.Page,
		shared:       opts.Shared,
		logger:       logger.With(zap.String("collection", opts.Key), zap.String("origin", origin)),
		writeTimeout: writeTimeout,
		count:        count,
		items:        make([]T, 0),
		serialized:   []byte("[]"),
		observers:    make(map[uint64]func(Snapshot[T])),
		lastSeq:      make(map[string]originMark),
	}

	s.Load(ctx)

	for _, ch := range []channel.Channel{s.page, s.shared} {
		if ch != nil {
			s.unsubscribe = append(s.unsubscribe, ch.Subscribe(s.reconcile))
		}
	}
	return s
}

// Origin identifies this instance on the channels.
func (s *Store[T]) Origin() string {
	return s.origin
}

// Load replaces the in-memory collection with the durable copy. A missing,
// unreadable or malformed copy loads as an empty collection.
func (s *Store[T]) Load(ctx context.Context) {
	items := s.read(ctx)

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	encoded, _ := encode(items)
	s.mu.Lock()
	if bytes.Equal(encoded, s.serialized) {
		s.mu.Unlock()
		return
	}
	s.items = items
	s.serialized = encoded
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Store[T]) read(ctx context.Context) []T {
	raw, err := s.storage.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to read collection, starting empty", zap.Error(err))
		}
		return make([]T, 0)
	}

	items, err := decode[T](raw)
	if err != nil {
		s.logger.Warn("malformed collection in storage, starting empty", zap.Error(err))
		return make([]T, 0)
	}
	return items
}

// Items returns a copy of the current collection.
func (s *Store[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.items)
}

func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count(s.items)
}

// Find returns the row with the given identity key.
func (s *Store[T]) Find(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.items, key); i >= 0 {
		return s.items[i], true
	}
	var zero T
	return zero, false
}

// Subscribe registers fn to receive every committed state, local or
// reconciled. fn runs synchronously inside the commit and may read the store
// but must not mutate it.
func (s *Store[T]) Subscribe(fn func(Snapshot[T])) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// Mutate applies fn to a copy of the collection. When fn reports a change the
// result is committed: persisted, broadcast and handed to observers.
func (s *Store[T]) Mutate(ctx context.Context, fn func(items []T) ([]T, bool)) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	next, changed := fn(clone(s.items))
	if !changed {
		s.mu.Unlock()
		return
	}
	if next == nil {
		next = make([]T, 0)
	}
	encoded, err := encode(next)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to encode collection, mutation dropped", zap.Error(err))
		return
	}
	s.items = next
	s.serialized = encoded
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(ctx, snap, encoded)
}

// Remove deletes the row with the given identity key. Removing an absent
// row changes nothing.
func (s *Store[T]) Remove(ctx context.Context, key string) {
	s.Mutate(ctx, func(items []T) ([]T, bool) {
		i := indexOf(items, key)
		if i < 0 {
			return items, false
		}
		return append(items[:i], items[i+1:]...), true
	})
}

// Clear empties the collection.
func (s *Store[T]) Clear(ctx context.Context) {
	s.Mutate(ctx, func([]T) ([]T, bool) {
		return make([]T, 0), true
	})
}

// Close stops listening for external changes.
func (s *Store[T]) Close() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil
}

// commit must be called with commitMu held.
func (s *Store[T]) commit(ctx context.Context, snap Snapshot[T], encoded []byte) {
	if s.suppress > 0 {
		s.suppress--
		s.notify(snap)
		return
	}

	persisted := s.persist(ctx, encoded)
	s.broadcast(ctx, snap, encoded, persisted)
	s.notify(snap)
}

func (s *Store[T]) persist(ctx context.Context, encoded []byte) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.storage.Set(ctx, s.key, encoded); err != nil {
		s.logger.Warn("failed to persist collection, keeping in-memory state", zap.Error(err))
		return false
	}
	return true
}

func (s *Store[T]) notify(snap Snapshot[T]) {
	s.obsMu.Lock()
	observers := make([]func(Snapshot[T]), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// snapshotLocked must be called with mu held.
func (s *Store[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{Items: clone(s.items), Count: s.count(s.items)}
}

func encode[T Item](items []T) ([]byte, error) {
	if items == nil {
		items = make([]T, 0)
	}
	return json.Marshal(items)
}

var errNotArray = errors.New("collection is not a JSON array")

// decode parses a serialized collection, dropping rows that are not valid
// and every repeated identity key after its first occurrence.
func decode[T Item](raw []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotArray
	}

	var rows []T
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, err
	}

	items := make([]T, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if !row.Valid() {
			continue
		}
		if _, dup := seen[row.ItemKey()]; dup {
			continue
		}
		seen[row.ItemKey()] = struct{}{}
		items = append(items, row)
	}
	return items, nil
}

func indexOf[T Item](items []T, key string) int {
	for i, item := range items {
		if item.ItemKey() == key {
			return i
		}
	}
	return -1
}

func clone[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}
