// Package memory provides in-process implementations of the domain store
// interfaces, used by the paper venue and in tests where Redis would add
// nothing but latency.
package memory

import (
	"context"
	"sync"

	"github.com/avelin/cexarb/internal/domain"
)

// BookStore is a last-writer-wins in-memory book cache.
type BookStore struct {
	mu    sync.RWMutex
	books map[string]domain.OrderbookSnapshot
}

// NewBookStore creates an empty BookStore.
func NewBookStore() *BookStore {
	return &BookStore{books: make(map[string]domain.OrderbookSnapshot)}
}

func bookKey(venue, symbol string) string {
	return venue + ":" + symbol
}

// SetSnapshot replaces the stored book for the snapshot's venue+symbol.
func (s *BookStore) SetSnapshot(_ context.Context, snap domain.OrderbookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[bookKey(snap.Venue, snap.Symbol)] = snap
	return nil
}

// GetSnapshot returns the stored book, or domain.ErrNotFound when none exists.
func (s *BookStore) GetSnapshot(_ context.Context, venue, symbol string) (domain.OrderbookSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.books[bookKey(venue, symbol)]
	if !ok {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

// FastBookStore is the feed fast path: reads and writes go through a per-key
// atomic pointer swap with no locks, and writes are mirrored best-effort to a
// backing store so out-of-process observers still see the books.
type FastBookStore struct {
	books  sync.Map // venue:symbol -> *domain.OrderbookSnapshot
	mirror domain.BookStore
}

// NewFastBookStore creates a FastBookStore. mirror may be nil.
func NewFastBookStore(mirror domain.BookStore) *FastBookStore {
	return &FastBookStore{mirror: mirror}
}

// SetSnapshot replaces the local book and mirrors it. A mirror failure is
// swallowed: the hot path must not stall on a slow backing store.
func (s *FastBookStore) SetSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) error {
	cp := snap
	s.books.Store(bookKey(snap.Venue, snap.Symbol), &cp)
	if s.mirror != nil {
		_ = s.mirror.SetSnapshot(ctx, snap)
	}
	return nil
}

// GetSnapshot returns the local book, falling back to the mirror for keys
// this process has never written.
func (s *FastBookStore) GetSnapshot(ctx context.Context, venue, symbol string) (domain.OrderbookSnapshot, error) {
	if v, ok := s.books.Load(bookKey(venue, symbol)); ok {
		return *v.(*domain.OrderbookSnapshot), nil
	}
	if s.mirror != nil {
		return s.mirror.GetSnapshot(ctx, venue, symbol)
	}
	return domain.OrderbookSnapshot{}, domain.ErrNotFound
}

// OrderStore is an in-memory domain.OrderRecordStore.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.OrderRecord
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]domain.OrderRecord)}
}

func (s *OrderStore) SaveOrder(_ context.Context, venue string, rec domain.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[venue+":"+rec.OrderID] = rec
	return nil
}

func (s *OrderStore) GetOrder(_ context.Context, venue, orderID string) (domain.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.orders[venue+":"+orderID]
	if !ok {
		return domain.OrderRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *OrderStore) DeleteOrder(_ context.Context, venue, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, venue+":"+orderID)
	return nil
}

// Compile-time interface checks.
var (
	_ domain.BookStore        = (*BookStore)(nil)
	_ domain.BookStore        = (*FastBookStore)(nil)
	_ domain.OrderRecordStore = (*OrderStore)(nil)
)
