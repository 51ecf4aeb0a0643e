// Package orderstore holds the canonical order graph. Writes are serialized
// behind one lock so no two mutations interleave; reads hand out deep copies.
package orderstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veerananda/billgenie-sync/internal/domain"
)

var ErrOrderNotFound = errors.New("order not found")

type Store struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Order
	pending map[uuid.UUID]Mutation
	now     func() time.Time

	version       int64
	lastMutatedAt time.Time
	lastFetchedAt time.Time

	subMu sync.Mutex
	subs  map[int]chan int64
	next  int
}

func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		byID:    make(map[string]*domain.Order),
		pending: make(map[uuid.UUID]Mutation),
		now:     now,
		subs:    make(map[int]chan int64),
	}
}

func (s *Store) Get(id string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return domain.Order{}, false
	}
	return o.Clone(), true
}

// List returns every order newest-first by creation time.
func (s *Store) List() []domain.Order {
	s.mu.RLock()
	out := make([]domain.Order, 0, len(s.byID))
	for _, o := range s.byID {
		out = append(out, o.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Upsert replaces the order wholesale.
func (s *Store) Upsert(o domain.Order) {
	s.mu.Lock()
	c := o.Clone()
	s.byID[o.ID] = &c
	v := s.touchLocked()
	s.mu.Unlock()
	s.notify(v)
}

// Insert adds the order only if its id is unknown. Reports whether it was added.
func (s *Store) Insert(o domain.Order) bool {
	s.mu.Lock()
	if _, ok := s.byID[o.ID]; ok {
		s.mu.Unlock()
		return false
	}
	c := o.Clone()
	s.byID[o.ID] = &c
	v := s.touchLocked()
	s.mu.Unlock()
	s.notify(v)
	return true
}

func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.byID, id)
	v := s.touchLocked()
	s.mu.Unlock()
	s.notify(v)
	return true
}

// MutateItem applies a status transition to the selected item(s) of one order
// and returns the ids of the items that changed.
func (s *Store) MutateItem(orderID string, sel domain.ItemSelector, target domain.ItemStatus) ([]string, error) {
	s.mu.Lock()
	o, ok := s.byID[orderID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("mutate %s: %w", orderID, ErrOrderNotFound)
	}
	changed, err := o.ApplyTransition(sel, target, s.now().UnixMilli())
	if err != nil || len(changed) == 0 {
		s.mu.Unlock()
		return nil, err
	}
	v := s.touchLocked()
	s.mu.Unlock()
	s.notify(v)
	return changed, nil
}

// MutateOrder runs fn against the stored order; fn reports whether it changed anything.
func (s *Store) MutateOrder(orderID string, fn func(o *domain.Order) bool) error {
	s.mu.Lock()
	o, ok := s.byID[orderID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("mutate %s: %w", orderID, ErrOrderNotFound)
	}
	if !fn(o) {
		s.mu.Unlock()
		return nil
	}
	v := s.touchLocked()
	s.mu.Unlock()
	s.notify(v)
	return nil
}

// ReplaceFunc receives the current orders and markers and returns the new
// order list plus the ids of markers the new list has settled.
type ReplaceFunc func(local []domain.Order, pending []Mutation) (next []domain.Order, settled []uuid.UUID)

// Replace swaps the whole collection in one step. It is the only path that
// replaces everything and it records LastFetchedAt.
func (s *Store) Replace(fn ReplaceFunc) {
	s.mu.Lock()
	local := make([]domain.Order, 0, len(s.byID))
	for _, o := range s.byID {
		local = append(local, o.Clone())
	}
	sortNewestFirst(local)

	next, settled := fn(local, s.pendingLocked())

	byID := make(map[string]*domain.Order, len(next))
	for _, o := range next {
		c := o.Clone()
		byID[c.ID] = &c
	}
	s.byID = byID
	for _, id := range settled {
		delete(s.pending, id)
	}
	s.lastFetchedAt = s.now()
	v := s.touchLocked()
	s.mu.Unlock()
	s.notify(v)
}

// RemoveWhere drops every order matching pred and returns their ids.
func (s *Store) RemoveWhere(pred func(domain.Order) bool) []string {
	s.mu.Lock()
	var removed []string
	for id, o := range s.byID {
		if pred(*o) {
			delete(s.byID, id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		s.mu.Unlock()
		return nil
	}
	v := s.touchLocked()
	s.mu.Unlock()
	s.notify(v)
	sort.Strings(removed)
	return removed
}

func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) LastMutatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMutatedAt
}

func (s *Store) LastFetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFetchedAt
}

// Subscribe delivers the store version after every mutation. Slow readers
// only see the latest version. Call the returned func to stop.
func (s *Store) Subscribe() (<-chan int64, func()) {
	ch := make(chan int64, 1)
	s.subMu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) touchLocked() int64 {
	s.version++
	now := s.now()
	if now.After(s.lastMutatedAt) {
		s.lastMutatedAt = now
	}
	return s.version
}

func (s *Store) notify(v int64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func sortNewestFirst(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt != orders[j].CreatedAt {
			return orders[i].CreatedAt > orders[j].CreatedAt
		}
		return orders[i].ID < orders[j].ID
	})
}
