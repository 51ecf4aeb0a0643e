package orderstore

import (
	"sort"

	"github.com/google/uuid"
)

// Track records a new marker in the awaiting state and returns it.
func (s *Store) Track(m Mutation) Mutation {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.State = AwaitingConfirmation

	s.mu.Lock()
	s.pending[m.ID] = m.clone()
	s.mu.Unlock()
	return m
}

// Confirm drops the marker once the remote service acknowledged it.
func (s *Store) Confirm(id uuid.UUID) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Fail keeps the marker around as failed so reconciliation can find it.
func (s *Store) Fail(id uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.pending[id]
	if !ok {
		return
	}
	m.State = ConfirmationFailed
	m.Attempts++
	if err != nil {
		m.LastError = err.Error()
	}
	s.pending[id] = m
}

// Pending lists unconfirmed markers oldest first.
func (s *Store) Pending() []Mutation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingLocked()
}

func (s *Store) pendingLocked() []Mutation {
	out := make([]Mutation, 0, len(s.pending))
	for _, m := range s.pending {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
