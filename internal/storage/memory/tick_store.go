package memory

import (
	"context"
	"sync"

	"tickvault/internal/domain"
	"tickvault/internal/storage"
)

// TickStore is an in-memory implementation of storage.TickStore.
type TickStore struct {
	mu    sync.RWMutex
	ticks []*domain.Tick
}

// NewTickStore creates a new in-memory tick store.
func NewTickStore() *TickStore {
	return &TickStore{}
}

var _ storage.TickStore = (*TickStore)(nil)

// InsertBulk writes ticks in one batch. Validates the whole batch before
// mutating so the insert is all-or-nothing.
func (s *TickStore) InsertBulk(_ context.Context, ticks []*domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	for _, tk := range ticks {
		if tk == nil || tk.InstrumentToken == 0 || tk.Time.IsZero() {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tk := range ticks {
		tickCopy := *tk
		s.ticks = append(s.ticks, &tickCopy)
	}
	return nil
}

// All returns every stored tick in insertion order. Test helper.
func (s *TickStore) All() []*domain.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Tick, 0, len(s.ticks))
	for _, tk := range s.ticks {
		tickCopy := *tk
		out = append(out, &tickCopy)
	}
	return out
}

// Count returns the number of stored ticks.
func (s *TickStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ticks)
}
