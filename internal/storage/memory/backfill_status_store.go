package memory

import (
	"context"
	"sync"
	"time"

	"tickvault/internal/domain"
	"tickvault/internal/storage"
)

// BackfillStatusStore is an in-memory implementation of storage.BackfillStatusStore.
type BackfillStatusStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.BackfillStatus
}

// NewBackfillStatusStore creates a new in-memory backfill status store.
func NewBackfillStatusStore() *BackfillStatusStore {
	return &BackfillStatusStore{
		data: make(map[int64]*domain.BackfillStatus),
	}
}

var _ storage.BackfillStatusStore = (*BackfillStatusStore)(nil)

// Get retrieves status for an instrument. Returns ErrNotFound if never backfilled.
func (s *BackfillStatusStore) Get(_ context.Context, token int64) (*domain.BackfillStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	stCopy := *st
	return &stCopy, nil
}

// Upsert records the latest backfill run, keyed by instrument token.
func (s *BackfillStatusStore) Upsert(_ context.Context, st *domain.BackfillStatus) error {
	if st == nil || st.InstrumentToken == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stCopy := *st
	if stCopy.UpdatedAt.IsZero() {
		stCopy.UpdatedAt = time.Now().UTC()
	}
	s.data[st.InstrumentToken] = &stCopy
	return nil
}
