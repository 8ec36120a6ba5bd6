package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"tickvault/internal/domain"
	"tickvault/internal/storage"
)

// InstrumentStore is an in-memory implementation of storage.InstrumentStore.
type InstrumentStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.Instrument
}

// NewInstrumentStore creates a new in-memory instrument store.
func NewInstrumentStore() *InstrumentStore {
	return &InstrumentStore{
		data: make(map[int64]*domain.Instrument),
	}
}

var _ storage.InstrumentStore = (*InstrumentStore)(nil)

// Upsert inserts or updates an instrument keyed by token.
func (s *InstrumentStore) Upsert(_ context.Context, in *domain.Instrument) error {
	if in == nil || in.Token == 0 || in.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inCopy := *in
	s.data[in.Token] = &inCopy
	return nil
}

// GetByToken retrieves one instrument. Returns ErrNotFound if absent.
func (s *InstrumentStore) GetByToken(_ context.Context, token int64) (*domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.data[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	inCopy := *in
	return &inCopy, nil
}

// segmentRank orders tradable segments, indices first.
func segmentRank(segment string) int {
	switch segment {
	case domain.SegmentIndices:
		return 1
	case domain.SegmentNFOFut:
		return 2
	case domain.SegmentNSE:
		return 3
	default:
		return 4
	}
}

// ListTradable returns instruments in streamable segments, indices first.
func (s *InstrumentStore) ListTradable(_ context.Context) ([]*domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tradable []*domain.Instrument
	for _, in := range s.data {
		switch in.Segment {
		case domain.SegmentIndices, domain.SegmentNSE, domain.SegmentNFOFut:
			tradable = append(tradable, in)
		}
	}

	sort.Slice(tradable, func(i, j int) bool {
		ri, rj := segmentRank(tradable[i].Segment), segmentRank(tradable[j].Segment)
		if ri != rj {
			return ri < rj
		}
		return tradable[i].Token < tradable[j].Token
	})

	result := make([]*domain.Instrument, 0, len(tradable))
	for _, in := range tradable {
		inCopy := *in
		result = append(result, &inCopy)
	}
	return result, nil
}

// Search returns instruments matching query by symbol or exchange.
func (s *InstrumentStore) Search(_ context.Context, query string, limit int) ([]*domain.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var result []*domain.Instrument
	for _, in := range s.data {
		if strings.Contains(strings.ToLower(in.Symbol), q) || strings.Contains(strings.ToLower(in.Exchange), q) {
			inCopy := *in
			result = append(result, &inCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
