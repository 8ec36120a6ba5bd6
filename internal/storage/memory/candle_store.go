package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tickvault/internal/domain"
	"tickvault/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by (token, timeframe, bucket)
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.Candle),
	}
}

var _ storage.CandleStore = (*CandleStore)(nil)

// candleKey generates a unique key for a candle.
func candleKey(token int64, tf domain.Timeframe, bucket time.Time) string {
	return fmt.Sprintf("%d|%s|%d", token, tf, bucket.UTC().Unix())
}

// GetByRange retrieves candles within [from, to], ordered by bucket ASC.
func (s *CandleStore) GetByRange(_ context.Context, token int64, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data {
		if c.InstrumentToken != token || c.Timeframe != tf {
			continue
		}
		if c.Bucket.Before(from) || c.Bucket.After(to) {
			continue
		}
		candleCopy := *c
		result = append(result, &candleCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Bucket.Before(result[j].Bucket)
	})

	return result, nil
}

// UpsertBulk writes candles with first-write-wins conflict handling:
// a candle whose key already exists is skipped unchanged.
func (s *CandleStore) UpsertBulk(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	for _, c := range candles {
		if c == nil || c.InstrumentToken == 0 || c.Bucket.IsZero() {
			return storage.ErrInvalidInput
		}
		if _, err := c.Timeframe.Duration(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		key := candleKey(c.InstrumentToken, c.Timeframe, c.Bucket)
		if _, exists := s.data[key]; exists {
			continue
		}
		candleCopy := *c
		candleCopy.Bucket = candleCopy.Bucket.UTC()
		s.data[key] = &candleCopy
	}

	return nil
}

// Count returns the number of stored candles. Test helper.
func (s *CandleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
