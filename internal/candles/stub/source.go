// Package stub provides an in-process historical source for tests and
// memory-only deployments.
package stub

import (
	"context"
	"sync"
	"time"

	"tickvault/internal/candles"
	"tickvault/internal/domain"
)

// Source serves candles from a preloaded in-memory set. Without preloaded
// data every fetch returns an empty slice, which the orchestrator treats
// as an unresolved gap.
type Source struct {
	mu      sync.RWMutex
	candles []*domain.Candle
}

// NewSource creates an empty stub source.
func NewSource() *Source {
	return &Source{}
}

var _ candles.HistoricalSource = (*Source)(nil)

// Load adds candles to the stub's data set.
func (s *Source) Load(cs ...*domain.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append(s.candles, cs...)
}

// FetchCandles returns loaded candles matching the instrument, timeframe
// and range, in load order.
func (s *Source) FetchCandles(_ context.Context, token int64, from, to time.Time, tf domain.Timeframe) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Candle
	for _, c := range s.candles {
		if c.InstrumentToken != token || c.Timeframe != tf {
			continue
		}
		if c.Bucket.Before(from) || c.Bucket.After(to) {
			continue
		}
		candleCopy := *c
		out = append(out, &candleCopy)
	}
	return out, nil
}
