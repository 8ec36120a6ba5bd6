// Package candles serves gap-free candle queries by reconciling the
// local candle store against an upstream historical source.
package candles

import (
	"context"
	"fmt"
	"log"
	"time"

	"tickvault/internal/domain"
	"tickvault/internal/gaps"
	"tickvault/internal/observability"
	"tickvault/internal/storage"
)

// Default configuration values.
const (
	DefaultFetchRetries = 3
	DefaultBackoffBase  = 500 * time.Millisecond
)

// Service orchestrates candle queries with automatic backfill:
// query the store, detect gaps, fetch each gap from the historical
// source, upsert, re-query.
type Service struct {
	candleStore  storage.CandleStore
	source       HistoricalSource
	fetchRetries int
	backoffBase  time.Duration
	logger       *log.Logger
	metrics      *observability.Metrics
}

// ServiceOptions contains configuration for creating a Service.
type ServiceOptions struct {
	CandleStore  storage.CandleStore
	Source       HistoricalSource
	FetchRetries int           // attempts per gap before giving up on it
	BackoffBase  time.Duration // initial retry backoff, doubled per attempt
	Logger       *log.Logger
	Metrics      *observability.Metrics
}

// NewService creates a new candle service.
func NewService(opts ServiceOptions) *Service {
	fetchRetries := opts.FetchRetries
	if fetchRetries <= 0 {
		fetchRetries = DefaultFetchRetries
	}

	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		candleStore:  opts.CandleStore,
		source:       opts.Source,
		fetchRetries: fetchRetries,
		backoffBase:  backoffBase,
		logger:       logger,
		metrics:      opts.Metrics,
	}
}

// Result is the outcome of a candle query. Candles is ordered by bucket
// and gap-free unless Unresolved is non-empty: those sub-ranges could
// not be filled because the source had no data or kept failing.
type Result struct {
	Candles    []*domain.Candle
	Unresolved []domain.Gap
}

// GetCandles returns candles for [from, to] at the given timeframe,
// backfilling missing sub-ranges from the historical source.
//
// A store failure aborts the whole request. Source failures are isolated
// per gap: the gap is reported in Result.Unresolved and the rest of the
// request proceeds. Cancelling ctx abandons the remaining gaps but keeps
// the upserts already applied.
func (s *Service) GetCandles(ctx context.Context, token int64, from, to time.Time, tf domain.Timeframe) (*Result, error) {
	started := time.Now()

	// Align the request to bucket boundaries so detected gaps and stored
	// buckets agree.
	rangeStart, err := tf.Truncate(from)
	if err != nil {
		return nil, err
	}
	rangeEnd, err := tf.Truncate(to)
	if err != nil {
		return nil, err
	}
	if rangeEnd.Before(rangeStart) {
		return nil, fmt.Errorf("%w: range end %v before start %v", gaps.ErrInvalidInput, to, from)
	}

	existing, err := s.candleStore.GetByRange(ctx, token, tf, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}

	buckets := make([]time.Time, len(existing))
	for i, c := range existing {
		buckets[i] = c.Bucket
	}

	missing, err := gaps.Find(buckets, rangeStart, rangeEnd, tf)
	if err != nil {
		return nil, err
	}

	if len(missing) == 0 {
		return &Result{Candles: existing}, nil
	}

	if s.metrics != nil {
		s.metrics.GapsDetected.Add(float64(len(missing)))
	}
	s.logger.Printf("Found %d gap(s) for instrument %d [%s], backfilling", len(missing), token, tf)

	var unresolved []domain.Gap
	for i, gap := range missing {
		if ctx.Err() != nil {
			// Cancelled: the remaining gaps stay unresolved, applied
			// upserts are kept.
			unresolved = append(unresolved, missing[i:]...)
			break
		}
		if err := s.backfillGap(ctx, token, gap, tf); err != nil {
			return nil, err
		}
		filled, err := s.gapFilled(ctx, token, gap, tf)
		if err != nil {
			return nil, fmt.Errorf("verify gap [%v, %v]: %w", gap.Start, gap.End, err)
		}
		if !filled {
			unresolved = append(unresolved, gap)
		}
	}

	final, err := s.candleStore.GetByRange(ctx, token, tf, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("re-query candles: %w", err)
	}

	if s.metrics != nil {
		s.metrics.GapsUnresolved.Add(float64(len(unresolved)))
		s.metrics.CandleQueryLatency.Observe(time.Since(started).Seconds())
	}
	if len(unresolved) > 0 {
		s.logger.Printf("Backfill left %d gap(s) unresolved for instrument %d [%s]", len(unresolved), token, tf)
	}

	return &Result{Candles: final, Unresolved: unresolved}, nil
}

// backfillGap fetches one gap from the source and upserts the result.
// Source failures are swallowed after the retry budget; store failures
// propagate and abort the request.
func (s *Service) backfillGap(ctx context.Context, token int64, gap domain.Gap, tf domain.Timeframe) error {
	fetched, err := s.fetchWithRetry(ctx, token, gap, tf)
	if err != nil {
		s.logger.Printf("Giving up on gap [%v, %v] for instrument %d: %v", gap.Start, gap.End, token, err)
		return nil
	}
	if len(fetched) == 0 {
		s.logger.Printf("Source has no data for gap [%v, %v], instrument %d", gap.Start, gap.End, token)
		return nil
	}

	if s.metrics != nil {
		s.metrics.CandlesFetched.Add(float64(len(fetched)))
	}

	// First write wins: re-running a backfill over an overlapping range
	// never overwrites rows that are already there.
	if err := s.candleStore.UpsertBulk(ctx, fetched); err != nil {
		return fmt.Errorf("upsert %d backfilled candles: %w", len(fetched), err)
	}
	if s.metrics != nil {
		s.metrics.CandlesUpserted.Add(float64(len(fetched)))
	}
	return nil
}

// fetchWithRetry calls the source with bounded exponential backoff.
// Only transient failures are retried.
func (s *Service) fetchWithRetry(ctx context.Context, token int64, gap domain.Gap, tf domain.Timeframe) ([]*domain.Candle, error) {
	var lastErr error
	backoff := s.backoffBase

	for attempt := 1; attempt <= s.fetchRetries; attempt++ {
		fetched, err := s.source.FetchCandles(ctx, token, gap.Start, gap.End, tf)
		if err == nil {
			return fetched, nil
		}
		lastErr = err

		if !IsTransient(err) {
			if s.metrics != nil {
				s.metrics.SourceFetchErrors.WithLabelValues("permanent").Inc()
			}
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.SourceFetchErrors.WithLabelValues("transient").Inc()
		}
		if attempt == s.fetchRetries {
			break
		}

		s.logger.Printf("Transient source error for instrument %d (attempt %d/%d), retrying in %v: %v",
			token, attempt, s.fetchRetries, backoff, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("source failed after %d attempts: %w", s.fetchRetries, lastErr)
}

// gapFilled reports whether the gap's buckets are now fully present.
// A store failure is propagated, not treated as an unfilled gap.
func (s *Service) gapFilled(ctx context.Context, token int64, gap domain.Gap, tf domain.Timeframe) (bool, error) {
	stored, err := s.candleStore.GetByRange(ctx, token, tf, gap.Start, gap.End)
	if err != nil {
		return false, err
	}
	interval, err := tf.Duration()
	if err != nil {
		return false, err
	}
	want := int(gap.End.Sub(gap.Start)/interval) + 1
	return len(stored) >= want, nil
}
