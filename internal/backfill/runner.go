// Package backfill runs the periodic sweep that keeps candle history
// fresh for every tradable instrument.
package backfill

import (
	"context"
	"errors"
	"log"
	"time"

	"tickvault/internal/candles"
	"tickvault/internal/domain"
	"tickvault/internal/observability"
	"tickvault/internal/storage"
)

// Runner periodically scans the instrument master and backfills candles
// for instruments whose history is stale.
type Runner struct {
	instruments storage.InstrumentStore
	statuses    storage.BackfillStatusStore
	candles     *candles.Service
	interval    time.Duration
	lookback    time.Duration
	staleAfter  time.Duration
	recentSkip  time.Duration
	rateLimit   time.Duration
	timeframe   domain.Timeframe
	logger      *log.Logger
	metrics     *observability.Metrics

	now func() time.Time
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	InstrumentStore storage.InstrumentStore
	StatusStore     storage.BackfillStatusStore
	CandleService   *candles.Service
	Interval        time.Duration    // Default: 1h - sweep period
	Lookback        time.Duration    // Default: 7 days - range each backfill covers
	StaleAfter      time.Duration    // Default: 6h - rerun if last run is older
	RecentWithin    time.Duration    // Default: 1h - skip if covered up to this close to now
	RateLimit       time.Duration    // Default: 2s - pause between instruments
	Timeframe       domain.Timeframe // Default: 1m
	Logger          *log.Logger
	Metrics         *observability.Metrics
}

// NewRunner creates a backfill sweep runner.
func NewRunner(opts RunnerOptions) *Runner {
	interval := opts.Interval
	if interval == 0 {
		interval = time.Hour
	}

	lookback := opts.Lookback
	if lookback == 0 {
		lookback = 7 * 24 * time.Hour
	}

	staleAfter := opts.StaleAfter
	if staleAfter == 0 {
		staleAfter = 6 * time.Hour
	}

	recentSkip := opts.RecentWithin
	if recentSkip == 0 {
		recentSkip = time.Hour
	}

	rateLimit := opts.RateLimit
	if rateLimit == 0 {
		rateLimit = 2 * time.Second
	}

	timeframe := opts.Timeframe
	if timeframe == "" {
		timeframe = domain.Timeframe1m
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		instruments: opts.InstrumentStore,
		statuses:    opts.StatusStore,
		candles:     opts.CandleService,
		interval:    interval,
		lookback:    lookback,
		staleAfter:  staleAfter,
		recentSkip:  recentSkip,
		rateLimit:   rateLimit,
		timeframe:   timeframe,
		logger:      logger,
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

// Run sweeps once immediately, then on every interval tick.
// It blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Printf("Backfill runner started, interval: %v, lookback: %v", r.interval, r.lookback)

	if err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Printf("Backfill sweep failed: %v", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Println("Backfill runner stopping...")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				r.logger.Printf("Backfill sweep failed: %v", err)
			}
		}
	}
}

// Sweep walks every tradable instrument once and backfills the stale ones.
// Per-instrument failures are logged and do not stop the sweep.
func (r *Runner) Sweep(ctx context.Context) error {
	instruments, err := r.instruments.ListTradable(ctx)
	if err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.BackfillSweeps.Inc()
	}
	r.logger.Printf("Backfill sweep: checking %d instruments", len(instruments))

	backfilled := 0
	for i, inst := range instruments {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r.metrics != nil {
			r.metrics.InstrumentsChecked.Inc()
		}

		stale, err := r.isStale(ctx, inst.Token)
		if err != nil {
			r.logger.Printf("Backfill status check failed for %s (%d): %v", inst.Symbol, inst.Token, err)
			continue
		}
		if !stale {
			continue
		}

		if err := r.backfillInstrument(ctx, inst); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			r.logger.Printf("Backfill failed for %s (%d): %v", inst.Symbol, inst.Token, err)
			continue
		}
		backfilled++

		// Pause between instruments so the historical source is not hammered.
		if i < len(instruments)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.rateLimit):
			}
		}
	}

	r.logger.Printf("Backfill sweep done: %d of %d instruments backfilled", backfilled, len(instruments))
	return nil
}

// isStale reports whether an instrument needs a backfill run: no recorded
// run yet, the last run is too old, or the covered range stops too far
// short of now.
func (r *Runner) isStale(ctx context.Context, token int64) (bool, error) {
	status, err := r.statuses.Get(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	now := r.now().UTC()
	if now.Sub(status.LastRun) > r.staleAfter {
		return true, nil
	}
	if now.Sub(status.To) > r.recentSkip {
		return true, nil
	}
	return false, nil
}

func (r *Runner) backfillInstrument(ctx context.Context, inst *domain.Instrument) error {
	now := r.now().UTC()
	from := now.Add(-r.lookback)

	result, err := r.candles.GetCandles(ctx, inst.Token, from, now, r.timeframe)
	if err != nil {
		return err
	}

	if len(result.Unresolved) > 0 {
		r.logger.Printf("Backfill for %s (%d): %d gaps unresolved", inst.Symbol, inst.Token, len(result.Unresolved))
	}

	if r.metrics != nil {
		r.metrics.InstrumentsBackfilled.Inc()
	}

	return r.statuses.Upsert(ctx, &domain.BackfillStatus{
		InstrumentToken: inst.Token,
		LastRun:         now,
		From:            from,
		To:              now,
		CandleCount:     len(result.Candles),
		UpdatedAt:       now,
	})
}
