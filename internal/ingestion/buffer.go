// Package ingestion buffers incoming ticks and converts push-based
// arrival into periodic bulk writes to the tick store.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tickvault/internal/domain"
	"tickvault/internal/observability"
	"tickvault/internal/storage"
)

// Buffer errors.
var (
	// ErrNotRunning is returned by Accept when the buffer has not been
	// started or a stop has been requested.
	ErrNotRunning = errors.New("tick buffer is not running")

	// ErrAlreadyRunning is returned by Start on a running buffer.
	ErrAlreadyRunning = errors.New("tick buffer is already running")

	// ErrTooManyFlushFailures is the terminal error raised after the
	// configured number of consecutive flush failures.
	ErrTooManyFlushFailures = errors.New("too many consecutive flush failures")
)

// Default configuration values.
const (
	DefaultCapacity      = 1000
	DefaultFlushInterval = 1 * time.Second
	DefaultMaxFailures   = 5
)

type bufferState int

const (
	stateStopped bufferState = iota
	stateRunning
	stateStopping
)

// Buffer accumulates ticks in memory and flushes them to the tick store
// when the pending count reaches capacity or the flush interval elapses.
//
// Accept never blocks beyond the internal lock; the bulk write always
// runs outside it. At most one flush executes at a time: a flush that
// would overlap a running one is skipped and its ticks stay pending for
// the next attempt.
type Buffer struct {
	store         storage.TickStore
	capacity      int
	flushInterval time.Duration
	maxFailures   int
	onFatal       func(error)
	logger        *log.Logger
	metrics       *observability.Metrics

	mu       sync.Mutex
	cond     *sync.Cond // signals flush completion, waited on by Stop
	state    bufferState
	pending  []*domain.Tick
	flushing bool
	failures int // consecutive flush failures
	fatal    error

	flushCh chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
}

// BufferOptions contains configuration for creating a Buffer.
type BufferOptions struct {
	Store         storage.TickStore
	Capacity      int           // pending count that triggers an immediate flush
	FlushInterval time.Duration // periodic flush interval
	MaxFailures   int           // consecutive flush failures before the buffer goes fatal
	OnFatal       func(error)   // invoked once when the failure budget is exhausted
	Logger        *log.Logger
	Metrics       *observability.Metrics
}

// NewBuffer creates a stopped Buffer. Call Start to begin the periodic
// flush loop.
func NewBuffer(opts BufferOptions) *Buffer {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	flushInterval := opts.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	maxFailures := opts.MaxFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	b := &Buffer{
		store:         opts.Store,
		capacity:      capacity,
		flushInterval: flushInterval,
		maxFailures:   maxFailures,
		onFatal:       opts.OnFatal,
		logger:        logger,
		metrics:       opts.Metrics,
		pending:       make([]*domain.Tick, 0, capacity),
		flushCh:       make(chan struct{}, 1),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start launches the periodic flush loop.
func (b *Buffer) Start() error {
	b.mu.Lock()
	if b.state != stateStopped {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.state = stateRunning
	b.failures = 0
	b.fatal = nil
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.run()
	return nil
}

// run drives periodic and capacity-triggered flushes until stop.
func (b *Buffer) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			// Fires unconditionally; Flush is a no-op on an empty buffer.
			if err := b.Flush(context.Background()); err != nil {
				b.logger.Printf("Periodic flush failed: %v", err)
			}
		case <-b.flushCh:
			if err := b.Flush(context.Background()); err != nil {
				b.logger.Printf("Capacity-triggered flush failed: %v", err)
			}
		}
	}
}

// Accept appends a tick to the pending collection. It only ever touches
// the in-memory collection; store I/O happens on the flush path.
func (b *Buffer) Accept(t *domain.Tick) error {
	if t == nil {
		return storage.ErrInvalidInput
	}

	b.mu.Lock()
	if b.fatal != nil {
		err := b.fatal
		b.mu.Unlock()
		return err
	}
	if b.state != stateRunning {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.pending = append(b.pending, t)
	n := len(b.pending)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.TicksAccepted.Inc()
		b.metrics.PendingTicks.Set(float64(n))
	}

	if n >= b.capacity {
		// Out-of-band flush request; non-blocking so Accept never waits
		// on the flush loop.
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush takes ownership of all currently pending ticks and performs one
// bulk write. If a flush is already in progress the call is skipped and
// the pending ticks are left for the next attempt.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.fatal != nil {
		err := b.fatal
		b.mu.Unlock()
		return err
	}
	if b.flushing {
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.FlushesTotal.WithLabelValues("skipped").Inc()
		}
		return nil
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}

	// Swap in a fresh collection so concurrent Accept calls are never
	// blocked by store latency.
	batch := b.pending
	b.pending = make([]*domain.Tick, 0, b.capacity)
	b.flushing = true
	b.mu.Unlock()

	err := b.store.InsertBulk(ctx, batch)

	b.mu.Lock()
	b.flushing = false
	b.cond.Broadcast()

	if err != nil {
		// The taken ticks are merged back at the front so arrival order
		// is preserved for the retry.
		b.pending = append(batch, b.pending...)
		b.failures++
		failures := b.failures
		pending := len(b.pending)

		if failures >= b.maxFailures {
			b.fatal = fmt.Errorf("%w (%d attempts): %w", ErrTooManyFlushFailures, failures, err)
			fatal := b.fatal
			b.mu.Unlock()

			b.logger.Printf("Flush failure budget exhausted, %d ticks at risk: %v", pending, err)
			if b.metrics != nil {
				b.metrics.FlushesTotal.WithLabelValues("failure").Inc()
			}
			if b.onFatal != nil {
				b.onFatal(fatal)
			}
			return fatal
		}
		b.mu.Unlock()

		b.logger.Printf("Flush failed (attempt %d/%d), %d ticks kept pending: %v", failures, b.maxFailures, pending, err)
		if b.metrics != nil {
			b.metrics.FlushesTotal.WithLabelValues("failure").Inc()
		}
		return fmt.Errorf("flush %d ticks: %w", len(batch), err)
	}

	b.failures = 0
	pending := len(b.pending)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.TicksFlushed.Add(float64(len(batch)))
		b.metrics.FlushesTotal.WithLabelValues("success").Inc()
		b.metrics.FlushBatchSize.Observe(float64(len(batch)))
		b.metrics.PendingTicks.Set(float64(pending))
	}
	return nil
}

// Stop cancels the periodic trigger, waits for any in-flight flush to
// complete, then performs one final synchronous drain flush. Accept
// calls issued after Stop fail with ErrNotRunning.
func (b *Buffer) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.state != stateRunning {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.state = stateStopping
	b.mu.Unlock()

	close(b.stopCh)
	<-b.done

	// An explicit Flush caller may still hold the batch; the in-flight
	// write is completed, not aborted.
	b.mu.Lock()
	for b.flushing {
		b.cond.Wait()
	}
	remaining := len(b.pending)
	b.mu.Unlock()

	err := b.Flush(ctx)

	b.mu.Lock()
	lost := len(b.pending)
	b.state = stateStopped
	b.mu.Unlock()

	if err != nil {
		b.logger.Printf("Final drain failed, %d ticks lost: %v", lost, err)
		return fmt.Errorf("drain %d pending ticks: %w", remaining, err)
	}
	if remaining > 0 {
		b.logger.Printf("Drained %d pending ticks on shutdown", remaining)
	}
	return nil
}

// PendingCount returns the number of buffered ticks.
func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
