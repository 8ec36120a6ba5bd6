package storage

import (
	"context"
	"time"

	"tickvault/internal/domain"
)

// TickStore provides access to raw tick storage.
type TickStore interface {
	// InsertBulk writes ticks in one batch. The batch is all-or-nothing at
	// the store boundary: on error no tick from the batch is considered
	// persisted and the caller may retry the whole batch.
	InsertBulk(ctx context.Context, ticks []*domain.Tick) error
}

// CandleStore provides access to aggregated candle storage.
type CandleStore interface {
	// GetByRange retrieves candles for an instrument/timeframe with bucket
	// within [from, to] (inclusive), ordered by bucket ASC, one row per
	// (instrument_token, timeframe, bucket).
	GetByRange(ctx context.Context, token int64, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error)

	// UpsertBulk writes candles keyed by (instrument_token, timeframe,
	// bucket). On key conflict the existing row is kept unchanged
	// (first write wins), so repeated backfills are idempotent.
	UpsertBulk(ctx context.Context, candles []*domain.Candle) error
}

// InstrumentStore provides access to the instrument master.
type InstrumentStore interface {
	// Upsert inserts or updates an instrument keyed by token.
	Upsert(ctx context.Context, in *domain.Instrument) error

	// GetByToken retrieves one instrument. Returns ErrNotFound if absent.
	GetByToken(ctx context.Context, token int64) (*domain.Instrument, error)

	// ListTradable returns instruments in streamable segments
	// (INDICES, NSE, NFO-FUT), indices first.
	ListTradable(ctx context.Context) ([]*domain.Instrument, error)

	// Search returns instruments whose symbol or exchange matches query,
	// ordered by symbol, up to limit rows.
	Search(ctx context.Context, query string, limit int) ([]*domain.Instrument, error)
}

// BackfillStatusStore tracks per-instrument backfill progress.
type BackfillStatusStore interface {
	// Get retrieves status for an instrument. Returns ErrNotFound if the
	// instrument has never been backfilled.
	Get(ctx context.Context, token int64) (*domain.BackfillStatus, error)

	// Upsert records the latest backfill run, keyed by instrument token.
	Upsert(ctx context.Context, st *domain.BackfillStatus) error
}
