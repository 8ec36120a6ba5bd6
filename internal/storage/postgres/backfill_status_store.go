package postgres

import (
	"context"
	"fmt"
	"time"

	"tickvault/internal/domain"
	"tickvault/internal/storage"
)

// BackfillStatusStore implements storage.BackfillStatusStore using PostgreSQL.
type BackfillStatusStore struct {
	pool *Pool
}

var _ storage.BackfillStatusStore = (*BackfillStatusStore)(nil)

// NewBackfillStatusStore creates a Postgres-backed backfill status store.
func NewBackfillStatusStore(pool *Pool) *BackfillStatusStore {
	return &BackfillStatusStore{pool: pool}
}

// Get retrieves the backfill status for an instrument.
func (s *BackfillStatusStore) Get(ctx context.Context, token int64) (*domain.BackfillStatus, error) {
	query := `
		SELECT instrument_token, last_run, range_from, range_to, candle_count, updated_at
		FROM backfill_status
		WHERE instrument_token = $1
	`

	var st domain.BackfillStatus
	err := s.pool.QueryRow(ctx, query, token).Scan(
		&st.InstrumentToken, &st.LastRun, &st.From, &st.To, &st.CandleCount, &st.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: backfill status for %d", storage.ErrNotFound, token)
		}
		return nil, fmt.Errorf("get backfill status: %w", err)
	}
	return &st, nil
}

// Upsert records the latest backfill run for an instrument.
func (s *BackfillStatusStore) Upsert(ctx context.Context, st *domain.BackfillStatus) error {
	if st == nil {
		return fmt.Errorf("%w: status is nil", storage.ErrInvalidInput)
	}
	if st.InstrumentToken == 0 {
		return fmt.Errorf("%w: instrument token is required", storage.ErrInvalidInput)
	}

	updatedAt := st.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO backfill_status (instrument_token, last_run, range_from, range_to, candle_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (instrument_token) DO UPDATE SET
			last_run = EXCLUDED.last_run,
			range_from = EXCLUDED.range_from,
			range_to = EXCLUDED.range_to,
			candle_count = EXCLUDED.candle_count,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		st.InstrumentToken, st.LastRun, st.From, st.To, st.CandleCount, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert backfill status: %w", err)
	}
	return nil
}
