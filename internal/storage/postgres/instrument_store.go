package postgres

import (
	"context"
	"fmt"

	"tickvault/internal/domain"
	"tickvault/internal/storage"
)

// InstrumentStore implements storage.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	pool *Pool
}

var _ storage.InstrumentStore = (*InstrumentStore)(nil)

// NewInstrumentStore creates a Postgres-backed instrument store.
func NewInstrumentStore(pool *Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

// Upsert inserts or replaces an instrument keyed by token.
func (s *InstrumentStore) Upsert(ctx context.Context, inst *domain.Instrument) error {
	if inst == nil {
		return fmt.Errorf("%w: instrument is nil", storage.ErrInvalidInput)
	}
	if inst.Token == 0 {
		return fmt.Errorf("%w: instrument token is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO instruments (token, symbol, exchange, segment, instrument_type, lot_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			exchange = EXCLUDED.exchange,
			segment = EXCLUDED.segment,
			instrument_type = EXCLUDED.instrument_type,
			lot_size = EXCLUDED.lot_size
	`

	_, err := s.pool.Exec(ctx, query,
		inst.Token, inst.Symbol, inst.Exchange, inst.Segment, inst.InstrumentType, inst.LotSize)
	if err != nil {
		return fmt.Errorf("upsert instrument: %w", err)
	}
	return nil
}

// GetByToken retrieves a single instrument by its token.
func (s *InstrumentStore) GetByToken(ctx context.Context, token int64) (*domain.Instrument, error) {
	query := `
		SELECT token, symbol, exchange, segment, instrument_type, lot_size
		FROM instruments
		WHERE token = $1
	`

	var inst domain.Instrument
	err := s.pool.QueryRow(ctx, query, token).Scan(
		&inst.Token, &inst.Symbol, &inst.Exchange, &inst.Segment, &inst.InstrumentType, &inst.LotSize)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: instrument %d", storage.ErrNotFound, token)
		}
		return nil, fmt.Errorf("get instrument: %w", err)
	}
	return &inst, nil
}

// ListTradable returns instruments eligible for ingestion and backfill,
// indices first, then futures, then equities, each segment ordered by token.
func (s *InstrumentStore) ListTradable(ctx context.Context) ([]*domain.Instrument, error) {
	query := `
		SELECT token, symbol, exchange, segment, instrument_type, lot_size
		FROM instruments
		WHERE segment IN ($1, $2, $3)
		ORDER BY
			CASE segment
				WHEN $1 THEN 1
				WHEN $2 THEN 2
				WHEN $3 THEN 3
			END,
			token
	`

	rows, err := s.pool.Query(ctx, query,
		domain.SegmentIndices, domain.SegmentNFOFut, domain.SegmentNSE)
	if err != nil {
		return nil, fmt.Errorf("list tradable instruments: %w", err)
	}
	defer rows.Close()

	return scanInstruments(rows)
}

// Search finds instruments whose symbol or exchange matches the query,
// case-insensitive, up to limit results.
func (s *InstrumentStore) Search(ctx context.Context, q string, limit int) ([]*domain.Instrument, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT token, symbol, exchange, segment, instrument_type, lot_size
		FROM instruments
		WHERE symbol ILIKE $1 OR exchange ILIKE $1
		ORDER BY symbol
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, "%"+q+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search instruments: %w", err)
	}
	defer rows.Close()

	return scanInstruments(rows)
}

func scanInstruments(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*domain.Instrument, error) {
	var instruments []*domain.Instrument
	for rows.Next() {
		var inst domain.Instrument
		if err := rows.Scan(
			&inst.Token, &inst.Symbol, &inst.Exchange, &inst.Segment, &inst.InstrumentType, &inst.LotSize,
		); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		instruments = append(instruments, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instruments: %w", err)
	}
	return instruments, nil
}
