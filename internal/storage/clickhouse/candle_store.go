package clickhouse

import (
	"context"
	"fmt"
	"time"

	"tickvault/internal/domain"
	"tickvault/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
//
// MergeTree does not enforce uniqueness at insert time. The keep-existing
// upsert filters the batch against buckets already stored, but two
// concurrent writers can still both pass that check and insert the same
// bucket. Uniqueness is therefore enforced on the read side: GetByRange
// collapses duplicate buckets to the earliest-inserted row via
// inserted_at, so first write wins regardless of insert interleaving.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// GetByRange retrieves candles within [from, to], ordered by bucket ASC,
// one row per bucket. Duplicate physical rows for a bucket are collapsed
// to the earliest-inserted one.
func (s *CandleStore) GetByRange(ctx context.Context, token int64, tf domain.Timeframe, from, to time.Time) ([]*domain.Candle, error) {
	query := `
		SELECT
			instrument_token, timeframe, bucket,
			argMin(open, inserted_at) AS open,
			argMin(high, inserted_at) AS high,
			argMin(low, inserted_at) AS low,
			argMin(close, inserted_at) AS close,
			argMin(volume, inserted_at) AS volume,
			argMin(open_interest, inserted_at) AS open_interest
		FROM candles
		WHERE instrument_token = ? AND timeframe = ? AND bucket >= ? AND bucket <= ?
		GROUP BY instrument_token, timeframe, bucket
		ORDER BY bucket ASC
	`

	rows, err := s.conn.Query(ctx, query, token, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query candles by range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// UpsertBulk writes candles with first-write-wins conflict handling:
// buckets already present for (instrument_token, timeframe) are skipped.
func (s *CandleStore) UpsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	// Retain one candle per key within the batch, first occurrence wins.
	type key struct {
		token  int64
		tf     domain.Timeframe
		bucket int64
	}
	seen := make(map[key]struct{}, len(candles))
	deduped := make([]*domain.Candle, 0, len(candles))
	for _, c := range candles {
		k := key{c.InstrumentToken, c.Timeframe, c.Bucket.UTC().Unix()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		deduped = append(deduped, c)
	}

	// Filter out buckets already stored. Best-effort write reduction
	// only: a concurrent writer can slip between the check and the
	// insert, which the read path tolerates.
	toInsert := make([]*domain.Candle, 0, len(deduped))
	for _, c := range deduped {
		exists, err := s.exists(ctx, c.InstrumentToken, c.Timeframe, c.Bucket)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			continue
		}
		toInsert = append(toInsert, c)
	}

	if len(toInsert) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			instrument_token, timeframe, bucket, open, high, low, close, volume, open_interest
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range toInsert {
		err = batch.Append(
			c.InstrumentToken, string(c.Timeframe), c.Bucket.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.OpenInterest,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// exists checks if a candle with the given key exists.
func (s *CandleStore) exists(ctx context.Context, token int64, tf domain.Timeframe, bucket time.Time) (bool, error) {
	query := `
		SELECT count(*) FROM candles
		WHERE instrument_token = ? AND timeframe = ? AND bucket = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, token, string(tf), bucket.UTC()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanCandles scans multiple rows.
func scanCandles(rows chRows) ([]*domain.Candle, error) {
	var candles []*domain.Candle

	for rows.Next() {
		var c domain.Candle
		var tf string

		err := rows.Scan(
			&c.InstrumentToken, &tf, &c.Bucket,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.OpenInterest,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		c.Timeframe = domain.Timeframe(tf)
		c.Bucket = c.Bucket.UTC()
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
