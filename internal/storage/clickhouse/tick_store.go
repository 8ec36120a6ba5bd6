package clickhouse

import (
	"context"
	"fmt"

	"tickvault/internal/domain"
	"tickvault/internal/storage"
)

// TickStore implements storage.TickStore using ClickHouse.
type TickStore struct {
	conn *Conn
}

// NewTickStore creates a new TickStore.
func NewTickStore(conn *Conn) *TickStore {
	return &TickStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TickStore = (*TickStore)(nil)

// InsertBulk writes ticks in one prepared batch. The driver sends the
// batch in a single INSERT, so a failure leaves no partial write.
func (s *TickStore) InsertBulk(ctx context.Context, ticks []*domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO tick_data (
			time, instrument_token, last_price, volume, open_interest,
			bid_price, ask_price, bid_qty, ask_qty
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, tk := range ticks {
		err = batch.Append(
			tk.Time, tk.InstrumentToken, tk.LastPrice, tk.Volume, tk.OpenInterest,
			tk.BidPrice, tk.AskPrice, tk.BidQty, tk.AskQty,
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

// CountByInstrument returns the number of stored ticks for an instrument.
func (s *TickStore) CountByInstrument(ctx context.Context, token int64) (int64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM tick_data WHERE instrument_token = ?`, token).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ticks: %w", err)
	}
	return int64(count), nil
}
