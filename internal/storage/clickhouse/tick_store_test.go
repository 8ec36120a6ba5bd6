package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickvault/internal/domain"
)

func TestTickStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTickStore(conn)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 9, 15, 0, 0, time.UTC)
	ticks := []*domain.Tick{
		{
			Time:            base,
			InstrumentToken: 256265,
			LastPrice:       ptr(21500.55),
			Volume:          ptr(int64(125000)),
			BidPrice:        ptr(21500.50),
			AskPrice:        ptr(21500.60),
			BidQty:          ptr(int64(75)),
			AskQty:          ptr(int64(120)),
		},
		{
			Time:            base.Add(time.Second),
			InstrumentToken: 256265,
			LastPrice:       ptr(21501.00),
		},
		{
			// Partial update with no price at all.
			Time:            base.Add(2 * time.Second),
			InstrumentToken: 738561,
			OpenInterest:    ptr(int64(4500)),
		},
	}

	err := store.InsertBulk(ctx, ticks)
	require.NoError(t, err)

	count, err := store.CountByInstrument(ctx, 256265)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.CountByInstrument(ctx, 738561)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTickStore_InsertBulkEmpty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTickStore(conn)

	err := store.InsertBulk(context.Background(), nil)
	require.NoError(t, err)
}
