package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickvault/internal/domain"
	"tickvault/internal/storage"
)

func TestBackfillStatusStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBackfillStatusStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	status := &domain.BackfillStatus{
		InstrumentToken: 256265,
		LastRun:         now,
		From:            now.Add(-7 * 24 * time.Hour),
		To:              now,
		CandleCount:     2625,
	}

	err := store.Upsert(ctx, status)
	require.NoError(t, err)

	retrieved, err := store.Get(ctx, 256265)
	require.NoError(t, err)

	assert.Equal(t, status.InstrumentToken, retrieved.InstrumentToken)
	assert.WithinDuration(t, status.LastRun, retrieved.LastRun, time.Millisecond)
	assert.Equal(t, status.CandleCount, retrieved.CandleCount)
	assert.False(t, retrieved.UpdatedAt.IsZero())
}

func TestBackfillStatusStore_UpsertReplaces(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBackfillStatusStore(pool)
	ctx := context.Background()

	first := time.Date(2026, 1, 10, 9, 15, 0, 0, time.UTC)
	status := &domain.BackfillStatus{
		InstrumentToken: 42,
		LastRun:         first,
		From:            first.Add(-time.Hour),
		To:              first,
		CandleCount:     60,
	}
	require.NoError(t, store.Upsert(ctx, status))

	second := first.Add(6 * time.Hour)
	status.LastRun = second
	status.CandleCount = 120
	require.NoError(t, store.Upsert(ctx, status))

	retrieved, err := store.Get(ctx, 42)
	require.NoError(t, err)
	assert.WithinDuration(t, second, retrieved.LastRun, time.Millisecond)
	assert.Equal(t, 120, retrieved.CandleCount)
}

func TestBackfillStatusStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBackfillStatusStore(pool)

	_, err := store.Get(context.Background(), 999999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
