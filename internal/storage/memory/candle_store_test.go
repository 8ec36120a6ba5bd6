package memory

import (
	"context"
	"testing"
	"time"

	"tickvault/internal/domain"
)

func bucketAt(hh, mm int) time.Time {
	return time.Date(2024, 3, 12, hh, mm, 0, 0, time.UTC)
}

func TestCandleStore_UpsertAndGetByRange(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	candles := []*domain.Candle{
		{InstrumentToken: 256265, Timeframe: domain.Timeframe1m, Bucket: bucketAt(9, 16), Open: 101, High: 102, Low: 100, Close: 101.5, Volume: 20},
		{InstrumentToken: 256265, Timeframe: domain.Timeframe1m, Bucket: bucketAt(9, 15), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
	}

	if err := store.UpsertBulk(ctx, candles); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	result, err := store.GetByRange(ctx, 256265, domain.Timeframe1m, bucketAt(9, 15), bucketAt(9, 20))
	if err != nil {
		t.Fatalf("GetByRange failed: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(result))
	}
	if !result[0].Bucket.Equal(bucketAt(9, 15)) || !result[1].Bucket.Equal(bucketAt(9, 16)) {
		t.Errorf("Candles not ordered by bucket: %v, %v", result[0].Bucket, result[1].Bucket)
	}
}

func TestCandleStore_UpsertKeepsExisting(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	first := &domain.Candle{InstrumentToken: 256265, Timeframe: domain.Timeframe1m, Bucket: bucketAt(9, 15), Close: 100}
	if err := store.UpsertBulk(ctx, []*domain.Candle{first}); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}

	// Same key, different value: the original row must survive.
	second := &domain.Candle{InstrumentToken: 256265, Timeframe: domain.Timeframe1m, Bucket: bucketAt(9, 15), Close: 999}
	if err := store.UpsertBulk(ctx, []*domain.Candle{second}); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	result, err := store.GetByRange(ctx, 256265, domain.Timeframe1m, bucketAt(9, 15), bucketAt(9, 15))
	if err != nil {
		t.Fatalf("GetByRange failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("Expected 1 candle, got %d", len(result))
	}
	if result[0].Close != 100 {
		t.Errorf("Expected first write to win, got close=%v", result[0].Close)
	}
}

func TestCandleStore_TimeframesIsolated(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	candles := []*domain.Candle{
		{InstrumentToken: 256265, Timeframe: domain.Timeframe1m, Bucket: bucketAt(9, 15), Close: 1},
		{InstrumentToken: 256265, Timeframe: domain.Timeframe5m, Bucket: bucketAt(9, 15), Close: 5},
	}
	if err := store.UpsertBulk(ctx, candles); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	result, _ := store.GetByRange(ctx, 256265, domain.Timeframe1m, bucketAt(9, 0), bucketAt(10, 0))
	if len(result) != 1 {
		t.Fatalf("Expected 1 candle for 1m, got %d", len(result))
	}
	if result[0].Close != 1 {
		t.Errorf("Wrong candle returned: close=%v", result[0].Close)
	}
}

func TestCandleStore_RangeExcludesOutside(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	candles := []*domain.Candle{
		{InstrumentToken: 256265, Timeframe: domain.Timeframe1m, Bucket: bucketAt(9, 14), Close: 1},
		{InstrumentToken: 256265, Timeframe: domain.Timeframe1m, Bucket: bucketAt(9, 15), Close: 2},
		{InstrumentToken: 256265, Timeframe: domain.Timeframe1m, Bucket: bucketAt(9, 21), Close: 3},
	}
	if err := store.UpsertBulk(ctx, candles); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	result, _ := store.GetByRange(ctx, 256265, domain.Timeframe1m, bucketAt(9, 15), bucketAt(9, 20))
	if len(result) != 1 {
		t.Fatalf("Expected 1 candle in range, got %d", len(result))
	}
}

func TestCandleStore_UnsupportedTimeframeRejected(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	err := store.UpsertBulk(ctx, []*domain.Candle{
		{InstrumentToken: 256265, Timeframe: domain.Timeframe("7m"), Bucket: bucketAt(9, 15)},
	})
	if err == nil {
		t.Fatal("Expected error for unsupported timeframe")
	}
}
