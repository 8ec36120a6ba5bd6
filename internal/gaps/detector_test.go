package gaps

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickvault/internal/domain"
)

func at(hh, mm int) time.Time {
	return time.Date(2024, 3, 12, hh, mm, 0, 0, time.UTC)
}

func TestFind_EmptyBuckets(t *testing.T) {
	got, err := Find(nil, at(9, 15), at(9, 20), domain.Timeframe1m)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, at(9, 15), got[0].Start)
	assert.Equal(t, at(9, 20), got[0].End)
}

func TestFind_FullyCovered(t *testing.T) {
	buckets := []time.Time{at(9, 15), at(9, 16), at(9, 17)}

	got, err := Find(buckets, at(9, 15), at(9, 17), domain.Timeframe1m)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFind_SingleMissingBucket(t *testing.T) {
	// Buckets [t, t+2d] missing t+d yields exactly [t+d, t+d].
	buckets := []time.Time{at(9, 15), at(9, 17)}

	got, err := Find(buckets, at(9, 15), at(9, 17), domain.Timeframe1m)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, domain.Gap{Start: at(9, 16), End: at(9, 16)}, got[0])
}

func TestFind_InteriorAndTrailingGaps(t *testing.T) {
	// Existing 09:15, 09:16, 09:19 over 09:15-09:20 -> [09:17,09:18] and [09:20,09:20].
	buckets := []time.Time{at(9, 15), at(9, 16), at(9, 19)}

	got, err := Find(buckets, at(9, 15), at(9, 20), domain.Timeframe1m)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, domain.Gap{Start: at(9, 17), End: at(9, 18)}, got[0])
	assert.Equal(t, domain.Gap{Start: at(9, 20), End: at(9, 20)}, got[1])
}

func TestFind_LeadingGap(t *testing.T) {
	buckets := []time.Time{at(9, 18), at(9, 19)}

	got, err := Find(buckets, at(9, 15), at(9, 19), domain.Timeframe1m)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, domain.Gap{Start: at(9, 15), End: at(9, 17)}, got[0])
}

func TestFind_SingleBucketRange(t *testing.T) {
	// range_start == range_end with no matching bucket is one single-bucket gap.
	got, err := Find(nil, at(9, 15), at(9, 15), domain.Timeframe1m)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, domain.Gap{Start: at(9, 15), End: at(9, 15)}, got[0])
}

func TestFind_FiveMinuteTimeframe(t *testing.T) {
	buckets := []time.Time{at(9, 15), at(9, 25)}

	got, err := Find(buckets, at(9, 15), at(9, 30), domain.Timeframe5m)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, domain.Gap{Start: at(9, 20), End: at(9, 20)}, got[0])
	assert.Equal(t, domain.Gap{Start: at(9, 30), End: at(9, 30)}, got[1])
}

func TestFind_InvertedRange(t *testing.T) {
	_, err := Find(nil, at(9, 20), at(9, 15), domain.Timeframe1m)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFind_NonIncreasingBuckets(t *testing.T) {
	buckets := []time.Time{at(9, 16), at(9, 15)}
	_, err := Find(buckets, at(9, 15), at(9, 20), domain.Timeframe1m)
	assert.ErrorIs(t, err, ErrInvalidInput)

	dup := []time.Time{at(9, 15), at(9, 15)}
	_, err = Find(dup, at(9, 15), at(9, 20), domain.Timeframe1m)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFind_UnsupportedTimeframe(t *testing.T) {
	_, err := Find(nil, at(9, 15), at(9, 20), domain.Timeframe("3m"))
	assert.True(t, errors.Is(err, domain.ErrUnsupportedTimeframe))
}
