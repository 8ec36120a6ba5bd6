package sources

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickvault/internal/domain"
)

func TestOpen_Stub(t *testing.T) {
	src, err := Open(Stub)
	require.NoError(t, err)
	require.NotNil(t, src)

	from := time.Date(2024, 3, 12, 9, 15, 0, 0, time.UTC)
	got, err := src.FetchCandles(context.Background(), 256265, from, from.Add(time.Hour), domain.Timeframe1m)
	require.NoError(t, err)
	assert.Empty(t, got, "stub source starts empty")
}

func TestOpen_Unknown(t *testing.T) {
	src, err := Open("zerodha")
	require.Error(t, err)
	assert.Nil(t, src)
	assert.Contains(t, err.Error(), "zerodha")
}
