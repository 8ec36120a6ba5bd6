package candles

import (
	"context"
	"errors"
	"time"

	"tickvault/internal/domain"
)

// HistoricalSource fetches OHLCV candles from an upstream provider.
// Implementations wrap broker historical APIs; credential handling and
// wire-protocol details live behind this interface.
type HistoricalSource interface {
	// FetchCandles returns candles for an instrument with bucket within
	// [from, to] (inclusive) at the given timeframe. A transient failure
	// (timeout, rate limit, connection loss) is reported as a
	// TransientError so callers can retry; any other error is permanent.
	FetchCandles(ctx context.Context, token int64, from, to time.Time, tf domain.Timeframe) ([]*domain.Candle, error)
}

// TransientError marks a source failure that is worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient source error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
