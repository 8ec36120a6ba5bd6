package domain

import (
	"errors"
	"fmt"
	"time"
)

// Timeframe identifies a fixed candle interval.
type Timeframe string

// Supported timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// ErrUnsupportedTimeframe is returned for timeframes outside the fixed set.
var ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// ParseTimeframe validates s against the supported set.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, s)
	}
	return tf, nil
}

// Duration returns the interval length of the timeframe.
func (tf Timeframe) Duration() (time.Duration, error) {
	d, ok := timeframeDurations[tf]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, string(tf))
	}
	return d, nil
}

// Truncate aligns t down to the bucket boundary of the timeframe.
// Buckets are counted from the Unix epoch in UTC.
func (tf Timeframe) Truncate(t time.Time) (time.Time, error) {
	d, err := tf.Duration()
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(d), nil
}

// Candle is an OHLCV summary of all ticks within one bucket.
// One logical row per (instrument_token, timeframe, bucket).
type Candle struct {
	InstrumentToken int64
	Timeframe       Timeframe
	Bucket          time.Time // bucket start, aligned to the timeframe boundary
	Open            float64
	High            float64
	Low             float64
	Close           float64
	Volume          int64
	OpenInterest    int64
}
