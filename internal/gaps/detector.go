// Package gaps detects missing bucket-aligned sub-ranges in a candle series.
package gaps

import (
	"errors"
	"fmt"
	"time"

	"tickvault/internal/domain"
)

// ErrInvalidInput is returned for an inverted range or a bucket sequence
// that is not strictly increasing.
var ErrInvalidInput = errors.New("invalid input")

// Find computes the maximal bucket-aligned sub-ranges of
// [rangeStart, rangeEnd] that are not covered by buckets.
//
// buckets must be strictly increasing bucket starts; rangeStart and
// rangeEnd are inclusive bucket starts of the requested range. The
// function is pure: same input, same output, no side effects.
func Find(buckets []time.Time, rangeStart, rangeEnd time.Time, tf domain.Timeframe) ([]domain.Gap, error) {
	interval, err := tf.Duration()
	if err != nil {
		return nil, err
	}

	if rangeEnd.Before(rangeStart) {
		return nil, fmt.Errorf("%w: range end %v before start %v", ErrInvalidInput, rangeEnd, rangeStart)
	}
	for i := 1; i < len(buckets); i++ {
		if !buckets[i].After(buckets[i-1]) {
			return nil, fmt.Errorf("%w: bucket sequence not strictly increasing at index %d", ErrInvalidInput, i)
		}
	}

	if len(buckets) == 0 {
		return []domain.Gap{{Start: rangeStart, End: rangeEnd}}, nil
	}

	var result []domain.Gap

	// Leading gap before the first known bucket.
	if first := buckets[0]; first.After(rangeStart) {
		result = append(result, domain.Gap{Start: rangeStart, End: first.Add(-interval)})
	}

	// Interior gaps between consecutive buckets.
	for i := 0; i < len(buckets)-1; i++ {
		expected := buckets[i].Add(interval)
		if buckets[i+1].After(expected) {
			result = append(result, domain.Gap{Start: expected, End: buckets[i+1].Add(-interval)})
		}
	}

	// Trailing gap after the last known bucket.
	if last := buckets[len(buckets)-1]; last.Before(rangeEnd) {
		result = append(result, domain.Gap{Start: last.Add(interval), End: rangeEnd})
	}

	return result, nil
}
