package domain

import "time"

// Gap is a maximal bucket-aligned sub-range of a requested range that has
// no stored candle. Start and End are inclusive bucket starts; a
// single-bucket gap has Start == End. Gaps are computed on demand and
// never persisted.
type Gap struct {
	Start time.Time
	End   time.Time
}
