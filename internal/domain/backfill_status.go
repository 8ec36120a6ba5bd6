package domain

import "time"

// BackfillStatus tracks the most recent backfill run for one instrument.
// Corresponds to the backfill_status table in PostgreSQL. The auto-backfill
// sweep reads it to decide whether an instrument is stale.
type BackfillStatus struct {
	InstrumentToken int64
	LastRun         time.Time // when the last backfill completed
	From            time.Time // start of the covered range
	To              time.Time // end of the covered range
	CandleCount     int       // candles returned by that run
	UpdatedAt       time.Time
}
