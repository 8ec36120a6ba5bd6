package domain

import "time"

// Tick represents a single market data update for one instrument.
// Corresponds to the tick_data table in ClickHouse.
// Numeric fields are optional: feeds deliver partial updates, so absent
// values are nil rather than zero.
type Tick struct {
	Time            time.Time // exchange timestamp
	InstrumentToken int64     // instrument identifier
	LastPrice       *float64  // last traded price
	Volume          *int64    // cumulative traded volume
	OpenInterest    *int64    // open interest (derivatives)
	BidPrice        *float64  // best bid
	AskPrice        *float64  // best ask
	BidQty          *int64    // best bid quantity
	AskQty          *int64    // best ask quantity
}
