package domain

// Instrument describes a tradable contract from the instrument master.
// Corresponds to the instruments table in PostgreSQL.
type Instrument struct {
	Token          int64  // unique broker-assigned token
	Symbol         string // trading symbol
	Exchange       string // NSE, BSE, NFO ...
	Segment        string // INDICES, NSE, NFO-FUT ...
	InstrumentType string // EQ, FUT, CE, PE
	LotSize        int
}

// Segments eligible for streaming and auto-backfill.
const (
	SegmentIndices = "INDICES"
	SegmentNSE     = "NSE"
	SegmentNFOFut  = "NFO-FUT"
)
