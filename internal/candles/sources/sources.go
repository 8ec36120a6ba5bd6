// Package sources selects the historical candle source a binary runs
// with. Only the stub is wired today; broker adapters register here as
// they land.
package sources

import (
	"fmt"

	"tickvault/internal/candles"
	"tickvault/internal/candles/stub"
)

// Stub names the built-in empty source. It holds no data, so every
// backfill against it reports the gap unresolved.
const Stub = "stub"

// Open returns the historical source registered under name.
func Open(name string) (candles.HistoricalSource, error) {
	switch name {
	case Stub:
		return stub.NewSource(), nil
	default:
		return nil, fmt.Errorf("unknown historical source %q (supported: %s)", name, Stub)
	}
}
