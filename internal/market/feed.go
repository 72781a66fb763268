// Package market provides the two market data feed variants: a deterministic
// cursor over precomputed bars for backtests and a continuously updated
// latest-bar cell fed by a resilient streaming loop for live sessions.
package market

import "mtrade/internal/domain"

// Mode identifies the feed variant behind the Feed interface.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// Feed is a polymorphic market data source. Exactly two implementations
// exist (BacktestFeed and LiveFeed); the interface is deliberately closed.
type Feed interface {
	// NextBar returns the next observable bar, or ok=false when none is
	// available. It never blocks waiting for new data.
	NextBar() (bar domain.FeatureBar, ok bool)

	// Mode reports which variant this feed is.
	Mode() Mode
}
