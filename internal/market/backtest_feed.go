package market

import "mtrade/internal/domain"

// BacktestFeed replays a precomputed, finite bar sequence through an internal
// cursor. Once exhausted it returns nothing forever; it is not restartable.
type BacktestFeed struct {
	cursor int
	rows   []domain.FeatureBar
}

// NewBacktestFeed wraps the given rows. The slice is not copied; callers must
// not mutate it after handing it over.
func NewBacktestFeed(rows []domain.FeatureBar) *BacktestFeed {
	return &BacktestFeed{rows: rows}
}

// NextBar returns the bar at the cursor and advances, or ok=false once the
// sequence is exhausted.
func (f *BacktestFeed) NextBar() (domain.FeatureBar, bool) {
	if f.cursor >= len(f.rows) {
		return domain.FeatureBar{}, false
	}
	bar := f.rows[f.cursor]
	f.cursor++
	return bar, true
}

// Mode reports ModeBacktest.
func (f *BacktestFeed) Mode() Mode {
	return ModeBacktest
}
