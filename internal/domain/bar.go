package domain

import "time"

// Bar represents a single OHLCV candlestick for a fixed time interval.
// Upstream sources are assumed to deliver bars with OpenTime < CloseTime and
// High/Low bracketing Open and Close; the engine does not re-validate this.
type Bar struct {
	OpenTime  time.Time `json:"open_time"`  // Start time of the interval
	CloseTime time.Time `json:"close_time"` // End time of the interval
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Trades    int64     `json:"trades"` // Number of trades in the interval
}

// FeatureBar is a Bar augmented with indicator values. Each field stays nil
// until enough history has accumulated for the indicator to be defined.
type FeatureBar struct {
	Bar     Bar      `json:"bar"`
	EMAFast *float64 `json:"ema_fast"`
	EMASlow *float64 `json:"ema_slow"`
	RSI     *float64 `json:"rsi"`
	CMF     *float64 `json:"cmf"`
}

// FeatureFrame is a time-ordered sequence of FeatureBars for one symbol.
// No duplicate timestamps are assumed; the frame may be empty.
type FeatureFrame struct {
	Symbol string       `json:"symbol"`
	Rows   []FeatureBar `json:"rows"`
}

// LatestWindow returns a frame holding the most recent n rows.
// If fewer than n rows exist the whole frame is returned.
func (f *FeatureFrame) LatestWindow(n int) FeatureFrame {
	start := len(f.Rows) - n
	if start < 0 {
		start = 0
	}
	rows := make([]FeatureBar, len(f.Rows)-start)
	copy(rows, f.Rows[start:])
	return FeatureFrame{Symbol: f.Symbol, Rows: rows}
}
