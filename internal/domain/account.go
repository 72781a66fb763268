package domain

import "time"

// AccountState holds the mutable financial state of one simulated account.
// Equity must equal Cash + PositionQty*markPrice after every state change;
// MaxDrawdown is a high-water-mark ratio and never decreases.
type AccountState struct {
	Cash             float64 `json:"cash"`
	PositionQty      float64 `json:"position_qty"`
	PositionAvgPrice float64 `json:"position_avg_price"` // Volume-weighted average entry price
	Equity           float64 `json:"equity"`
	MaxDrawdown      float64 `json:"max_drawdown"`
}

// NewAccountState returns a flat account holding only cash.
func NewAccountState(cash float64) AccountState {
	return AccountState{Cash: cash, Equity: cash}
}

// TradeEvent is an immutable record of a realized fill. The ledger it lives
// in is append-only and never mutated after the fact.
type TradeEvent struct {
	BarTime        time.Time    `json:"bar_time"`
	Side           ActionSide   `json:"action"`
	FillPrice      float64      `json:"fill_price"` // Slippage-adjusted display price
	Qty            float64      `json:"qty"`
	FeePaid        float64      `json:"fee_paid"`
	SlippageBPS    float64      `json:"slippage_bps"`
	ResultingState AccountState `json:"resulting_state"`
}

// BacktestResult is the outcome of a full deterministic replay.
type BacktestResult struct {
	Symbol      string       `json:"symbol"`
	Start       time.Time    `json:"start"`
	End         time.Time    `json:"end"`
	InitialCash float64      `json:"initial_cash"`
	FinalState  AccountState `json:"final_state"`
	Trades      []TradeEvent `json:"trades"`
}
