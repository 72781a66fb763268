package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ActionSide represents the direction of a trading intent.
type ActionSide string

const (
	Buy  ActionSide = "BUY"
	Sell ActionSide = "SELL"
	Hold ActionSide = "HOLD"
)

// OrderType distinguishes immediate execution from resting limit orders.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// ErrSizeOutOfRange is returned when an action's size fraction falls outside [0,1].
var ErrSizeOutOfRange = errors.New("size_pct out of range")

// Action is a single trading intent: a side and the fraction of available
// cash (Buy) or position (Sell) to commit.
type Action struct {
	Symbol  string     `json:"symbol"`
	Side    ActionSide `json:"side"`
	SizePct float64    `json:"size_pct"`
	Note    string     `json:"note,omitempty"`
}

// Validate checks that SizePct is a fraction in [0,1].
func (a Action) Validate() error {
	if math.IsNaN(a.SizePct) || a.SizePct < 0 || a.SizePct > 1 {
		return fmt.Errorf("%w: %v", ErrSizeOutOfRange, a.SizePct)
	}
	return nil
}

// Order is a resting limit order owned by exactly one session's open-order
// list. Its principal (cash for a Buy, quantity for a Sell) is escrowed at
// placement time and released on fill or cancel.
type Order struct {
	ID        string     `json:"id"`
	Side      ActionSide `json:"side"`
	Type      OrderType  `json:"order_type"`
	Price     float64    `json:"price"`
	Quantity  float64    `json:"quantity"`
	CreatedAt time.Time  `json:"created_at"`
}
