// Package session implements paper-trading sessions: per-session account
// state, resting-order matching with escrow, and the concurrent registry
// through which callers reach a session.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"mtrade/internal/domain"
	"mtrade/internal/market"
	"mtrade/internal/ports"
)

// epsilon is the 64-bit float machine epsilon, used to clamp dust positions.
const epsilon = 2.220446049250313e-16

// defaultFeeRate matches the live simulation's taker fee.
const defaultFeeRate = 0.001

// Session is one trader's mutable state: an account, a list of resting
// orders, and an exclusively-owned market feed. All methods assume the
// caller holds the session's lock (see Manager.WithSession); Session itself
// performs no synchronization.
type Session struct {
	ID         uuid.UUID
	Feed       market.Feed
	Account    domain.AccountState
	OpenOrders []domain.Order

	feeRate float64
}

// New creates a session with a flat account.
func New(id uuid.UUID, feed market.Feed, initialCash, feeRate float64) *Session {
	if feeRate <= 0 {
		feeRate = defaultFeeRate
	}
	return &Session{
		ID:      id,
		Feed:    feed,
		Account: domain.NewAccountState(initialCash),
		feeRate: feeRate,
	}
}

// ActionRequest is one order action against a session.
type ActionRequest struct {
	Side          domain.ActionSide
	SizePct       float64
	Type          domain.OrderType
	Price         *float64 // Required for limit orders
	CancelOrderID string   // When set, cancels that order instead of placing one
	LastPrice     *float64 // Reference price for market orders and equity marks
}

// ApplyAction processes a cancel, market, or limit order request.
//
// Cancels refund the escrowed cash (Buy) or quantity (Sell) and remove the
// order. Market orders execute immediately at the reference price with no
// slippage model. Limit orders escrow their principal at placement time and
// rest until CheckFills crosses them. A rejected request mutates no state.
func (s *Session) ApplyAction(req ActionRequest) error {
	if req.CancelOrderID != "" {
		s.cancelOrder(req.CancelOrderID)
		return nil
	}

	if err := (domain.Action{Side: req.Side, SizePct: req.SizePct}).Validate(); err != nil {
		return err
	}

	switch req.Type {
	case domain.Market:
		return s.applyMarket(req)
	case domain.Limit:
		return s.applyLimit(req)
	default:
		return fmt.Errorf("%w: unsupported order type %q", ports.ErrInvalidRequest, req.Type)
	}
}

// cancelOrder refunds and removes the matching open order. An unknown id is
// a no-op, mirroring an order that already filled.
func (s *Session) cancelOrder(id string) {
	for i, order := range s.OpenOrders {
		if order.ID != id {
			continue
		}
		switch order.Side {
		case domain.Buy:
			s.Account.Cash += order.Price * order.Quantity
		case domain.Sell:
			s.Account.PositionQty += order.Quantity
		}
		s.OpenOrders = append(s.OpenOrders[:i], s.OpenOrders[i+1:]...)
		return
	}
}

func (s *Session) applyMarket(req ActionRequest) error {
	if req.LastPrice == nil {
		return ports.ErrNoReferencePrice
	}
	refPrice := *req.LastPrice

	switch req.Side {
	case domain.Buy:
		spend := s.Account.Cash * req.SizePct
		if spend > 0 && refPrice > 0 {
			qty := spend / refPrice
			fee := spend * s.feeRate
			s.Account.Cash -= spend + fee
			existingCost := s.Account.PositionAvgPrice * s.Account.PositionQty
			newQty := s.Account.PositionQty + qty
			if newQty > 0 {
				s.Account.PositionAvgPrice = (existingCost + spend) / newQty
			} else {
				s.Account.PositionAvgPrice = 0
			}
			s.Account.PositionQty = newQty
		}
	case domain.Sell:
		qty := s.Account.PositionQty * req.SizePct
		if qty > 0 {
			proceeds := qty * refPrice
			fee := proceeds * s.feeRate
			s.Account.Cash += proceeds - fee
			s.Account.PositionQty -= qty
			if s.Account.PositionQty <= epsilon {
				s.Account.PositionAvgPrice = 0
				s.Account.PositionQty = 0
			}
		}
	}

	s.recalcEquity(refPrice)
	return nil
}

func (s *Session) applyLimit(req ActionRequest) error {
	if req.Price == nil {
		return ports.ErrPriceRequired
	}
	price := *req.Price
	now := time.Now().UTC()

	switch req.Side {
	case domain.Buy:
		// Escrow the cash at placement time.
		spend := s.Account.Cash * req.SizePct
		if spend > 0 && price > 0 {
			qty := spend / price
			s.Account.Cash -= spend
			s.OpenOrders = append(s.OpenOrders, domain.Order{
				ID:        uuid.NewString(),
				Side:      domain.Buy,
				Type:      domain.Limit,
				Price:     price,
				Quantity:  qty,
				CreatedAt: now,
			})
		}
	case domain.Sell:
		// Escrow the position at placement time.
		qty := s.Account.PositionQty * req.SizePct
		if qty > 0 {
			s.Account.PositionQty -= qty
			s.OpenOrders = append(s.OpenOrders, domain.Order{
				ID:        uuid.NewString(),
				Side:      domain.Sell,
				Type:      domain.Limit,
				Price:     price,
				Quantity:  qty,
				CreatedAt: now,
			})
		}
	}

	if req.LastPrice != nil {
		s.recalcEquity(*req.LastPrice)
	}
	return nil
}

// CheckFills matches every open order against the candle: a Buy fills iff
// the candle's low reaches the limit price, a Sell iff the high does. The
// principal is already escrowed, so a fill only charges the fee (Buy) or
// credits notional minus fee (Sell). Filled orders are removed in reverse
// index order so later removals do not shift earlier indices; equity is
// recalculated once, after the full pass, at the candle close.
func (s *Session) CheckFills(candle domain.FeatureBar) {
	var filled []int
	for idx, order := range s.OpenOrders {
		switch order.Side {
		case domain.Buy:
			if candle.Bar.Low <= order.Price {
				fee := order.Price * order.Quantity * s.feeRate
				s.Account.Cash -= fee
				existingCost := s.Account.PositionAvgPrice * s.Account.PositionQty
				newCost := order.Price * order.Quantity
				newQty := s.Account.PositionQty + order.Quantity
				if newQty > 0 {
					s.Account.PositionAvgPrice = (existingCost + newCost) / newQty
				} else {
					s.Account.PositionAvgPrice = 0
				}
				s.Account.PositionQty = newQty
				filled = append(filled, idx)
			}
		case domain.Sell:
			if candle.Bar.High >= order.Price {
				notional := order.Price * order.Quantity
				fee := notional * s.feeRate
				s.Account.Cash += notional - fee
				// Position was already deducted at placement.
				filled = append(filled, idx)
			}
		}
	}

	for i := len(filled) - 1; i >= 0; i-- {
		idx := filled[i]
		s.OpenOrders = append(s.OpenOrders[:idx], s.OpenOrders[idx+1:]...)
	}

	s.recalcEquity(candle.Bar.Close)
}

// recalcEquity marks the account to the given price.
func (s *Session) recalcEquity(markPrice float64) {
	s.Account.Equity = s.Account.Cash + s.Account.PositionQty*markPrice
}
