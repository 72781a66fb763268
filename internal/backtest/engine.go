package backtest

import (
	"time"

	"mtrade/internal/domain"
)

// epsilon is the 64-bit float machine epsilon, used to clamp dust positions.
const epsilon = 2.220446049250313e-16

// Config holds the cost model for a backtest run.
type Config struct {
	InitialCash float64
	FeeRate     float64
	SlippageBPS float64
}

// DefaultConfig returns the standard cost model.
func DefaultConfig() Config {
	return Config{
		InitialCash: 10_000,
		FeeRate:     0.0005,
		SlippageBPS: 5,
	}
}

// Run replays actions against features in a single deterministic pass.
// actions[i] is aligned with features.Rows[i]; if actions is shorter, the
// missing indices are treated as Hold. An invalid action aborts the entire
// run with no partial ledger.
//
// Cash and position arithmetic use the raw close price; the recorded fill
// price carries the slippage adjustment. The ledger's displayed fill price
// therefore does not exactly match the cash delta it caused.
func Run(actions []domain.Action, features *domain.FeatureFrame, cfg Config) (*domain.BacktestResult, error) {
	state := domain.NewAccountState(cfg.InitialCash)
	trades := make([]domain.TradeEvent, 0)

	for idx, row := range features.Rows {
		price := row.Bar.Close
		if idx < len(actions) {
			action := actions[idx]
			if err := action.Validate(); err != nil {
				return nil, err
			}

			switch action.Side {
			case domain.Buy:
				spend := state.Cash * action.SizePct
				if spend > 0 && price > 0 {
					qty := spend / price
					fee := spend * cfg.FeeRate
					state.Cash -= spend + fee
					totalPositionValue := state.PositionQty*state.PositionAvgPrice + spend
					state.PositionQty += qty
					state.PositionAvgPrice = totalPositionValue / max(state.PositionQty, epsilon)
					trades = append(trades, domain.TradeEvent{
						BarTime:        row.Bar.CloseTime,
						Side:           domain.Buy,
						FillPrice:      price * (1 + cfg.SlippageBPS/10_000),
						Qty:            qty,
						FeePaid:        fee,
						SlippageBPS:    cfg.SlippageBPS,
						ResultingState: state,
					})
				}
			case domain.Sell:
				qty := state.PositionQty * action.SizePct
				if qty > 0 {
					proceeds := qty * price
					fee := proceeds * cfg.FeeRate
					state.Cash += proceeds - fee
					state.PositionQty -= qty
					if state.PositionQty <= epsilon {
						state.PositionAvgPrice = 0
						state.PositionQty = 0
					}
					trades = append(trades, domain.TradeEvent{
						BarTime:        row.Bar.CloseTime,
						Side:           domain.Sell,
						FillPrice:      price * (1 - cfg.SlippageBPS/10_000),
						Qty:            qty,
						FeePaid:        fee,
						SlippageBPS:    cfg.SlippageBPS,
						ResultingState: state,
					})
				}
			}
		}

		equity := state.Cash + state.PositionQty*price
		if equity > 0 {
			drawdown := (cfg.InitialCash - equity) / cfg.InitialCash
			if drawdown < 0 {
				drawdown = 0
			}
			if drawdown > state.MaxDrawdown {
				state.MaxDrawdown = drawdown
			}
		}
		state.Equity = equity
	}

	start := time.Now().UTC()
	end := start
	if len(features.Rows) > 0 {
		start = features.Rows[0].Bar.OpenTime
		end = features.Rows[len(features.Rows)-1].Bar.CloseTime
	}

	return &domain.BacktestResult{
		Symbol:      features.Symbol,
		Start:       start,
		End:         end,
		InitialCash: cfg.InitialCash,
		FinalState:  state,
		Trades:      trades,
	}, nil
}
