package indicators

import "mtrade/internal/domain"

// Config holds the window lengths for the feature engine.
type Config struct {
	EMAFast   int
	EMASlow   int
	RSIPeriod int
	CMFPeriod int
}

// DefaultConfig returns the standard window lengths (12/26/14/20).
func DefaultConfig() Config {
	return Config{
		EMAFast:   12,
		EMASlow:   26,
		RSIPeriod: 14,
		CMFPeriod: 20,
	}
}

// ComputeFeatures computes one FeatureBar per input bar. The computation is
// pure and order-sensitive: recomputing over the same bar sequence reproduces
// bar-for-bar identical output.
func ComputeFeatures(symbol string, bars []domain.Bar, cfg Config) domain.FeatureFrame {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	emaFast := EMA(closes, cfg.EMAFast)
	emaSlow := EMA(closes, cfg.EMASlow)
	rsiVals := RSI(closes, cfg.RSIPeriod)
	cmfVals := CMF(bars, cfg.CMFPeriod)

	rows := make([]domain.FeatureBar, len(bars))
	for i, b := range bars {
		rows[i] = domain.FeatureBar{
			Bar:     b,
			EMAFast: emaFast[i],
			EMASlow: emaSlow[i],
			RSI:     rsiVals[i],
			CMF:     cmfVals[i],
		}
	}

	return domain.FeatureFrame{Symbol: symbol, Rows: rows}
}
