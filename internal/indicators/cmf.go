package indicators

import (
	"math"

	"mtrade/internal/domain"
)

// CMF computes the Chaikin money flow over a sliding window of period bars.
// The window sums are maintained incrementally: each step adds the new bar's
// money-flow volume and subtracts the bar leaving the window. Values before
// the window is full are nil, as is any window whose volume sums to zero.
func CMF(bars []domain.Bar, period int) []*float64 {
	result := make([]*float64, len(bars))
	if period <= 0 || len(bars) < period {
		return result
	}

	var acc, volAcc float64
	for i := range bars {
		acc += moneyFlowVolume(bars[i])
		volAcc += bars[i].Volume

		if i >= period {
			leaving := bars[i-period]
			acc -= moneyFlowVolume(leaving)
			volAcc -= leaving.Volume
		}

		if i+1 >= period && volAcc != 0 {
			v := acc / volAcc
			result[i] = &v
		}
	}

	return result
}

// moneyFlowVolume returns the money-flow multiplier times volume for one bar.
// The multiplier is defined as 0 when high == low to avoid division by zero.
func moneyFlowVolume(b domain.Bar) float64 {
	if math.Abs(b.High-b.Low) < epsilon {
		return 0
	}
	mult := ((b.Close - b.Low) - (b.High - b.Close)) / (b.High - b.Low)
	return mult * b.Volume
}

// epsilon is the 64-bit float machine epsilon.
const epsilon = 2.220446049250313e-16
