package indicators

// RSI computes the relative strength index using Wilder smoothing. The seed
// averages cover the first period deltas and the first RSI value is emitted
// at index period; at least period+1 values are required, otherwise every
// index is nil. An average loss of zero is defined as RSI 100.
func RSI(values []float64, period int) []*float64 {
	result := make([]*float64, len(values))
	if period <= 0 || len(values) < period+1 {
		return result
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta >= 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	set := func(i int) {
		v := 100.0
		if avgLoss != 0 {
			rs := avgGain / avgLoss
			v = 100.0 - 100.0/(1.0+rs)
		}
		result[i] = &v
	}
	set(period)

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gain := 0.0
		loss := 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		set(i)
	}

	return result
}
