package indicators

// EMA computes the exponential moving average over values with the given
// period. The seed value is the simple average of the first period values,
// emitted at index period-1; earlier indices are nil. A period of 0 yields
// all nil.
func EMA(values []float64, period int) []*float64 {
	result := make([]*float64, len(values))
	if period <= 0 {
		return result
	}

	k := 2.0 / (float64(period) + 1.0)
	var prev *float64
	for i, v := range values {
		var current float64
		switch {
		case prev != nil:
			current = *prev + k*(v-*prev)
		case i+1 == period:
			// Seed with the simple average of the first period values.
			sum := 0.0
			for _, s := range values[:i+1] {
				sum += s
			}
			current = sum / float64(period)
		default:
			continue
		}
		c := current
		prev = &c
		result[i] = &c
	}
	return result
}
