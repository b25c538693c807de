package engine

import "math"

// volWindow is the number of recent mid prices used for the volatility
// estimate. At a 30s refresh this covers roughly ten minutes.
const volWindow = 20

// volEstimator keeps a rolling window of mid prices and reports a normalized
// volatility figure: the standard deviation of one-step returns, in percent.
// Typical calm markets land well under 0.5; the spread planner caps the
// widening it can cause regardless.
type volEstimator struct {
	mids []float64
}

func (v *volEstimator) add(mid float64) {
	if mid <= 0 {
		return
	}
	v.mids = append(v.mids, mid)
	if len(v.mids) > volWindow {
		v.mids = v.mids[len(v.mids)-volWindow:]
	}
}

func (v *volEstimator) value() float64 {
	if len(v.mids) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(v.mids)-1)
	for i := 1; i < len(v.mids); i++ {
		if v.mids[i-1] > 0 {
			returns = append(returns, (v.mids[i]-v.mids[i-1])/v.mids[i-1])
		}
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * 100
}
