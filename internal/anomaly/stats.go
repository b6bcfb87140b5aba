package anomaly

import "math"

const defaultEpsilon = 1e-9

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func StdDev(values []float64, population bool) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	denom := float64(len(values))
	if !population {
		if len(values) < 2 {
			return 0
		}
		denom = float64(len(values) - 1)
	}
	return math.Sqrt(sum / denom)
}

// ZScore returns the normalized distance of value from the sample mean.
// When the deviation collapses to zero the score is 0 for values at the
// mean and +Inf otherwise.
func ZScore(value float64, values []float64) float64 {
	mean := Mean(values)
	sd := StdDev(values, false)
	if sd == 0 {
		if math.Abs(value-mean) <= defaultEpsilon {
			return 0
		}
		return math.Inf(1)
	}
	return (value - mean) / sd
}
