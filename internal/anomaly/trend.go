package anomaly

import (
	"math"
	"time"
)

const (
	trendMaxSamples     = 100
	trendMinSamples     = 10
	trendAlpha          = 0.3
	trendBandMultiplier = 3.0
)

// Trend forecasts the next value with exponential smoothing and flags
// deviations larger than a volatility-scaled band around the forecast.
type Trend struct {
	History        History
	MaxSamples     int
	MinSamples     int
	Alpha          float64
	BandMultiplier float64
}

func NewTrend(history History) *Trend {
	return &Trend{
		History:        history,
		MaxSamples:     trendMaxSamples,
		MinSamples:     trendMinSamples,
		Alpha:          trendAlpha,
		BandMultiplier: trendBandMultiplier,
	}
}

func (t *Trend) Name() string { return "trend" }

func (t *Trend) Evaluate(metric string, value float64, ts time.Time, context map[string]string) Verdict {
	samples := t.History.Recent(metric, t.MaxSamples)
	if len(samples) < t.MinSamples {
		return abstain()
	}
	smoothed := samples[0].Value
	residuals := make([]float64, 0, len(samples)-1)
	for _, sample := range samples[1:] {
		residuals = append(residuals, sample.Value-smoothed)
		smoothed = t.Alpha*sample.Value + (1-t.Alpha)*smoothed
	}
	deviation := math.Abs(value - smoothed)
	band := t.BandMultiplier * StdDev(residuals, false)
	if band == 0 {
		if deviation <= defaultEpsilon {
			return abstain()
		}
		return Verdict{Anomaly: true, Confidence: 1}
	}
	return Verdict{
		Anomaly:    deviation > band,
		Confidence: clamp01(deviation / band),
	}
}
