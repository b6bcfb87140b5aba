package anomaly

import (
	"math"
	"time"
)

const (
	statisticalMaxSamples = 1000
	statisticalMinSamples = 30
	statisticalZThreshold = 3.0
)

// Statistical flags values whose z-score against the metric's recent
// history exceeds a fixed threshold.
type Statistical struct {
	History    History
	MaxSamples int
	MinSamples int
	ZThreshold float64
}

func NewStatistical(history History) *Statistical {
	return &Statistical{
		History:    history,
		MaxSamples: statisticalMaxSamples,
		MinSamples: statisticalMinSamples,
		ZThreshold: statisticalZThreshold,
	}
}

func (s *Statistical) Name() string { return "statistical" }

func (s *Statistical) Evaluate(metric string, value float64, ts time.Time, context map[string]string) Verdict {
	samples := s.History.Recent(metric, s.MaxSamples)
	if len(samples) < s.MinSamples {
		return abstain()
	}
	values := make([]float64, len(samples))
	for i, sample := range samples {
		values[i] = sample.Value
	}
	z := math.Abs(ZScore(value, values))
	return Verdict{
		Anomaly:    z > s.ZThreshold,
		Confidence: clamp01(z / s.ZThreshold),
	}
}
