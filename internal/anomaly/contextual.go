package anomaly

import (
	"math"
	"time"
)

const (
	contextualMaxSamples = 1000
	contextualMinSamples = 5
	contextualZThreshold = 2.5
)

// Contextual compares a value against historical samples sharing the same
// hour-of-day bucket, so a metric with a daily shape is judged against
// peers from the same part of the day.
type Contextual struct {
	History    History
	MaxSamples int
	MinSamples int
	ZThreshold float64
}

func NewContextual(history History) *Contextual {
	return &Contextual{
		History:    history,
		MaxSamples: contextualMaxSamples,
		MinSamples: contextualMinSamples,
		ZThreshold: contextualZThreshold,
	}
}

func (c *Contextual) Name() string { return "contextual" }

func (c *Contextual) Evaluate(metric string, value float64, ts time.Time, context map[string]string) Verdict {
	samples := c.History.Recent(metric, c.MaxSamples)
	hour := ts.UTC().Hour()
	values := make([]float64, 0, len(samples))
	for _, sample := range samples {
		if sample.TS.UTC().Hour() != hour {
			continue
		}
		values = append(values, sample.Value)
	}
	if len(values) < c.MinSamples {
		return abstain()
	}
	z := math.Abs(ZScore(value, values))
	return Verdict{
		Anomaly:    z > c.ZThreshold,
		Confidence: clamp01(z / c.ZThreshold),
	}
}
