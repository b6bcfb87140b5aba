package anomaly

import (
	"time"

	"metricwatch-backend/internal/window"
)

// Verdict is the decision of a single strategy or of the ensemble.
// PerStrategy is populated by the ensemble only.
type Verdict struct {
	Anomaly     bool               `json:"isAnomaly"`
	Confidence  float64            `json:"confidence"`
	PerStrategy map[string]float64 `json:"perStrategy,omitempty"`
}

// Strategy decides whether a value is anomalous for a metric. A strategy
// with insufficient history abstains: Anomaly=false, Confidence=0.
type Strategy interface {
	Name() string
	Evaluate(metric string, value float64, ts time.Time, context map[string]string) Verdict
}

// Observer is implemented by strategies that learn incrementally from
// newly ingested (assumed-normal) samples.
type Observer interface {
	Observe(metric string, value float64, ts time.Time, context map[string]string)
}

// History is the read surface strategies need from the window store.
type History interface {
	Recent(metric string, count int) []window.Sample
}

func abstain() Verdict {
	return Verdict{}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
