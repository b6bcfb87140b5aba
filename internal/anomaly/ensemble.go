package anomaly

import (
	"time"
)

// FuseFunc combines per-strategy verdicts into an ensemble verdict.
type FuseFunc func(names []string, verdicts []Verdict) Verdict

// FuseOrMax is the default fusion: anomalous when any strategy says so,
// confident as the most confident strategy.
func FuseOrMax(names []string, verdicts []Verdict) Verdict {
	fused := Verdict{PerStrategy: make(map[string]float64, len(verdicts))}
	for i, v := range verdicts {
		fused.PerStrategy[names[i]] = v.Confidence
		if v.Anomaly {
			fused.Anomaly = true
		}
		if v.Confidence > fused.Confidence {
			fused.Confidence = v.Confidence
		}
	}
	fused.Confidence = clamp01(fused.Confidence)
	return fused
}

// Detector runs a registered list of strategies and fuses their verdicts.
// New strategies register into the list without touching the fusion.
type Detector struct {
	strategies []Strategy
	fuse       FuseFunc
}

func NewDetector(strategies ...Strategy) *Detector {
	return &Detector{strategies: strategies, fuse: FuseOrMax}
}

// WithFusion replaces the fusion policy. Passing nil restores the default.
func (d *Detector) WithFusion(fuse FuseFunc) *Detector {
	if fuse == nil {
		fuse = FuseOrMax
	}
	d.fuse = fuse
	return d
}

func (d *Detector) Register(s Strategy) {
	d.strategies = append(d.strategies, s)
}

func (d *Detector) Evaluate(metric string, value float64, ts time.Time, context map[string]string) Verdict {
	names := make([]string, len(d.strategies))
	verdicts := make([]Verdict, len(d.strategies))
	for i, s := range d.strategies {
		names[i] = s.Name()
		verdicts[i] = s.Evaluate(metric, value, ts, context)
	}
	return d.fuse(names, verdicts)
}

// Observe forwards an ingested sample to every learning strategy.
func (d *Detector) Observe(metric string, value float64, ts time.Time, context map[string]string) {
	for _, s := range d.strategies {
		if obs, ok := s.(Observer); ok {
			obs.Observe(metric, value, ts, context)
		}
	}
}
