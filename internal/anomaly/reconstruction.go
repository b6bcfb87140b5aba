package anomaly

import (
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"
)

const (
	reconstructionMinObservations = 50
	reconstructionErrThreshold    = 3.0
)

// Reconstruction maintains an incrementally trained per-metric model of
// "normal" feature vectors (value, hour of day, day of week plus any
// numeric context signals) and flags inputs whose reconstruction error
// exceeds a calibrated threshold. It trains on ingested samples, which are
// assumed normal, and abstains until enough observations have been seen.
type Reconstruction struct {
	mu              sync.RWMutex
	models          map[string]*featureModel
	MinObservations int
	ErrThreshold    float64
	logger          *slog.Logger
}

type featureModel struct {
	count    int
	features map[string]*runningStat
}

type runningStat struct {
	mean float64
	m2   float64
}

func NewReconstruction(logger *slog.Logger) *Reconstruction {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstruction{
		models:          map[string]*featureModel{},
		MinObservations: reconstructionMinObservations,
		ErrThreshold:    reconstructionErrThreshold,
		logger:          logger,
	}
}

func (r *Reconstruction) Name() string { return "reconstruction" }

// Observe folds a newly ingested sample into the metric's model. Malformed
// feature vectors degrade to a logged skip rather than an error.
func (r *Reconstruction) Observe(metric string, value float64, ts time.Time, context map[string]string) {
	features := featureVector(value, ts, context)
	for name, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			r.logger.Warn("reconstruction training skipped",
				slog.String("metric", metric), slog.String("feature", name))
			return
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	model, ok := r.models[metric]
	if !ok {
		model = &featureModel{features: map[string]*runningStat{}}
		r.models[metric] = model
	}
	model.count++
	for name, v := range features {
		stat, ok := model.features[name]
		if !ok {
			stat = &runningStat{}
			model.features[name] = stat
		}
		delta := v - stat.mean
		stat.mean += delta / float64(model.count)
		stat.m2 += delta * (v - stat.mean)
	}
}

func (r *Reconstruction) Evaluate(metric string, value float64, ts time.Time, context map[string]string) Verdict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.models[metric]
	if !ok || model.count < r.MinObservations {
		return abstain()
	}
	features := featureVector(value, ts, context)
	sum := 0.0
	n := 0
	for name, v := range features {
		stat, ok := model.features[name]
		if !ok {
			continue
		}
		sd := math.Sqrt(stat.m2 / float64(model.count-1))
		if sd < defaultEpsilon {
			sd = defaultEpsilon
		}
		diff := (v - stat.mean) / sd
		sum += diff * diff
		n++
	}
	if n == 0 {
		return abstain()
	}
	errScore := math.Sqrt(sum / float64(n))
	return Verdict{
		Anomaly:    errScore > r.ErrThreshold,
		Confidence: clamp01(errScore / r.ErrThreshold),
	}
}

// Observations reports how many samples have trained a metric's model.
func (r *Reconstruction) Observations(metric string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if model, ok := r.models[metric]; ok {
		return model.count
	}
	return 0
}

func featureVector(value float64, ts time.Time, context map[string]string) map[string]float64 {
	utc := ts.UTC()
	features := map[string]float64{
		"value":     value,
		"hourOfDay": float64(utc.Hour()),
		"dayOfWeek": float64(utc.Weekday()),
	}
	for k, raw := range context {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			features["ctx:"+k] = v
		}
	}
	return features
}
