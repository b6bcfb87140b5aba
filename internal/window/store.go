package window

import (
	"errors"
	"math"
	"sync"
	"time"
)

var ErrInvalidSample = errors.New("invalid sample")

type Sample struct {
	Metric  string
	TS      time.Time
	Value   float64
	Context map[string]string
}

// Store keeps a bounded history of recent samples per metric name.
// Windows are sharded behind their own locks so ingestion for one metric
// never blocks on another.
type Store struct {
	mu         sync.RWMutex
	windows    map[string]*metricWindow
	maxSamples int
	maxAge     time.Duration
}

type metricWindow struct {
	mu      sync.RWMutex
	samples []Sample
}

func NewStore(maxSamples int, maxAge time.Duration) *Store {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &Store{
		windows:    map[string]*metricWindow{},
		maxSamples: maxSamples,
		maxAge:     maxAge,
	}
}

func (s *Store) window(metric string, create bool) *metricWindow {
	s.mu.RLock()
	w, ok := s.windows[metric]
	s.mu.RUnlock()
	if ok || !create {
		return w
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[metric]; ok {
		return w
	}
	w = &metricWindow{}
	s.windows[metric] = w
	return w
}

// Ingest appends a sample to the metric's window. Samples must carry a
// non-empty metric name, a finite value and a timestamp strictly after the
// last ingested sample for that metric.
func (s *Store) Ingest(metric string, value float64, ts time.Time, context map[string]string) error {
	if metric == "" {
		return ErrInvalidSample
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ErrInvalidSample
	}
	w := s.window(metric, true)
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.samples); n > 0 && !ts.After(w.samples[n-1].TS) {
		return ErrInvalidSample
	}
	w.samples = append(w.samples, Sample{Metric: metric, TS: ts, Value: value, Context: context})
	w.evict(ts, s.maxSamples, s.maxAge)
	return nil
}

func (w *metricWindow) evict(now time.Time, maxSamples int, maxAge time.Duration) {
	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		idx := 0
		for idx < len(w.samples) && w.samples[idx].TS.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			w.samples = append(w.samples[:0], w.samples[idx:]...)
		}
	}
	if over := len(w.samples) - maxSamples; over > 0 {
		w.samples = append(w.samples[:0], w.samples[over:]...)
	}
}

// Aggregate computes the aggregation over samples with TS >= now-window.
// The second return value is false when the metric has no samples in
// range, so callers can tell "no data" apart from a literal zero.
func (s *Store) Aggregate(metric string, window time.Duration, aggregation string, now time.Time) (float64, bool) {
	w := s.window(metric, false)
	if w == nil {
		return 0, false
	}
	cutoff := now.Add(-window)
	w.mu.RLock()
	defer w.mu.RUnlock()
	var (
		sum   float64
		min   float64
		max   float64
		count int
	)
	for _, sample := range w.samples {
		if sample.TS.Before(cutoff) {
			continue
		}
		if count == 0 {
			min, max = sample.Value, sample.Value
		} else {
			if sample.Value < min {
				min = sample.Value
			}
			if sample.Value > max {
				max = sample.Value
			}
		}
		sum += sample.Value
		count++
	}
	if count == 0 {
		return 0, false
	}
	switch aggregation {
	case "avg":
		return sum / float64(count), true
	case "sum":
		return sum, true
	case "min":
		return min, true
	case "max":
		return max, true
	case "count":
		return float64(count), true
	default:
		return 0, false
	}
}

// Recent returns up to the last count samples for a metric, oldest first.
// The returned slice is a copy and safe to hold across ingestion.
func (s *Store) Recent(metric string, count int) []Sample {
	w := s.window(metric, false)
	if w == nil || count <= 0 {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	start := 0
	if len(w.samples) > count {
		start = len(w.samples) - count
	}
	out := make([]Sample, len(w.samples)-start)
	copy(out, w.samples[start:])
	return out
}
