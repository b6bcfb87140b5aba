package anomaly

import (
	"testing"
	"time"

	"metricwatch-backend/internal/window"
)

func seedStore(t *testing.T, metric string, values []float64, start time.Time) *window.Store {
	t.Helper()
	store := window.NewStore(2000, 0)
	for i, v := range values {
		if err := store.Ingest(metric, v, start.Add(time.Duration(i)*time.Second), nil); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	return store
}

func TestStatisticalAbstainsBelowMinimum(t *testing.T) {
	start := time.Now().UTC().Add(-time.Hour)
	values := make([]float64, 29)
	for i := range values {
		values[i] = 100
	}
	store := seedStore(t, "response_time", values, start)
	s := NewStatistical(store)
	verdict := s.Evaluate("response_time", 100000, time.Now().UTC(), nil)
	if verdict.Anomaly || verdict.Confidence != 0 {
		t.Fatalf("expected abstention, got %+v", verdict)
	}
}

func TestStatisticalWithinThreeSigma(t *testing.T) {
	start := time.Now().UTC().Add(-time.Hour)
	values := make([]float64, 40)
	for i := range values {
		if i%2 == 0 {
			values[i] = 180
		} else {
			values[i] = 220
		}
	}
	store := seedStore(t, "response_time", values, start)
	s := NewStatistical(store)
	verdict := s.Evaluate("response_time", 220, time.Now().UTC(), nil)
	if verdict.Anomaly {
		t.Fatalf("value within 3 sigma must not be anomalous: %+v", verdict)
	}
}

func TestStatisticalSpikeScenario(t *testing.T) {
	// 40 samples averaging 200 with ~20 stddev, then a 500 spike:
	// z = (500-200)/20 >> 3, so the verdict is anomalous at full confidence.
	start := time.Now().UTC().Add(-time.Hour)
	values := make([]float64, 40)
	for i := range values {
		if i%2 == 0 {
			values[i] = 180
		} else {
			values[i] = 220
		}
	}
	store := seedStore(t, "response_time", values, start)
	s := NewStatistical(store)
	verdict := s.Evaluate("response_time", 500, time.Now().UTC(), nil)
	if !verdict.Anomaly {
		t.Fatalf("expected anomaly for spike, got %+v", verdict)
	}
	if verdict.Confidence != 1 {
		t.Fatalf("expected confidence 1.0, got %v", verdict.Confidence)
	}
}

func TestStatisticalFlatHistory(t *testing.T) {
	start := time.Now().UTC().Add(-time.Hour)
	values := make([]float64, 35)
	for i := range values {
		values[i] = 50
	}
	store := seedStore(t, "flat", values, start)
	s := NewStatistical(store)
	if v := s.Evaluate("flat", 50, time.Now().UTC(), nil); v.Anomaly {
		t.Fatalf("repeat of constant value must not be anomalous: %+v", v)
	}
	if v := s.Evaluate("flat", 51, time.Now().UTC(), nil); !v.Anomaly || v.Confidence != 1 {
		t.Fatalf("deviation from constant history must be anomalous: %+v", v)
	}
}
