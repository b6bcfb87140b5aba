package rules

import (
	"errors"
	"testing"
	"time"

	"metricwatch-backend/internal/notify"
	"metricwatch-backend/internal/window"
)

func testRule(id, metric string) Rule {
	return Rule{
		ID:       id,
		Name:     id,
		Severity: "high",
		Channels: []notify.ChannelConfig{{Type: notify.ChannelWebhook}},
		Condition: ConditionSpec{
			Metric:        metric,
			Op:            ">",
			Threshold:     0.05,
			WindowMinutes: 5,
			Aggregation:   "avg",
		},
	}
}

func TestEvaluateFiresOnThresholdBreach(t *testing.T) {
	store := window.NewStore(100, 0)
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		if err := store.Ingest("error_rate", 0.08, now.Add(time.Duration(i-10)*time.Second), nil); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	engine := NewEngine(store, nil)
	if err := engine.AddRule(testRule("r1", "error_rate")); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	fired := engine.Evaluate(now)
	if len(fired) != 1 || fired[0].Rule.ID != "r1" {
		t.Fatalf("expected r1 to fire, got %v", fired)
	}
	if fired[0].Value <= 0.05 {
		t.Fatalf("expected observed value above threshold, got %v", fired[0].Value)
	}
}

func TestEvaluateNeverFiresOnNoData(t *testing.T) {
	store := window.NewStore(100, 0)
	engine := NewEngine(store, nil)
	rule := testRule("r1", "error_rate")
	rule.Condition.Op = "<"
	rule.Condition.Threshold = 100
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if fired := engine.Evaluate(time.Now().UTC()); len(fired) != 0 {
		t.Fatalf("no-data rule must not fire, got %v", fired)
	}
}

func TestOperators(t *testing.T) {
	store := window.NewStore(100, 0)
	now := time.Now().UTC()
	if err := store.Ingest("m", 10, now.Add(-time.Second), nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	cases := []struct {
		op        string
		threshold float64
		fires     bool
	}{
		{">", 5, true}, {">", 10, false},
		{">=", 10, true}, {"<", 20, true}, {"<", 10, false},
		{"<=", 10, true}, {"==", 10, true}, {"==", 11, false},
		{"!=", 11, true}, {"!=", 10, false},
	}
	engine := NewEngine(store, nil)
	for _, tc := range cases {
		rule := testRule("r1", "m")
		rule.Condition.Op = tc.op
		rule.Condition.Threshold = tc.threshold
		if err := engine.AddRule(rule); err != nil {
			t.Fatalf("add rule %s: %v", tc.op, err)
		}
		fired := engine.Evaluate(now)
		if (len(fired) == 1) != tc.fires {
			t.Fatalf("op %s threshold %v: expected fires=%v", tc.op, tc.threshold, tc.fires)
		}
	}
}

func TestAddRuleReplacesDuplicateID(t *testing.T) {
	store := window.NewStore(100, 0)
	engine := NewEngine(store, nil)
	first := testRule("r1", "a")
	second := testRule("r1", "b")
	if err := engine.AddRule(first); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.AddRule(second); err != nil {
		t.Fatalf("replace: %v", err)
	}
	listed := engine.ListRules()
	if len(listed) != 1 || listed[0].Condition.Metric != "b" {
		t.Fatalf("expected replacement, got %v", listed)
	}
}

func TestRemoveRuleUnknown(t *testing.T) {
	engine := NewEngine(window.NewStore(100, 0), nil)
	if err := engine.RemoveRule("nope"); !errors.Is(err, ErrUnknownRule) {
		t.Fatalf("expected ErrUnknownRule, got %v", err)
	}
}

type stubVerdicts struct {
	confidence float64
	ok         bool
}

func (s stubVerdicts) Confidence(metric string, now time.Time) (float64, bool) {
	return s.confidence, s.ok
}

func TestAnomalyTargetedRule(t *testing.T) {
	store := window.NewStore(100, 0)
	engine := NewEngine(store, stubVerdicts{confidence: 0.9, ok: true})
	rule := testRule("r1", "anomaly:response_time")
	rule.Condition.Threshold = 0.5
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	fired := engine.Evaluate(time.Now().UTC())
	if len(fired) != 1 || fired[0].Value != 0.9 {
		t.Fatalf("expected anomaly rule to fire on confidence, got %v", fired)
	}

	quiet := NewEngine(store, stubVerdicts{ok: false})
	if err := quiet.AddRule(rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if fired := quiet.Evaluate(time.Now().UTC()); len(fired) != 0 {
		t.Fatalf("anomaly rule without samples must not fire, got %v", fired)
	}
}

func TestEvaluateRule(t *testing.T) {
	store := window.NewStore(100, 0)
	now := time.Now().UTC()
	if err := store.Ingest("m", 10, now.Add(-time.Second), nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	engine := NewEngine(store, nil)
	rule := testRule("r1", "m")
	rule.Condition.Threshold = 5
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	firing, err := engine.EvaluateRule("r1", now)
	if err != nil || !firing {
		t.Fatalf("expected rule firing, got %v err=%v", firing, err)
	}
	if _, err := engine.EvaluateRule("missing", now); !errors.Is(err, ErrUnknownRule) {
		t.Fatalf("expected ErrUnknownRule, got %v", err)
	}
}
