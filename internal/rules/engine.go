package rules

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrUnknownRule = errors.New("unknown rule")

// Aggregator is the read surface the engine needs from the window store.
type Aggregator interface {
	Aggregate(metric string, window time.Duration, aggregation string, now time.Time) (float64, bool)
}

// VerdictSource resolves anomaly-targeted conditions: the ensemble
// confidence for a metric's latest sample, false when the metric has no
// samples yet.
type VerdictSource interface {
	Confidence(metric string, now time.Time) (float64, bool)
}

// Firing is one rule that matched during an evaluation tick.
type Firing struct {
	Rule  Rule
	Value float64
}

// Engine is the in-memory rule registry and evaluator. Evaluate is
// read-only and side-effect-free; throttling and dispatch happen
// downstream.
type Engine struct {
	mu        sync.RWMutex
	rules     map[string]Rule
	store     Aggregator
	verdicts  VerdictSource
	maxWindow int
}

func NewEngine(store Aggregator, verdicts VerdictSource) *Engine {
	return &Engine{
		rules:    map[string]Rule{},
		store:    store,
		verdicts: verdicts,
	}
}

// WithMaxWindow caps condition.windowMinutes for rules added afterwards.
func (e *Engine) WithMaxWindow(minutes int) *Engine {
	e.maxWindow = minutes
	return e
}

// AddRule validates and registers a rule, replacing any rule with the
// same id.
func (e *Engine) AddRule(rule Rule) error {
	if err := ValidateRule(rule, e.maxWindow); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	return nil
}

func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return ErrUnknownRule
	}
	delete(e.rules, id)
	return nil
}

func (e *Engine) GetRule(id string) (Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	if !ok {
		return Rule{}, ErrUnknownRule
	}
	return rule, nil
}

func (e *Engine) ListRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evaluate checks every registered rule against the current aggregates and
// returns the rules that fired. A rule whose metric has no data in its
// window never fires.
func (e *Engine) Evaluate(now time.Time) []Firing {
	e.mu.RLock()
	snapshot := make([]Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		snapshot = append(snapshot, rule)
	}
	e.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

	fired := make([]Firing, 0)
	for _, rule := range snapshot {
		value, ok := e.resolve(rule, now)
		if !ok {
			continue
		}
		if compare(rule.Condition.Op, value, rule.Condition.Threshold) {
			fired = append(fired, Firing{Rule: rule, Value: value})
		}
	}
	return fired
}

// EvaluateRule re-checks a single rule, used by escalation re-checks.
func (e *Engine) EvaluateRule(id string, now time.Time) (bool, error) {
	rule, err := e.GetRule(id)
	if err != nil {
		return false, err
	}
	value, ok := e.resolve(rule, now)
	if !ok {
		return false, nil
	}
	return compare(rule.Condition.Op, value, rule.Condition.Threshold), nil
}

func (e *Engine) resolve(rule Rule, now time.Time) (float64, bool) {
	metric := rule.Condition.Metric
	if strings.HasPrefix(metric, AnomalyMetricPrefix) {
		if e.verdicts == nil {
			return 0, false
		}
		return e.verdicts.Confidence(strings.TrimPrefix(metric, AnomalyMetricPrefix), now)
	}
	window := time.Duration(rule.Condition.WindowMinutes) * time.Minute
	return e.store.Aggregate(metric, window, rule.Condition.Aggregation, now)
}

func compare(op string, value, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}
