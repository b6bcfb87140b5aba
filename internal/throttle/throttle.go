package throttle

import (
	"sync"
	"time"

	"metricwatch-backend/internal/rules"
)

// Controller rate-limits alert sends per rule: at most MaxAlerts true
// results within any fixed DurationMinutes window. State is created lazily
// on first check and mutated only here.
type Controller struct {
	mu     sync.Mutex
	states map[string]*state
}

type state struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

func NewController() *Controller {
	return &Controller{states: map[string]*state{}}
}

// ShouldSend reports whether an alert for the rule may be sent now. Rules
// without a throttle spec are never suppressed. Mutation is serialized per
// rule id so concurrent evaluations cannot both consume the last slot.
func (c *Controller) ShouldSend(ruleID string, spec *rules.ThrottleSpec, now time.Time) bool {
	if spec == nil {
		return true
	}
	st := c.state(ruleID)
	st.mu.Lock()
	defer st.mu.Unlock()
	duration := time.Duration(spec.DurationMinutes) * time.Minute
	if st.windowStart.IsZero() || now.Sub(st.windowStart) >= duration {
		st.windowStart = now
		st.count = 1
		return true
	}
	if st.count < spec.MaxAlerts {
		st.count++
		return true
	}
	return false
}

// Refund returns a send slot consumed by ShouldSend, used when a
// permitted alert is dropped before anything was sent.
func (c *Controller) Refund(ruleID string) {
	c.mu.Lock()
	st, ok := c.states[ruleID]
	c.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	if st.count > 0 {
		st.count--
	}
	st.mu.Unlock()
}

// Reset forgets the throttle state for a rule, typically on rule removal.
func (c *Controller) Reset(ruleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, ruleID)
}

func (c *Controller) state(ruleID string) *state {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[ruleID]
	if !ok {
		st = &state{}
		c.states[ruleID] = st
	}
	return st
}
