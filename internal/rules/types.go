package rules

import (
	"metricwatch-backend/internal/notify"
)

// AnomalyMetricPrefix marks a rule condition that targets the ensemble
// verdict for a metric instead of a raw aggregate. The compared value is
// the ensemble confidence for the metric's latest sample.
const AnomalyMetricPrefix = "anomaly:"

const (
	EscalateUnconditionally = "unconditional"
	EscalateIfStillFiring   = "if_still_firing"
)

type Rule struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Condition   ConditionSpec          `json:"condition"`
	Severity    string                 `json:"severity"`
	Channels    []notify.ChannelConfig `json:"channels"`
	Throttle    *ThrottleSpec          `json:"throttle,omitempty"`
	Escalation  *EscalationSpec        `json:"escalation,omitempty"`
}

type ConditionSpec struct {
	Metric        string  `json:"metric"`
	Op            string  `json:"operator"`
	Threshold     float64 `json:"threshold"`
	WindowMinutes int     `json:"windowMinutes"`
	Aggregation   string  `json:"aggregation"`
}

type ThrottleSpec struct {
	DurationMinutes int `json:"durationMinutes"`
	MaxAlerts       int `json:"maxAlerts"`
}

type EscalationSpec struct {
	DelayMinutes int                    `json:"delayMinutes"`
	Channels     []notify.ChannelConfig `json:"channels"`
	// Mode chooses between always re-sending at the deadline (default)
	// and re-checking the condition first.
	Mode string `json:"mode,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint"`
}

type ValidationError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details"`
}

func (e *ValidationError) Error() string {
	return e.Message
}
