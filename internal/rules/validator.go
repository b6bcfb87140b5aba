package rules

import (
	"fmt"

	"metricwatch-backend/internal/notify"
)

var validOps = map[string]bool{">": true, "<": true, ">=": true, "<=": true, "==": true, "!=": true}

var validAggregations = map[string]bool{"avg": true, "sum": true, "min": true, "max": true, "count": true}

var validSeverities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

var validChannelTypes = map[string]bool{
	notify.ChannelEmail:   true,
	notify.ChannelSlack:   true,
	notify.ChannelWebhook: true,
	notify.ChannelSMS:     true,
}

// ValidateRule checks a rule's schema. maxWindowMinutes caps the
// condition window so one rule cannot demand unbounded history; zero
// means no cap.
func ValidateRule(rule Rule, maxWindowMinutes int) *ValidationError {
	var details []ErrorDetail
	if rule.ID == "" {
		details = append(details, ErrorDetail{Field: "id", Problem: "missing", Hint: "Provide a unique rule id"})
	}
	if rule.Name == "" {
		details = append(details, ErrorDetail{Field: "name", Problem: "missing", Hint: "Provide a rule name"})
	}
	if rule.Condition.Metric == "" {
		details = append(details, ErrorDetail{Field: "condition.metric", Problem: "missing", Hint: "Name the metric the rule watches"})
	}
	if !validOps[rule.Condition.Op] {
		details = append(details, ErrorDetail{Field: "condition.operator", Problem: "unsupported", Hint: "Use one of > < >= <= == !="})
	}
	if rule.Condition.WindowMinutes <= 0 {
		details = append(details, ErrorDetail{Field: "condition.windowMinutes", Problem: "out of range", Hint: "Window must be positive"})
	} else if maxWindowMinutes > 0 && rule.Condition.WindowMinutes > maxWindowMinutes {
		details = append(details, ErrorDetail{
			Field:   "condition.windowMinutes",
			Problem: "out of range",
			Hint:    fmt.Sprintf("Window may not exceed %d minutes", maxWindowMinutes),
		})
	}
	if !validAggregations[rule.Condition.Aggregation] {
		details = append(details, ErrorDetail{Field: "condition.aggregation", Problem: "unsupported", Hint: "Use avg, sum, min, max or count"})
	}
	if !validSeverities[rule.Severity] {
		details = append(details, ErrorDetail{Field: "severity", Problem: "unsupported", Hint: "Use low, medium, high or critical"})
	}
	if len(rule.Channels) == 0 {
		details = append(details, ErrorDetail{Field: "channels", Problem: "missing", Hint: "Provide at least one notification channel"})
	}
	details = append(details, validateChannels("channels", rule.Channels)...)
	if rule.Throttle != nil {
		if rule.Throttle.DurationMinutes <= 0 {
			details = append(details, ErrorDetail{Field: "throttle.durationMinutes", Problem: "out of range", Hint: "Duration must be positive"})
		}
		if rule.Throttle.MaxAlerts <= 0 {
			details = append(details, ErrorDetail{Field: "throttle.maxAlerts", Problem: "out of range", Hint: "Allow at least one alert per window"})
		}
	}
	if rule.Escalation != nil {
		if rule.Escalation.DelayMinutes <= 0 {
			details = append(details, ErrorDetail{Field: "escalation.delayMinutes", Problem: "out of range", Hint: "Delay must be positive"})
		}
		if len(rule.Escalation.Channels) == 0 {
			details = append(details, ErrorDetail{Field: "escalation.channels", Problem: "missing", Hint: "Provide escalation channels"})
		}
		details = append(details, validateChannels("escalation.channels", rule.Escalation.Channels)...)
		switch rule.Escalation.Mode {
		case "", EscalateUnconditionally, EscalateIfStillFiring:
		default:
			details = append(details, ErrorDetail{Field: "escalation.mode", Problem: "unsupported", Hint: "Use unconditional or if_still_firing"})
		}
	}
	if len(details) > 0 {
		return &ValidationError{Code: "RULE_SCHEMA_INVALID", Message: "rule failed validation", Details: details}
	}
	return nil
}

func validateChannels(field string, channels []notify.ChannelConfig) []ErrorDetail {
	var details []ErrorDetail
	for i, ch := range channels {
		if !validChannelTypes[ch.Type] {
			details = append(details, ErrorDetail{
				Field:   fmt.Sprintf("%s[%d].type", field, i),
				Problem: "unsupported",
				Hint:    "Use email, slack, webhook or sms",
			})
		}
	}
	return details
}
