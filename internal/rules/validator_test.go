package rules

import (
	"strings"
	"testing"

	"metricwatch-backend/internal/notify"
)

func TestValidateRuleRejectsBadSpec(t *testing.T) {
	err := ValidateRule(Rule{
		ID:       "",
		Severity: "urgent",
		Condition: ConditionSpec{
			Op:          "~",
			Aggregation: "median",
		},
		Channels: []notify.ChannelConfig{{Type: "pager"}},
	}, 0)
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if err.Code != "RULE_SCHEMA_INVALID" {
		t.Fatalf("unexpected code %s", err.Code)
	}
	fields := make([]string, 0, len(err.Details))
	for _, d := range err.Details {
		fields = append(fields, d.Field)
	}
	joined := strings.Join(fields, ",")
	for _, want := range []string{"id", "condition.operator", "condition.aggregation", "severity", "channels[0].type"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected detail for %s in %s", want, joined)
		}
	}
}

func TestValidateThrottleAndEscalation(t *testing.T) {
	rule := Rule{
		ID:       "r1",
		Name:     "r1",
		Severity: "low",
		Condition: ConditionSpec{
			Metric:        "m",
			Op:            ">",
			WindowMinutes: 5,
			Aggregation:   "avg",
		},
		Channels:   []notify.ChannelConfig{{Type: notify.ChannelWebhook}},
		Throttle:   &ThrottleSpec{DurationMinutes: 0, MaxAlerts: 0},
		Escalation: &EscalationSpec{DelayMinutes: 0, Mode: "maybe"},
	}
	err := ValidateRule(rule, 0)
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	joined := ""
	for _, d := range err.Details {
		joined += d.Field + ","
	}
	for _, want := range []string{"throttle.durationMinutes", "throttle.maxAlerts", "escalation.delayMinutes", "escalation.channels", "escalation.mode"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected detail for %s in %s", want, joined)
		}
	}
}

func TestValidateRuleAcceptsCompleteSpec(t *testing.T) {
	rule := Rule{
		ID:       "r1",
		Name:     "error rate high",
		Severity: "critical",
		Condition: ConditionSpec{
			Metric:        "error_rate",
			Op:            ">",
			Threshold:     0.05,
			WindowMinutes: 5,
			Aggregation:   "avg",
		},
		Channels: []notify.ChannelConfig{{Type: notify.ChannelSlack}},
		Throttle: &ThrottleSpec{DurationMinutes: 15, MaxAlerts: 3},
		Escalation: &EscalationSpec{
			DelayMinutes: 10,
			Channels:     []notify.ChannelConfig{{Type: notify.ChannelEmail}},
			Mode:         EscalateIfStillFiring,
		},
	}
	if err := ValidateRule(rule, 0); err != nil {
		t.Fatalf("expected valid rule, got %v details=%v", err, err.Details)
	}
}

func TestValidateRuleCapsWindow(t *testing.T) {
	rule := Rule{
		ID:       "r1",
		Name:     "wide window",
		Severity: "low",
		Condition: ConditionSpec{
			Metric:        "m",
			Op:            ">",
			WindowMinutes: 2000,
			Aggregation:   "avg",
		},
		Channels: []notify.ChannelConfig{{Type: notify.ChannelWebhook}},
	}
	err := ValidateRule(rule, 1440)
	if err == nil {
		t.Fatalf("expected validation failure for window over cap")
	}
	found := false
	for _, d := range err.Details {
		if d.Field == "condition.windowMinutes" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected detail for condition.windowMinutes, got %v", err.Details)
	}
	// Inside the cap the same rule passes.
	rule.Condition.WindowMinutes = 1440
	if err := ValidateRule(rule, 1440); err != nil {
		t.Fatalf("expected valid rule at the cap, got %v", err)
	}
	// Zero cap means no limit.
	rule.Condition.WindowMinutes = 2000
	if err := ValidateRule(rule, 0); err != nil {
		t.Fatalf("expected valid rule without a cap, got %v", err)
	}
}
