package storage

import "time"

type RuleRecord struct {
	ID       string
	Name     string
	RuleJSON []byte
}

type AlertRecord struct {
	AlertID       string
	RuleID        string
	TSUTC         time.Time
	Severity      string
	Message       string
	CorrelationID string
	Values        []byte
	Results       []byte
	Escalated     bool
	Treated       bool
}
