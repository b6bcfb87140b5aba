package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// Subjects published by the engine.
const (
	SubjectRuleCreated    = "rule.created"
	SubjectRuleUpdated    = "rule.updated"
	SubjectRuleDeleted    = "rule.deleted"
	SubjectAlertFired     = "alert.fired"
	SubjectAlertEscalated = "alert.escalated"
)

type RuleEvent struct {
	RuleID string `json:"rule_id"`
}

type AlertEvent struct {
	AlertID       string  `json:"alert_id"`
	RuleID        string  `json:"rule_id"`
	Severity      string  `json:"severity"`
	CorrelationID string  `json:"correlation_id"`
	Value         float64 `json:"value"`
}

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

type Subscriber struct {
	Conn *nats.Conn
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

// SubscribeRules delivers rule lifecycle events, used to reconcile the
// in-memory registry when another writer updates persisted rules.
func (s *Subscriber) SubscribeRules(subject string, handler func(RuleEvent)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt RuleEvent
		_ = json.Unmarshal(msg.Data, &evt)
		handler(evt)
	})
}
