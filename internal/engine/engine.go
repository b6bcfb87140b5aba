package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"metricwatch-backend/internal/anomaly"
	"metricwatch-backend/internal/bus"
	"metricwatch-backend/internal/escalate"
	"metricwatch-backend/internal/notify"
	"metricwatch-backend/internal/rules"
	"metricwatch-backend/internal/storage"
	"metricwatch-backend/internal/throttle"
	"metricwatch-backend/internal/window"
)

const escalationPrefix = "[escalation] "

type Options struct {
	Windows    *window.Store
	Detector   *anomaly.Detector
	Rules      *rules.Engine
	Throttle   *throttle.Controller
	Dispatcher *notify.Dispatcher
	Bus        *bus.Publisher       // optional
	Repo       *storage.Repository  // optional
	Logger     *slog.Logger
	Interval   time.Duration
	Workers    int
	QueueSize  int
}

type dispatchJob struct {
	alert      notify.Alert
	channels   []notify.ChannelConfig
	escalation *rules.EscalationSpec
	escalated  bool
}

// Engine drives the alert pipeline: periodic rule evaluation, throttle
// gating, asynchronous dispatch through a bounded worker queue, and
// deferred escalation.
type Engine struct {
	windows     *window.Store
	detector    *anomaly.Detector
	rules       *rules.Engine
	throttle    *throttle.Controller
	dispatcher  *notify.Dispatcher
	escalations *escalate.Scheduler
	publisher   *bus.Publisher
	repo        *storage.Repository
	logger      *slog.Logger
	interval    time.Duration
	queue       chan dispatchJob
	workers     int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		windows:    opts.Windows,
		detector:   opts.Detector,
		rules:      opts.Rules,
		throttle:   opts.Throttle,
		dispatcher: opts.Dispatcher,
		publisher:  opts.Bus,
		repo:       opts.Repo,
		logger:     opts.Logger,
		interval:   opts.Interval,
		queue:      make(chan dispatchJob, opts.QueueSize),
		workers:    opts.Workers,
		ctx:        ctx,
		cancel:     cancel,
	}
	e.escalations = escalate.NewScheduler(e.fireEscalation, e.stillFiring, opts.Logger)
	return e
}

func (e *Engine) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.escalations.Start()
	e.wg.Add(1)
	go e.run()
}

func (e *Engine) Stop() {
	e.cancel()
	e.escalations.Stop()
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			e.Tick(now.UTC())
		case <-e.ctx.Done():
			return
		}
	}
}

// Ingest validates and stores a sample, then feeds it to the learning
// strategies as assumed-normal training data.
func (e *Engine) Ingest(metric string, value float64, ts time.Time, context map[string]string) error {
	if err := e.windows.Ingest(metric, value, ts, context); err != nil {
		return err
	}
	e.detector.Observe(metric, value, ts, context)
	return nil
}

// Verdict runs the ensemble for ad-hoc inspection without ingesting.
func (e *Engine) Verdict(metric string, value float64, ts time.Time, context map[string]string) anomaly.Verdict {
	return e.detector.Evaluate(metric, value, ts, context)
}

func (e *Engine) AddRule(ctx context.Context, rule rules.Rule) error {
	_, getErr := e.rules.GetRule(rule.ID)
	replaced := getErr == nil
	if err := e.rules.AddRule(rule); err != nil {
		return err
	}
	if e.repo != nil {
		ruleJSON, err := json.Marshal(rule)
		if err == nil {
			err = e.repo.UpsertRule(ctx, storage.RuleRecord{ID: rule.ID, Name: rule.Name, RuleJSON: ruleJSON})
		}
		if err != nil {
			e.logger.Error("rule persistence failed", slog.String("ruleId", rule.ID), slog.String("error", err.Error()))
		}
	}
	subject := bus.SubjectRuleCreated
	if replaced {
		subject = bus.SubjectRuleUpdated
	}
	e.publish(subject, bus.RuleEvent{RuleID: rule.ID})
	return nil
}

func (e *Engine) RemoveRule(ctx context.Context, id string) error {
	if err := e.rules.RemoveRule(id); err != nil {
		return err
	}
	e.throttle.Reset(id)
	if cancelled := e.escalations.CancelRule(id); cancelled > 0 {
		e.logger.Info("cancelled pending escalations", slog.String("ruleId", id), slog.Int("count", cancelled))
	}
	if e.repo != nil {
		if err := e.repo.DeleteRule(ctx, id); err != nil && err != storage.ErrNotFound {
			e.logger.Error("rule delete failed", slog.String("ruleId", id), slog.String("error", err.Error()))
		}
	}
	e.publish(bus.SubjectRuleDeleted, bus.RuleEvent{RuleID: id})
	return nil
}

func (e *Engine) GetRule(id string) (rules.Rule, error) { return e.rules.GetRule(id) }

// PendingEscalations reports queued escalation tasks.
func (e *Engine) PendingEscalations() int { return e.escalations.Pending() }

// CancelEscalation drops the pending escalation for an alert, if any.
func (e *Engine) CancelEscalation(alertID string) bool { return e.escalations.Cancel(alertID) }

func (e *Engine) ListRules() []rules.Rule { return e.rules.ListRules() }

// Tick evaluates every rule once. Exposed for tests; the run loop calls
// it on the configured interval.
func (e *Engine) Tick(now time.Time) {
	for _, firing := range e.rules.Evaluate(now) {
		rule := firing.Rule
		if !e.throttle.ShouldSend(rule.ID, rule.Throttle, now) {
			e.logger.Info("alert suppressed by throttle", slog.String("ruleId", rule.ID))
			continue
		}
		alert := notify.Alert{
			ID:            uuid.NewString(),
			RuleID:        rule.ID,
			RuleName:      rule.Name,
			Severity:      rule.Severity,
			Message:       buildMessage(rule, firing.Value),
			Timestamp:     now,
			Values:        []float64{firing.Value},
			CorrelationID: uuid.NewString(),
		}
		job := dispatchJob{alert: alert, channels: rule.Channels, escalation: rule.Escalation}
		if !e.enqueue(job) {
			e.throttle.Refund(rule.ID)
		}
	}
}

// enqueue hands a job to the dispatch workers without blocking the
// caller, reporting whether the queue accepted it.
func (e *Engine) enqueue(job dispatchJob) bool {
	select {
	case e.queue <- job:
		return true
	default:
		e.logger.Error("dispatch queue full, alert dropped",
			slog.String("ruleId", job.alert.RuleID), slog.String("alertId", job.alert.ID))
		return false
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case job := <-e.queue:
			e.dispatch(job)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) dispatch(job dispatchJob) {
	results := e.dispatcher.Dispatch(e.ctx, job.alert, job.channels)
	e.recordAlert(job.alert, results, job.escalated)
	if job.escalated {
		e.publish(bus.SubjectAlertEscalated, alertEvent(job.alert))
		return
	}
	e.publish(bus.SubjectAlertFired, alertEvent(job.alert))
	if job.escalation == nil || !anySuccess(results) {
		return
	}
	e.escalations.Schedule(escalate.Task{
		AlertID:  job.alert.ID,
		RuleID:   job.alert.RuleID,
		FireAt:   job.alert.Timestamp.Add(time.Duration(job.escalation.DelayMinutes) * time.Minute),
		Alert:    job.alert,
		Channels: job.escalation.Channels,
		Mode:     job.escalation.Mode,
	})
}

// fireEscalation runs on the escalation scheduler's loop, so it only
// enqueues; the actual send happens on a dispatch worker. A due task must
// never wait behind another task's channel timeouts.
func (e *Engine) fireEscalation(task escalate.Task) {
	alert := task.Alert
	alert.Message = escalationPrefix + alert.Message
	alert.Timestamp = time.Now().UTC()
	e.enqueue(dispatchJob{alert: alert, channels: task.Channels, escalated: true})
}

func (e *Engine) stillFiring(ruleID string) bool {
	firing, err := e.rules.EvaluateRule(ruleID, time.Now().UTC())
	if err != nil {
		return false
	}
	return firing
}

func (e *Engine) recordAlert(alert notify.Alert, results []notify.ChannelResult, escalated bool) {
	if e.repo == nil {
		return
	}
	values, _ := json.Marshal(alert.Values)
	resultJSON, _ := json.Marshal(results)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.repo.CreateAlert(ctx, storage.AlertRecord{
		AlertID:       alert.ID,
		RuleID:        alert.RuleID,
		TSUTC:         alert.Timestamp,
		Severity:      alert.Severity,
		Message:       alert.Message,
		CorrelationID: alert.CorrelationID,
		Values:        values,
		Results:       resultJSON,
		Escalated:     escalated,
	})
	if err != nil {
		e.logger.Error("alert persistence failed", slog.String("alertId", alert.ID), slog.String("error", err.Error()))
	}
}

// Reconcile replaces the in-memory registry content with persisted rules,
// used at startup and when rule events arrive from the bus.
func (e *Engine) Reconcile(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	records, err := e.repo.ListRules(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		var rule rules.Rule
		if err := json.Unmarshal(rec.RuleJSON, &rule); err != nil {
			e.logger.Error("skipping invalid persisted rule", slog.String("ruleId", rec.ID), slog.String("error", err.Error()))
			continue
		}
		if err := e.rules.AddRule(rule); err != nil {
			e.logger.Error("skipping invalid persisted rule", slog.String("ruleId", rec.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// ReconcileRule refreshes a single rule from persistence; a missing
// record removes it locally.
func (e *Engine) ReconcileRule(ctx context.Context, id string) error {
	if e.repo == nil {
		return nil
	}
	rec, err := e.repo.GetRule(ctx, id)
	if err == storage.ErrNotFound {
		if rmErr := e.rules.RemoveRule(id); rmErr == nil {
			e.throttle.Reset(id)
			e.escalations.CancelRule(id)
		}
		return nil
	}
	if err != nil {
		return err
	}
	var rule rules.Rule
	if err := json.Unmarshal(rec.RuleJSON, &rule); err != nil {
		return err
	}
	return e.rules.AddRule(rule)
}

func (e *Engine) publish(subject string, payload any) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(subject, payload); err != nil {
		e.logger.Error("bus publish failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func anySuccess(results []notify.ChannelResult) bool {
	for _, res := range results {
		if res.Success {
			return true
		}
	}
	return false
}

func alertEvent(alert notify.Alert) bus.AlertEvent {
	value := 0.0
	if len(alert.Values) > 0 {
		value = alert.Values[0]
	}
	return bus.AlertEvent{
		AlertID:       alert.ID,
		RuleID:        alert.RuleID,
		Severity:      alert.Severity,
		CorrelationID: alert.CorrelationID,
		Value:         value,
	}
}

func buildMessage(rule rules.Rule, value float64) string {
	cond := rule.Condition
	metric := cond.Metric
	if strings.HasPrefix(metric, rules.AnomalyMetricPrefix) {
		return fmt.Sprintf("%s: anomaly confidence %.2f %s %.2f for %s",
			rule.Name, value, cond.Op, cond.Threshold, strings.TrimPrefix(metric, rules.AnomalyMetricPrefix))
	}
	return fmt.Sprintf("%s: %s(%s) over %dm = %.4g, limit %s %.4g",
		rule.Name, cond.Aggregation, metric, cond.WindowMinutes, value, cond.Op, cond.Threshold)
}

// LatestVerdicts resolves anomaly-targeted rule conditions against the
// ensemble verdict for a metric's most recent sample.
type LatestVerdicts struct {
	Windows  *window.Store
	Detector *anomaly.Detector
}

func (v LatestVerdicts) Confidence(metric string, now time.Time) (float64, bool) {
	recent := v.Windows.Recent(metric, 1)
	if len(recent) == 0 {
		return 0, false
	}
	sample := recent[0]
	verdict := v.Detector.Evaluate(metric, sample.Value, sample.TS, sample.Context)
	return verdict.Confidence, true
}
