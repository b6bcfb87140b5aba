package escalate

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"metricwatch-backend/internal/notify"
	"metricwatch-backend/internal/rules"
)

// Task is a deferred escalation: when FireAt elapses the alert is re-sent
// to the escalation channels.
type Task struct {
	AlertID  string
	RuleID   string
	FireAt   time.Time
	Alert    notify.Alert
	Channels []notify.ChannelConfig
	Mode     string

	index int
}

type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].FireAt.Before(h[j].FireAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x any)         { t := x.(*Task); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() any           { old := *h; n := len(old); t := old[n-1]; old[n-1] = nil; *h = old[:n-1]; return t }

// FireFunc delivers a due escalation.
type FireFunc func(task Task)

// RecheckFunc reports whether a rule's condition still holds, consulted
// for tasks in if_still_firing mode.
type RecheckFunc func(ruleID string) bool

// Scheduler holds escalation tasks in a time-ordered queue polled by its
// own loop. Tasks are cancellable by alert id and by rule id, so removing
// a rule cannot leak pending timers.
type Scheduler struct {
	mu      sync.Mutex
	tasks   taskHeap
	wake    chan struct{}
	stop    chan struct{}
	stopped sync.Once
	fire    FireFunc
	recheck RecheckFunc
	logger  *slog.Logger
}

func NewScheduler(fire FireFunc, recheck RecheckFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		fire:    fire,
		recheck: recheck,
		logger:  logger,
	}
}

func (s *Scheduler) Start() {
	go s.loop()
}

func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stop) })
}

func (s *Scheduler) Schedule(task Task) {
	s.mu.Lock()
	heap.Push(&s.tasks, &task)
	s.mu.Unlock()
	s.poke()
}

// Cancel removes the pending task for an alert id.
func (s *Scheduler) Cancel(alertID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.AlertID == alertID {
			heap.Remove(&s.tasks, task.index)
			return true
		}
	}
	return false
}

// CancelRule removes every pending task for a rule, returning the count.
func (s *Scheduler) CancelRule(ruleID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for i := 0; i < len(s.tasks); {
		if s.tasks[i].RuleID == ruleID {
			heap.Remove(&s.tasks, i)
			removed++
			continue
		}
		i++
	}
	return removed
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		next := s.dispatchDue(time.Now())
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next.IsZero() {
			timer.Reset(time.Hour)
		} else if wait := time.Until(next); wait > 0 {
			timer.Reset(wait)
		} else {
			timer.Reset(time.Millisecond)
		}
		select {
		case <-timer.C:
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

// dispatchDue fires every task whose deadline has passed and returns the
// next deadline, zero when the queue is empty.
func (s *Scheduler) dispatchDue(now time.Time) time.Time {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			return time.Time{}
		}
		next := s.tasks[0]
		if next.FireAt.After(now) {
			deadline := next.FireAt
			s.mu.Unlock()
			return deadline
		}
		heap.Pop(&s.tasks)
		s.mu.Unlock()

		if next.Mode == rules.EscalateIfStillFiring && s.recheck != nil && !s.recheck(next.RuleID) {
			s.logger.Info("escalation skipped, condition cleared",
				slog.String("alertId", next.AlertID),
				slog.String("ruleId", next.RuleID))
			continue
		}
		s.fire(*next)
	}
}
