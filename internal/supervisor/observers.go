package supervisor

import (
	"fmt"

	"github.com/chainwatch/chainwatch/internal/analyzer"
	"github.com/chainwatch/chainwatch/internal/ironlaw"
	"github.com/chainwatch/chainwatch/internal/notify"
	"github.com/chainwatch/chainwatch/internal/queue"
)

// Observer callbacks. Callbacks run synchronously on the supervision
// goroutine in registration order; a panicking callback is isolated and
// the remaining callbacks still run.
type (
	// AnalysisObserver receives every completed analysis
	AnalysisObserver func(*analyzer.Analysis)
	// TaskObserver receives every newly queued task
	TaskObserver func(*queue.Task)
	// NotificationObserver receives every delivered alert
	NotificationObserver func(notify.Notification)
	// ViolationObserver receives newly detected compliance violations
	ViolationObserver func([]ironlaw.Violation)
)

// OnAnalysis registers an analysis observer. Not safe to call after Start.
func (s *Supervisor) OnAnalysis(fn AnalysisObserver) {
	s.analysisObservers = append(s.analysisObservers, fn)
}

// OnTask registers a task observer. Not safe to call after Start.
func (s *Supervisor) OnTask(fn TaskObserver) {
	s.taskObservers = append(s.taskObservers, fn)
}

// OnNotification registers a notification observer. Not safe to call after Start.
func (s *Supervisor) OnNotification(fn NotificationObserver) {
	s.notificationObservers = append(s.notificationObservers, fn)
}

// OnViolation registers a violation observer. Not safe to call after Start.
func (s *Supervisor) OnViolation(fn ViolationObserver) {
	s.violationObservers = append(s.violationObservers, fn)
}

// emit runs one callback with panic isolation.
func (s *Supervisor) emit(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if s.metrics != nil {
				s.metrics.ObserverPanics.Inc()
			}
			fmt.Printf("Supervisor: %s observer panicked: %v\n", kind, r)
		}
	}()
	fn()
}

func (s *Supervisor) emitAnalysis(a *analyzer.Analysis) {
	for _, fn := range s.analysisObservers {
		s.emit("analysis", func() { fn(a) })
	}
}

func (s *Supervisor) emitTask(t *queue.Task) {
	for _, fn := range s.taskObservers {
		s.emit("task", func() { fn(t) })
	}
}

func (s *Supervisor) emitNotification(n notify.Notification) {
	for _, fn := range s.notificationObservers {
		s.emit("notification", func() { fn(n) })
	}
}

func (s *Supervisor) emitViolations(vs []ironlaw.Violation) {
	for _, fn := range s.violationObservers {
		s.emit("violation", func() { fn(vs) })
	}
}
