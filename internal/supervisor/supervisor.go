// Package supervisor drives the supervision loop: tail the workflow log,
// analyze it, queue interventions, and fan results out to observers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainwatch/chainwatch/internal/analyzer"
	"github.com/chainwatch/chainwatch/internal/events"
	"github.com/chainwatch/chainwatch/internal/intervention"
	"github.com/chainwatch/chainwatch/internal/ironlaw"
	"github.com/chainwatch/chainwatch/internal/logreader"
	"github.com/chainwatch/chainwatch/internal/metrics"
	"github.com/chainwatch/chainwatch/internal/notify"
	"github.com/chainwatch/chainwatch/internal/queue"
)

// IssueScorer optionally re-scores issue confidences after detection.
// Implementations must be fail-open: on any trouble, return the input.
type IssueScorer interface {
	Score(ctx context.Context, issues []analyzer.Issue, a *analyzer.Analysis) []analyzer.Issue
}

// Config holds supervisor dependencies and policy.
type Config struct {
	// LogPath is the workflow event log to supervise (required)
	LogPath string
	// StatePath is where supervisor state persists (required)
	StatePath string
	// Analyzer produces analyses from log entries (required)
	Analyzer *analyzer.Analyzer
	// Generator maps issues to task inputs (required)
	Generator *intervention.Generator
	// Queue durably stores intervention tasks (required)
	Queue *queue.Manager
	// Monitor runs compliance sweeps; started and stopped with the
	// supervisor when set
	Monitor *ironlaw.Monitor
	// Notifier delivers operator alerts when set
	Notifier *notify.Notifier
	// Metrics receives counters when set
	Metrics *metrics.Metrics
	// Scorer re-scores confidences when set
	Scorer IssueScorer
	// PollInterval between log reads (default 10s)
	PollInterval time.Duration
	// MaxEntryWindow bounds the in-memory entry window (default 10000)
	MaxEntryWindow int
	// SignatureRetention is how long handled finding keys suppress
	// re-filing across sessions (default 24h)
	SignatureRetention time.Duration
	// Now overrides the clock for tests
	Now func() time.Time
}

// Supervisor owns the supervision loop and its persisted state.
type Supervisor struct {
	cfg     Config
	reader  *logreader.Reader
	now     func() time.Time
	metrics *metrics.Metrics

	analysisObservers     []AnalysisObserver
	taskObservers         []TaskObserver
	notificationObservers []NotificationObserver
	violationObservers    []ViolationObserver

	mu      sync.Mutex
	status  Status
	state   *State
	entries []events.LogEntry
	last    *analyzer.Analysis

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor in the idle state.
func New(cfg Config) (*Supervisor, error) {
	if cfg.LogPath == "" {
		return nil, fmt.Errorf("log path is required")
	}
	if cfg.StatePath == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue manager is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxEntryWindow <= 0 {
		cfg.MaxEntryWindow = 10000
	}
	if cfg.SignatureRetention <= 0 {
		cfg.SignatureRetention = 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	reader, err := logreader.NewReader(cfg.LogPath)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		cfg:     cfg,
		reader:  reader,
		now:     now,
		metrics: cfg.Metrics,
		status:  StatusIdle,
	}, nil
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastAnalysis returns the most recent analysis, nil before the first pass.
func (s *Supervisor) LastAnalysis() *analyzer.Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start loads persisted state and begins the supervision loop. Starting a
// running supervisor is an error; starting a stopped one begins a fresh
// session from the persisted offset.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already running")
	}
	s.state = loadState(s.cfg.StatePath)
	s.entries = nil
	s.status = StatusRunning
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.cfg.Monitor != nil {
		if err := s.cfg.Monitor.Start(s.ctx); err != nil {
			s.mu.Lock()
			s.status = StatusIdle
			s.mu.Unlock()
			s.cancel()
			return fmt.Errorf("starting compliance monitor: %w", err)
		}
	}

	var hints <-chan struct{}
	watcher, err := logreader.NewWatcher(s.cfg.LogPath)
	if err != nil {
		fmt.Printf("Supervisor: change watching unavailable, polling only: %v\n", err)
	} else {
		hints = watcher.Hints()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			watcher.Run(s.ctx)
		}()
	}

	s.wg.Add(1)
	go s.run(hints, watcher)

	fmt.Printf("Supervisor: started (log %s, poll every %v)\n", s.cfg.LogPath, s.cfg.PollInterval)
	return nil
}

// Stop halts the loop, lets the in-flight pass finish, and persists state.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	if s.cfg.Monitor != nil {
		s.cfg.Monitor.Stop()
	}

	s.mu.Lock()
	s.status = StatusStopped
	st := s.state
	s.mu.Unlock()

	if err := saveState(s.cfg.StatePath, st); err != nil {
		fmt.Printf("Supervisor: failed to persist state on stop: %v\n", err)
	}
	fmt.Printf("Supervisor: stopped\n")
}

func (s *Supervisor) run(hints <-chan struct{}, watcher *logreader.Watcher) {
	defer s.wg.Done()
	if watcher != nil {
		defer watcher.Close()
	}

	// First pass immediately so a restart catches up without waiting a tick.
	s.pass()

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			s.pass()
			timer.Reset(s.cfg.PollInterval)
		case <-hints:
			s.pass()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.cfg.PollInterval)
		}
	}
}

// Pass runs one supervision pass synchronously. The loop calls it on every
// tick; tests call it directly.
func (s *Supervisor) Pass() {
	s.pass()
}

// passResult carries what a pass produced, emitted after the lock drops so
// observers can freely call back into the supervisor.
type passResult struct {
	analysis      *analyzer.Analysis
	tasks         []*queue.Task
	notifications []notify.Notification
}

func (s *Supervisor) pass() {
	s.mu.Lock()
	res := s.passLocked()
	s.mu.Unlock()

	if res == nil {
		return
	}
	for _, task := range res.tasks {
		s.emitTask(task)
	}
	for _, n := range res.notifications {
		s.emitNotification(n)
	}
	s.emitAnalysis(res.analysis)
}

func (s *Supervisor) passLocked() *passResult {
	now := s.now()
	if s.state == nil {
		s.state = loadState(s.cfg.StatePath)
	}

	fresh, offset, err := s.reader.Read(s.state.LogOffset)
	if err != nil {
		fmt.Printf("Supervisor: log read failed, will retry: %v\n", err)
		return nil
	}
	if offset < s.state.LogOffset {
		// Log was truncated or replaced; the old window describes a file
		// that no longer exists.
		fmt.Printf("Supervisor: log reset detected, discarding entry window\n")
		s.entries = nil
	}
	s.state.LogOffset = offset
	s.entries = append(s.entries, fresh...)
	if len(s.entries) > s.cfg.MaxEntryWindow {
		s.entries = s.entries[len(s.entries)-s.cfg.MaxEntryWindow:]
	}

	a := s.cfg.Analyzer.Analyze(s.entries, now)
	// A restarted session resumes from the persisted offset, so its window
	// may lack the entries that established the workflow position. Restore
	// the position from persisted state; otherwise finding signatures lose
	// their command/phase context and suppressed findings get re-filed.
	if a.CurrentCommand == "" && s.state.CurrentCommand != "" {
		a.CurrentCommand = s.state.CurrentCommand
		a.CurrentPhase = s.state.CurrentPhase
		if a.PhaseStartTime.IsZero() {
			a.PhaseStartTime = s.state.PhaseStartTime
		}
	}
	if a.LastActivityTime.IsZero() {
		a.LastActivityTime = s.state.LastActivityTime
	}
	if s.cfg.Scorer != nil && len(a.Issues) > 0 {
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		a.Issues = s.cfg.Scorer.Score(ctx, a.Issues, a)
		a.Health = s.cfg.Analyzer.HealthFor(a.Issues)
	}
	s.last = a

	if s.metrics != nil {
		s.metrics.AnalysisPasses.Inc()
		for _, issue := range a.Issues {
			s.metrics.IssuesDetected.WithLabelValues(string(issue.Type)).Inc()
		}
	}

	res := &passResult{analysis: a}
	s.fileInterventions(res, a, now)

	s.state.CurrentCommand = a.CurrentCommand
	s.state.CurrentPhase = a.CurrentPhase
	s.state.PhaseStartTime = a.PhaseStartTime
	s.state.LastActivityTime = a.LastActivityTime
	s.state.ChainProgress = make(map[string]string, len(a.ChainProgress))
	for cmd, st := range a.ChainProgress {
		s.state.ChainProgress[cmd] = string(st)
	}
	s.pruneSignatures(now)
	s.state.UpdatedAt = now
	if err := saveState(s.cfg.StatePath, s.state); err != nil {
		fmt.Printf("Supervisor: failed to persist state: %v\n", err)
	}

	s.updateQueueGauges()
	return res
}

// fileInterventions queues tasks for the analysis' issues, suppressing
// findings a previous session already handled. Caller holds s.mu.
func (s *Supervisor) fileInterventions(res *passResult, a *analyzer.Analysis, now time.Time) {
	inputs, err := s.cfg.Generator.Generate(a.Issues, a)
	if err != nil {
		fmt.Printf("Supervisor: intervention generation failed: %v\n", err)
		return
	}

	for _, input := range inputs {
		key := sessionKey(input.Signature, a.PhaseStartTime)
		if _, handled := s.state.ProcessedSignatures[key]; handled {
			if s.metrics != nil {
				s.metrics.TasksSuppressed.Inc()
			}
			continue
		}

		task, err := s.cfg.Queue.AddTask(input)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrDuplicateSignature):
				s.state.ProcessedSignatures[key] = now
			case errors.Is(err, queue.ErrQueueFull):
				fmt.Printf("Supervisor: queue full, dropping %s task for %s\n", input.Priority, input.AnomalyType)
			default:
				fmt.Printf("Supervisor: failed to queue task for %s: %v\n", input.AnomalyType, err)
			}
			continue
		}

		s.state.ProcessedSignatures[key] = now
		if s.metrics != nil {
			s.metrics.TasksCreated.WithLabelValues(string(task.Priority)).Inc()
		}
		res.tasks = append(res.tasks, task)

		if task.Priority == queue.PriorityCritical && s.cfg.Notifier != nil {
			alert := notify.TaskAlert(task)
			if s.cfg.Notifier.Deliver(alert) {
				res.notifications = append(res.notifications, alert)
			}
		}
	}
}

// HandleViolations routes newly detected compliance violations through the
// supervisor's observers and notifier. Safe to call from the monitor's
// sweep goroutine.
func (s *Supervisor) HandleViolations(violations []ironlaw.Violation) {
	if len(violations) == 0 {
		return
	}
	if s.metrics != nil && s.cfg.Monitor != nil {
		s.metrics.OpenViolations.Set(float64(len(s.cfg.Monitor.OpenViolations())))
	}
	if s.cfg.Notifier != nil {
		alert := notify.ViolationAlert(violations)
		if s.cfg.Notifier.Deliver(alert) {
			s.emitNotification(alert)
		}
	}
	s.emitViolations(violations)
}

// sessionKey folds the phase start time into the signature so the same
// finding is suppressed across restarts, while the same issue type in a
// later phase instance files a fresh task.
func sessionKey(signature string, phaseStart time.Time) string {
	return fmt.Sprintf("%s|%d", signature, phaseStart.Unix())
}

// pruneSignatures drops handled-finding records past retention.
// Caller holds s.mu.
func (s *Supervisor) pruneSignatures(now time.Time) {
	for key, at := range s.state.ProcessedSignatures {
		if now.Sub(at) >= s.cfg.SignatureRetention {
			delete(s.state.ProcessedSignatures, key)
		}
	}
}

// updateQueueGauges refreshes per-status queue size metrics.
// Caller holds s.mu.
func (s *Supervisor) updateQueueGauges() {
	if s.metrics == nil {
		return
	}
	tasks, err := s.cfg.Queue.ListTasks(queue.Filter{})
	if err != nil {
		return
	}
	counts := map[queue.Status]int{}
	for i := range tasks {
		counts[tasks[i].Status]++
	}
	for _, st := range []queue.Status{queue.StatusPending, queue.StatusInProgress, queue.StatusCompleted, queue.StatusExpired} {
		s.metrics.QueueSize.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
