package intervention

import (
	"fmt"
	"sync"
	"time"

	"github.com/chainwatch/chainwatch/internal/analyzer"
	"github.com/chainwatch/chainwatch/internal/queue"
)

// QueueChecker is the slice of the queue manager the generator needs for
// signature-level duplicate suppression.
type QueueChecker interface {
	HasPendingSignature(signature string) (bool, error)
}

// priorityTable is the fixed issue-type to priority mapping. Confidence can
// downgrade the result one level but never raise it.
var priorityTable = map[analyzer.IssueType]queue.Priority{
	analyzer.IssueExplicitFailure:   queue.PriorityCritical,
	analyzer.IssueChainBroken:       queue.PriorityCritical,
	analyzer.IssueAgentFailed:       queue.PriorityCritical,
	analyzer.IssueLoopDetected:      queue.PriorityHigh,
	analyzer.IssueTDDViolation:      queue.PriorityHigh,
	analyzer.IssueRegression:        queue.PriorityHigh,
	analyzer.IssueOutOfOrder:        queue.PriorityHigh,
	analyzer.IssuePartialCompletion: queue.PriorityHigh,
	analyzer.IssueAbandonedAgent:    queue.PriorityHigh,
	analyzer.IssuePhaseStuck:        queue.PriorityMedium,
	analyzer.IssueSilence:           queue.PriorityMedium,
	analyzer.IssueDecliningVelocity: queue.PriorityMedium,
	analyzer.IssueAgentSilence:      queue.PriorityMedium,
	analyzer.IssueAbruptStop:        queue.PriorityMedium,
	analyzer.IssueIncompleteOutputs: queue.PriorityMedium,
	analyzer.IssueMissingMilestones: queue.PriorityLow,
}

// suggestedAgents optionally names a specialist per issue type.
var suggestedAgents = map[analyzer.IssueType]string{
	analyzer.IssueExplicitFailure:   "debugger",
	analyzer.IssueAgentFailed:       "agent-supervisor",
	analyzer.IssueAgentSilence:      "agent-supervisor",
	analyzer.IssueAbandonedAgent:    "agent-supervisor",
	analyzer.IssueTDDViolation:      "tdd-coach",
	analyzer.IssueLoopDetected:      "unblocker",
	analyzer.IssuePhaseStuck:        "unblocker",
	analyzer.IssueChainBroken:       "workflow-medic",
	analyzer.IssuePartialCompletion: "workflow-medic",
	analyzer.IssueOutOfOrder:        "workflow-medic",
}

// GeneratorConfig holds generator policy.
type GeneratorConfig struct {
	// Queue is consulted for pending tasks with the same signature
	Queue QueueChecker
	// DedupWindow is how long a signature suppresses repeats even after
	// its task leaves pending state.
	// Default: 30 minutes
	DedupWindow time.Duration
	// DowngradeBelow downgrades the mapped priority one level when the
	// issue confidence is under this value.
	// Default: 0.4
	DowngradeBelow float64
	// DropBelow drops the issue entirely when confidence is under this.
	// Default: 0.2
	DropBelow float64
	// Now is the clock; tests inject a fixed one. Default: time.Now
	Now func() time.Time
}

// Generator maps detected issues to queueable tasks. It deduplicates by
// issue signature so an unresolved problem does not flood the queue on
// every analysis tick.
type Generator struct {
	mu     sync.Mutex
	cfg    GeneratorConfig
	recent map[string]time.Time // signature -> last generation time
}

// NewGenerator creates a generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue checker is required")
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 30 * time.Minute
	}
	if cfg.DowngradeBelow <= 0 {
		cfg.DowngradeBelow = 0.4
	}
	if cfg.DropBelow <= 0 {
		cfg.DropBelow = 0.2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{
		cfg:    cfg,
		recent: make(map[string]time.Time),
	}, nil
}

// Signature derives the deduplication key for an issue against the current
// workflow position.
func Signature(issueType analyzer.IssueType, command, phase string) string {
	return fmt.Sprintf("%s|%s|%s", issueType, command, phase)
}

// Generate converts issues into task inputs, suppressing duplicates by
// signature. Suppression consults both the very-recently-generated set and
// the queue's pending tasks, so one stuck phase yields one task no matter
// how many analysis ticks observe it.
func (g *Generator) Generate(issues []analyzer.Issue, a *analyzer.Analysis) ([]queue.TaskInput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.cfg.Now()
	g.pruneLocked(now)

	inputs := make([]queue.TaskInput, 0, len(issues))
	for _, issue := range issues {
		if issue.Confidence < g.cfg.DropBelow {
			continue
		}
		priority, ok := priorityTable[issue.Type]
		if !ok {
			priority = queue.PriorityMedium
		}
		if issue.Confidence < g.cfg.DowngradeBelow {
			priority = priority.Downgrade()
		}

		sig := Signature(issue.Type, a.CurrentCommand, a.CurrentPhase)
		if at, seen := g.recent[sig]; seen && now.Sub(at) < g.cfg.DedupWindow {
			continue
		}
		pending, err := g.cfg.Queue.HasPendingSignature(sig)
		if err != nil {
			return nil, fmt.Errorf("checking pending signatures: %w", err)
		}
		if pending {
			g.recent[sig] = now
			continue
		}

		g.recent[sig] = now
		inputs = append(inputs, queue.TaskInput{
			Priority:       priority,
			Source:         "workflow_analyzer",
			AnomalyType:    string(issue.Type),
			Prompt:         buildPrompt(issue, a),
			SuggestedAgent: suggestedAgents[issue.Type],
			Context:        issue.Context,
			Signature:      sig,
		})
	}
	return inputs, nil
}

// pruneLocked drops dedup records older than the window. Caller holds g.mu.
func (g *Generator) pruneLocked(now time.Time) {
	for sig, at := range g.recent {
		if now.Sub(at) >= g.cfg.DedupWindow {
			delete(g.recent, sig)
		}
	}
}

// buildPrompt renders the remediation instruction handed to whoever consumes
// the task.
func buildPrompt(issue analyzer.Issue, a *analyzer.Analysis) string {
	where := a.CurrentCommand
	if a.CurrentPhase != "" {
		where = fmt.Sprintf("%s (phase %s)", a.CurrentCommand, a.CurrentPhase)
	}
	if where == "" {
		where = "the workflow"
	}

	var action string
	switch issue.Type {
	case analyzer.IssueExplicitFailure:
		action = "Diagnose the failure, fix the root cause, and re-run the failed step."
	case analyzer.IssueChainBroken:
		action = "Stop downstream work and finish the skipped upstream step before continuing."
	case analyzer.IssueAgentFailed:
		action = "Inspect the failed agent's output, then restart or replace it."
	case analyzer.IssueLoopDetected:
		action = "Break the repetition: identify what blocks progress and change approach."
	case analyzer.IssueTDDViolation:
		action = "Return to the RED phase: write the failing test before any implementation."
	case analyzer.IssuePhaseStuck:
		action = "Check on the open phase and either complete it or record why it cannot finish."
	case analyzer.IssueSilence, analyzer.IssueAbruptStop:
		action = "Verify the workflow process is alive and resume or restart it."
	case analyzer.IssueRegression:
		action = "Investigate why completed work was undone and restore the lost progress."
	case analyzer.IssueOutOfOrder:
		action = "Reconcile phase bookkeeping: a phase completed that was never started."
	case analyzer.IssueMissingMilestones:
		action = "Review the step's output; it finished with far fewer milestones than expected."
	case analyzer.IssueDecliningVelocity:
		action = "Progress is slowing; check for mounting blockers before the workflow stalls."
	case analyzer.IssueIncompleteOutputs:
		action = "The completion record is missing expected outputs; verify the step really finished."
	case analyzer.IssueAgentSilence, analyzer.IssueAbandonedAgent:
		action = "Check the quiet agent: collect its output, then complete or terminate it."
	case analyzer.IssuePartialCompletion:
		action = "A later step completed over pending earlier steps; backfill the skipped work."
	default:
		action = "Investigate the reported workflow issue."
	}

	return fmt.Sprintf("[%s] %s in %s: %s %s",
		issue.Type, describeSeverity(issue.Confidence), where, issue.Message, action)
}

func describeSeverity(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "High-confidence problem"
	case confidence >= 0.5:
		return "Likely problem"
	default:
		return "Possible problem"
	}
}
