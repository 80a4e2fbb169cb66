package analyzer

import (
	"time"

	"github.com/chainwatch/chainwatch/internal/events"
)

// Health summarizes the overall verdict of an analysis pass.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// IssueType categorizes a detected workflow problem. The set is closed;
// every detector emits exactly one of these.
type IssueType string

const (
	IssueLoopDetected      IssueType = "loop_detected"      // Same step repeating without progress
	IssuePhaseStuck        IssueType = "phase_stuck"        // Open phase past its timeout
	IssueRegression        IssueType = "regression"         // Milestone counters going backward
	IssueOutOfOrder        IssueType = "out_of_order"       // PHASE_COMPLETE without PHASE_START
	IssueChainBroken       IssueType = "chain_broken"       // Downstream started before upstream finished
	IssueTDDViolation      IssueType = "tdd_violation"      // GREEN/REFACTOR entered without RED completion
	IssueExplicitFailure   IssueType = "explicit_failure"   // FAILED event observed
	IssueAgentFailed       IssueType = "agent_failed"       // Spawned agent hit FAILED before completing
	IssueSilence           IssueType = "silence"            // No log activity while work in progress
	IssueMissingMilestones IssueType = "missing_milestones" // Far fewer milestones than expected
	IssueDecliningVelocity IssueType = "declining_velocity" // Milestone gaps trending upward
	IssueIncompleteOutputs IssueType = "incomplete_outputs" // COMPLETE missing expected data fields
	IssueAgentSilence      IssueType = "agent_silence"      // Agent unreferenced past its timeout
	IssueAbruptStop        IssueType = "abrupt_stop"        // Positive signals ceased mid-chain
	IssuePartialCompletion IssueType = "partial_completion" // COMPLETE with earlier steps still pending
	IssueAbandonedAgent    IssueType = "abandoned_agent"    // Agent inactive past the long timeout
)

// Issue is one detected workflow problem. Issues are ephemeral: they are
// recomputed on every analysis pass, and duplicate suppression is handled
// downstream via signatures.
type Issue struct {
	// Type is the issue kind
	Type IssueType `json:"type"`
	// Confidence is the detector's confidence in 0.0-1.0
	Confidence float64 `json:"confidence"`
	// Message is a human-readable description
	Message string `json:"message"`
	// Context carries supporting data for display and debugging
	Context map[string]interface{} `json:"context,omitempty"`
}

// ChainStatus is the derived progress state of one top-level command.
type ChainStatus string

const (
	ChainPending    ChainStatus = "pending"
	ChainInProgress ChainStatus = "in_progress"
	ChainComplete   ChainStatus = "complete"
	ChainFailed     ChainStatus = "failed"
)

// Analysis is the snapshot derived from a window of log entries. It is
// recomputed fully on every pass; the same entry sequence and clock always
// produce the same analysis.
type Analysis struct {
	// Health is the thresholded verdict over all issue confidences
	Health Health `json:"health"`
	// Issues lists detected problems in detector order
	Issues []Issue `json:"issues"`
	// CurrentCommand is the most recently started workflow command
	CurrentCommand string `json:"current_command,omitempty"`
	// CurrentPhase is the open sub-phase, if any
	CurrentPhase string `json:"current_phase,omitempty"`
	// PhaseStartTime is when the open phase began
	PhaseStartTime time.Time `json:"phase_start_time,omitzero"`
	// LastActivityTime is the timestamp of the newest entry seen
	LastActivityTime time.Time `json:"last_activity_time,omitzero"`
	// MilestoneTimestamps lists milestone times in chronological order
	MilestoneTimestamps []time.Time `json:"milestone_timestamps,omitempty"`
	// ActiveAgents lists agents spawned but not yet completed, ordered by id
	ActiveAgents []events.AgentRef `json:"active_agents,omitempty"`
	// ExpectedMilestones is the configured milestone count for the current command
	ExpectedMilestones int `json:"expected_milestones"`
	// ActualMilestones is the observed milestone count for the current command
	ActualMilestones int `json:"actual_milestones"`
	// ChainProgress maps each top-level command to its derived status
	ChainProgress map[string]ChainStatus `json:"chain_progress"`
}

// MaxConfidence returns the highest confidence across issues, 0 if none.
func (a *Analysis) MaxConfidence() float64 {
	max := 0.0
	for _, issue := range a.Issues {
		if issue.Confidence > max {
			max = issue.Confidence
		}
	}
	return max
}

// HasIssue reports whether an issue of the given type was detected.
func (a *Analysis) HasIssue(t IssueType) bool {
	for _, issue := range a.Issues {
		if issue.Type == t {
			return true
		}
	}
	return false
}
