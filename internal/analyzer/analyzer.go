package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/chainwatch/chainwatch/internal/events"
)

// Analyzer turns an ordered window of log entries into a WorkflowAnalysis.
// It is a pure transformation: no I/O, no retained state between passes, and
// time-based detectors take their "now" from the caller so the same inputs
// always produce the same analysis.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer with the given thresholds.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.LoopRepeatThreshold <= 0 {
		cfg.LoopRepeatThreshold = DefaultConfig().LoopRepeatThreshold
	}
	if cfg.VelocityWindow < 3 {
		cfg.VelocityWindow = DefaultConfig().VelocityWindow
	}
	return &Analyzer{cfg: cfg}
}

// detector is one independent heuristic pass over folded state.
type detector struct {
	name string
	run  func(s *chainState, now time.Time) []Issue
}

// Analyze folds the entries and runs every detector. Detectors are isolated:
// one panicking heuristic is logged and skipped without preventing the other
// fifteen from running or the health verdict from being computed.
func (a *Analyzer) Analyze(entries []events.LogEntry, now time.Time) *Analysis {
	s := buildState(entries)

	detectors := []detector{
		{"loop_detected", a.detectLoops},
		{"phase_stuck", a.detectPhaseStuck},
		{"regression", a.detectRegression},
		{"out_of_order", a.detectOutOfOrder},
		{"chain_broken", a.detectChainBroken},
		{"tdd_violation", a.detectTDDViolation},
		{"explicit_failure", a.detectExplicitFailure},
		{"agent_failed", a.detectAgentFailed},
		{"silence", a.detectSilence},
		{"missing_milestones", a.detectMissingMilestones},
		{"declining_velocity", a.detectDecliningVelocity},
		{"incomplete_outputs", a.detectIncompleteOutputs},
		{"agent_silence", a.detectAgentSilence},
		{"abrupt_stop", a.detectAbruptStop},
		{"partial_completion", a.detectPartialCompletion},
		{"abandoned_agent", a.detectAbandonedAgent},
	}

	issues := make([]Issue, 0)
	for _, d := range detectors {
		issues = append(issues, runDetector(d, s, now)...)
	}

	analysis := &Analysis{
		Health:           a.HealthFor(issues),
		Issues:           issues,
		CurrentCommand:   s.currentCommand,
		CurrentPhase:     s.currentPhase,
		PhaseStartTime:   s.phaseStart,
		LastActivityTime: s.lastActivity,
		ChainProgress:    s.chainProgress,
	}

	for _, m := range s.milestones {
		analysis.MilestoneTimestamps = append(analysis.MilestoneTimestamps, m.At)
	}

	ids := make([]string, 0, len(s.activeAgents))
	for id := range s.activeAgents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		analysis.ActiveAgents = append(analysis.ActiveAgents, s.activeAgents[id].Ref)
	}

	if s.currentCommand != "" {
		analysis.ExpectedMilestones = a.cfg.ExpectedMilestones[s.currentCommand]
		analysis.ActualMilestones = s.milestonesFor(s.currentCommand)
	}

	return analysis
}

// runDetector executes a single detector with panic isolation.
func runDetector(d detector, s *chainState, now time.Time) (issues []Issue) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Analyzer: detector %s panicked, skipping: %v\n", d.name, r)
			issues = nil
		}
	}()
	return d.run(s, now)
}

// HealthFor thresholds issue confidences into a verdict. It is exported so
// callers that adjust confidences after analysis can re-derive the verdict.
func (a *Analyzer) HealthFor(issues []Issue) Health {
	health := HealthHealthy
	for _, issue := range issues {
		if issue.Confidence >= a.cfg.CriticalConfidence {
			return HealthCritical
		}
		if issue.Confidence >= a.cfg.WarningConfidence {
			health = HealthWarning
		}
	}
	return health
}

// clampConfidence keeps a computed confidence inside (0, 1].
func clampConfidence(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	if c < 0.05 {
		return 0.05
	}
	return c
}
