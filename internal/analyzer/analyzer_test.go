package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/internal/events"
)

var t0 = time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time { return t0.Add(offset) }

func entry(offset time.Duration, command, phase string, event events.EventType) events.LogEntry {
	return events.NewEntry(at(offset), command, phase, event)
}

// healthyRun is a complete, well-behaved ideate->plan chain with build open.
func healthyRun() []events.LogEntry {
	return []events.LogEntry{
		entry(0, "ideate", "", events.EventStart),
		entry(1*time.Minute, "ideate", "", events.EventMilestone),
		entry(2*time.Minute, "ideate", "", events.EventMilestone),
		entry(3*time.Minute, "ideate", "", events.EventComplete),
		entry(4*time.Minute, "plan", "", events.EventStart),
		entry(5*time.Minute, "plan", "", events.EventMilestone),
		entry(6*time.Minute, "plan", "", events.EventMilestone),
		entry(7*time.Minute, "plan", "", events.EventMilestone),
		events.NewEntry(at(8*time.Minute), "plan", "", events.EventComplete).WithData("plan_path", "PLAN.md"),
		entry(9*time.Minute, "build", "", events.EventStart),
	}
}

func TestAnalyzeHealthyChain(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(healthyRun(), at(10*time.Minute))

	assert.Equal(t, HealthHealthy, analysis.Health)
	assert.Empty(t, analysis.Issues)
	assert.Equal(t, "build", analysis.CurrentCommand)
	assert.Equal(t, ChainComplete, analysis.ChainProgress["ideate"])
	assert.Equal(t, ChainComplete, analysis.ChainProgress["plan"])
	assert.Equal(t, ChainInProgress, analysis.ChainProgress["build"])
	assert.Equal(t, ChainPending, analysis.ChainProgress["ship"])
}

func TestAnalyzeEmptyWindow(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(nil, t0)

	assert.Equal(t, HealthHealthy, analysis.Health)
	assert.Empty(t, analysis.Issues)
	assert.Equal(t, "", analysis.CurrentCommand)
	assert.True(t, analysis.LastActivityTime.IsZero())
}

func TestAnalyzeDeterministic(t *testing.T) {
	entries := append(healthyRun(),
		events.NewEntry(at(10*time.Minute), "build", "", events.EventAgentSpawn).WithAgent("tester", "a-2", "build"),
		events.NewEntry(at(10*time.Minute), "build", "", events.EventAgentSpawn).WithAgent("coder", "a-1", "build"),
	)
	a := NewAnalyzer(DefaultConfig())

	now := at(40 * time.Minute)
	first := a.Analyze(entries, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, a.Analyze(entries, now))
	}
	// Agents come back ordered by id regardless of spawn order.
	require.Len(t, first.ActiveAgents, 2)
	assert.Equal(t, "a-1", first.ActiveAgents[0].ID)
	assert.Equal(t, "a-2", first.ActiveAgents[1].ID)
}

func TestPhaseStuckBoundary(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		entry(time.Minute, "build", "RED", events.EventPhaseStart),
	}
	a := NewAnalyzer(DefaultConfig())

	// Exactly at the timeout: not stuck yet.
	analysis := a.Analyze(entries, at(time.Minute+10*time.Minute))
	assert.False(t, analysis.HasIssue(IssuePhaseStuck))

	// One second past: stuck.
	analysis = a.Analyze(entries, at(time.Minute+10*time.Minute+time.Second))
	require.True(t, analysis.HasIssue(IssuePhaseStuck))
	assert.NotEqual(t, HealthHealthy, analysis.Health)
}

func TestPhaseStuckConfidenceGrows(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		entry(0, "build", "GREEN", events.EventPhaseStart),
	}
	// PHASE_START without RED also trips the TDD detector; filter it out.
	confAt := func(now time.Time) float64 {
		a := NewAnalyzer(DefaultConfig())
		for _, issue := range a.Analyze(entries, now).Issues {
			if issue.Type == IssuePhaseStuck {
				return issue.Confidence
			}
		}
		return 0
	}

	slightly := confAt(at(11 * time.Minute))
	badly := confAt(at(25 * time.Minute))
	require.Greater(t, slightly, 0.0)
	assert.Greater(t, badly, slightly)
	assert.LessOrEqual(t, badly, 0.9)
}

func TestAgentFailedDetection(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		events.NewEntry(at(time.Minute), "build", "", events.EventAgentSpawn).WithAgent("tester", "agent-7", "build"),
		events.NewEntry(at(2*time.Minute), "build", "", events.EventFailed).WithAgent("tester", "agent-7", "build"),
	}
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(entries, at(3*time.Minute))

	assert.True(t, analysis.HasIssue(IssueAgentFailed))
	assert.True(t, analysis.HasIssue(IssueExplicitFailure))
	assert.Equal(t, HealthCritical, analysis.Health)
	assert.Equal(t, ChainFailed, analysis.ChainProgress["build"])
}

func TestAgentCompleteClearsAgent(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		events.NewEntry(at(time.Minute), "build", "", events.EventAgentSpawn).WithAgent("tester", "agent-7", "build"),
		events.NewEntry(at(2*time.Minute), "build", "", events.EventAgentComplete).WithAgent("tester", "agent-7", "build"),
	}
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(entries, at(60*time.Minute))

	assert.Empty(t, analysis.ActiveAgents)
	assert.False(t, analysis.HasIssue(IssueAgentSilence))
	assert.False(t, analysis.HasIssue(IssueAbandonedAgent))
}

func TestAgentSilenceEscalatesToAbandoned(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		events.NewEntry(at(0), "build", "", events.EventAgentSpawn).WithAgent("tester", "agent-7", "build"),
		entry(6*time.Minute, "build", "", events.EventMilestone),
	}
	a := NewAnalyzer(DefaultConfig())

	// Quiet past the silence window but not the abandonment window.
	analysis := a.Analyze(entries, at(7*time.Minute))
	assert.True(t, analysis.HasIssue(IssueAgentSilence))
	assert.False(t, analysis.HasIssue(IssueAbandonedAgent))

	// Quiet past both.
	analysis = a.Analyze(entries, at(20*time.Minute))
	assert.True(t, analysis.HasIssue(IssueAgentSilence))
	assert.True(t, analysis.HasIssue(IssueAbandonedAgent))
}

func TestChainBrokenSuppressedAfterCompletion(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	// build starts with plan never run: chain broken.
	entries := []events.LogEntry{
		entry(0, "ideate", "", events.EventStart),
		entry(time.Minute, "ideate", "", events.EventComplete),
		entry(2*time.Minute, "build", "", events.EventStart),
	}
	analysis := a.Analyze(entries, at(3*time.Minute))
	assert.True(t, analysis.HasIssue(IssueChainBroken))
	assert.False(t, analysis.HasIssue(IssuePartialCompletion))

	// Once build completes, the same history reads as partial completion,
	// never both: progress and issues stay consistent.
	entries = append(entries, entry(4*time.Minute, "build", "", events.EventComplete).
		WithData("tests_passed", 12).WithData("files_changed", 3))
	analysis = a.Analyze(entries, at(5*time.Minute))
	assert.False(t, analysis.HasIssue(IssueChainBroken))
	assert.True(t, analysis.HasIssue(IssuePartialCompletion))
	assert.Equal(t, ChainComplete, analysis.ChainProgress["build"])
}

func TestLoopDetection(t *testing.T) {
	entries := []events.LogEntry{entry(0, "build", "", events.EventStart)}
	for i := 1; i <= 3; i++ {
		entries = append(entries,
			entry(time.Duration(i)*time.Minute, "build", "RED", events.EventPhaseStart),
			entry(time.Duration(i)*time.Minute+30*time.Second, "build", "RED", events.EventPhaseComplete),
		)
	}
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(entries, at(5*time.Minute))
	assert.True(t, analysis.HasIssue(IssueLoopDetected))
}

func TestLoopResetByMilestone(t *testing.T) {
	entries := []events.LogEntry{entry(0, "build", "", events.EventStart)}
	for i := 1; i <= 3; i++ {
		entries = append(entries,
			entry(time.Duration(2*i)*time.Minute, "build", "RED", events.EventPhaseStart),
			entry(time.Duration(2*i)*time.Minute+30*time.Second, "build", "RED", events.EventPhaseComplete),
			entry(time.Duration(2*i+1)*time.Minute, "build", "", events.EventMilestone),
		)
	}
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(entries, at(10*time.Minute))
	assert.False(t, analysis.HasIssue(IssueLoopDetected))
}

func TestTDDViolation(t *testing.T) {
	tests := []struct {
		name    string
		entries []events.LogEntry
		want    bool
	}{
		{
			name: "GREEN without RED",
			entries: []events.LogEntry{
				entry(0, "build", "", events.EventStart),
				entry(time.Minute, "build", "GREEN", events.EventPhaseStart),
			},
			want: true,
		},
		{
			name: "proper RED then GREEN",
			entries: []events.LogEntry{
				entry(0, "build", "", events.EventStart),
				entry(time.Minute, "build", "RED", events.EventPhaseStart),
				entry(2*time.Minute, "build", "RED", events.EventPhaseComplete),
				entry(3*time.Minute, "build", "GREEN", events.EventPhaseStart),
			},
			want: false,
		},
		{
			name: "GREEN completes while RED still open",
			entries: []events.LogEntry{
				entry(0, "build", "", events.EventStart),
				entry(time.Minute, "build", "RED", events.EventPhaseStart),
				entry(2*time.Minute, "build", "GREEN", events.EventPhaseComplete),
			},
			want: true,
		},
		{
			name: "GREEN completion after RED completed",
			entries: []events.LogEntry{
				entry(0, "build", "", events.EventStart),
				entry(1*time.Minute, "build", "RED", events.EventPhaseStart),
				entry(2*time.Minute, "build", "RED", events.EventPhaseComplete),
				entry(3*time.Minute, "build", "GREEN", events.EventPhaseComplete),
			},
			want: false,
		},
		{
			name: "second cycle reuses stale RED",
			entries: []events.LogEntry{
				entry(0, "build", "", events.EventStart),
				entry(1*time.Minute, "build", "RED", events.EventPhaseStart),
				entry(2*time.Minute, "build", "RED", events.EventPhaseComplete),
				entry(3*time.Minute, "build", "GREEN", events.EventPhaseStart),
				entry(4*time.Minute, "build", "GREEN", events.EventPhaseComplete),
				entry(5*time.Minute, "build", "REFACTOR", events.EventPhaseStart),
				entry(6*time.Minute, "build", "REFACTOR", events.EventPhaseComplete),
				// New cycle: GREEN without a fresh RED.
				entry(7*time.Minute, "build", "GREEN", events.EventPhaseStart),
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(DefaultConfig())
			analysis := a.Analyze(tt.entries, at(8*time.Minute))
			assert.Equal(t, tt.want, analysis.HasIssue(IssueTDDViolation))
		})
	}
}

func TestOutOfOrderPhaseComplete(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		entry(time.Minute, "build", "GREEN", events.EventPhaseComplete),
	}
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(entries, at(2*time.Minute))
	assert.True(t, analysis.HasIssue(IssueOutOfOrder))
}

func TestRegressionDetection(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		events.NewEntry(at(1*time.Minute), "build", "", events.EventMilestone).WithData("completed", 5),
		events.NewEntry(at(2*time.Minute), "build", "", events.EventMilestone).WithData("completed", 8),
		events.NewEntry(at(3*time.Minute), "build", "", events.EventMilestone).WithData("completed", 4),
	}
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(entries, at(4*time.Minute))
	require.True(t, analysis.HasIssue(IssueRegression))

	for _, issue := range analysis.Issues {
		if issue.Type == IssueRegression {
			// Drop of 4 from 8: confidence 0.5 + 0.5*(4/8).
			assert.InDelta(t, 0.75, issue.Confidence, 0.001)
		}
	}
}

func TestMissingMilestones(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		entry(1*time.Minute, "build", "", events.EventMilestone),
		entry(2*time.Minute, "build", "", events.EventComplete).
			WithData("tests_passed", 10).WithData("files_changed", 2),
	}
	a := NewAnalyzer(DefaultConfig())
	// 1 of 5 expected build milestones: 80% missing.
	analysis := a.Analyze(entries, at(3*time.Minute))
	assert.True(t, analysis.HasIssue(IssueMissingMilestones))

	// An in-progress command is never judged on milestone count.
	open := []events.LogEntry{entry(0, "build", "", events.EventStart)}
	analysis = a.Analyze(open, at(time.Minute))
	assert.False(t, analysis.HasIssue(IssueMissingMilestones))
}

func TestIncompleteOutputs(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "ideate", "", events.EventStart),
		entry(1*time.Minute, "ideate", "", events.EventMilestone),
		entry(2*time.Minute, "ideate", "", events.EventMilestone),
		entry(3*time.Minute, "ideate", "", events.EventComplete),
		entry(4*time.Minute, "plan", "", events.EventStart),
		entry(5*time.Minute, "plan", "", events.EventMilestone),
		entry(6*time.Minute, "plan", "", events.EventMilestone),
		entry(7*time.Minute, "plan", "", events.EventMilestone),
		// COMPLETE without the required plan_path field.
		entry(8*time.Minute, "plan", "", events.EventComplete),
	}
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(entries, at(9*time.Minute))
	assert.True(t, analysis.HasIssue(IssueIncompleteOutputs))
}

func TestDecliningVelocity(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		entry(1*time.Minute, "build", "", events.EventMilestone),
		entry(2*time.Minute, "build", "", events.EventMilestone),  // gap 1m
		entry(5*time.Minute, "build", "", events.EventMilestone),  // gap 3m
		entry(15*time.Minute, "build", "", events.EventMilestone), // gap 10m
	}
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(entries, at(16*time.Minute))
	assert.True(t, analysis.HasIssue(IssueDecliningVelocity))

	// Steady gaps never trigger it.
	steady := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		entry(1*time.Minute, "build", "", events.EventMilestone),
		entry(2*time.Minute, "build", "", events.EventMilestone),
		entry(3*time.Minute, "build", "", events.EventMilestone),
		entry(4*time.Minute, "build", "", events.EventMilestone),
	}
	analysis = a.Analyze(steady, at(5*time.Minute))
	assert.False(t, analysis.HasIssue(IssueDecliningVelocity))
}

func TestSilenceRequiresOpenChain(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	open := []events.LogEntry{entry(0, "build", "", events.EventStart)}
	analysis := a.Analyze(open, at(30*time.Minute))
	assert.True(t, analysis.HasIssue(IssueSilence))

	done := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		entry(time.Minute, "build", "", events.EventComplete).
			WithData("tests_passed", 1).WithData("files_changed", 1),
	}
	analysis = a.Analyze(done, at(30*time.Minute))
	assert.False(t, analysis.HasIssue(IssueSilence))
}

func TestAbruptStop(t *testing.T) {
	entries := []events.LogEntry{
		entry(0, "build", "", events.EventStart),
		entry(1*time.Minute, "build", "", events.EventMilestone),
		// Chatter continues but progress stopped.
		entry(22*time.Minute, "build", "RED", events.EventPhaseStart),
	}
	a := NewAnalyzer(DefaultConfig())
	analysis := a.Analyze(entries, at(25*time.Minute))
	assert.True(t, analysis.HasIssue(IssueAbruptStop))
}

func TestHealthThresholds(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())
	tests := []struct {
		name   string
		issues []Issue
		want   Health
	}{
		{"no issues", nil, HealthHealthy},
		{"low confidence only", []Issue{{Confidence: 0.3}}, HealthHealthy},
		{"warning band", []Issue{{Confidence: 0.6}}, HealthWarning},
		{"critical band", []Issue{{Confidence: 0.9}}, HealthCritical},
		{"critical wins over warning", []Issue{{Confidence: 0.6}, {Confidence: 0.95}}, HealthCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.HealthFor(tt.issues))
		})
	}
}

func TestDetectorPanicIsolation(t *testing.T) {
	d := detector{name: "broken", run: func(*chainState, time.Time) []Issue {
		panic("boom")
	}}
	issues := runDetector(d, buildState(nil), t0)
	assert.Nil(t, issues)
}
