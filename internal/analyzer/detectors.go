package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/chainwatch/chainwatch/internal/events"
)

// detectLoops flags a (command, phase, event) triple repeating with no
// intervening milestone. Confidence grows with the repeat count.
func (a *Analyzer) detectLoops(s *chainState, _ time.Time) []Issue {
	counts := make(map[string]int)
	entriesFor := make(map[string]events.LogEntry)
	worst := make(map[string]int)

	for _, e := range s.entries {
		if e.Event == events.EventMilestone {
			// Progress breaks every run.
			counts = make(map[string]int)
			continue
		}
		key := e.Command + "|" + e.Phase + "|" + string(e.Event)
		counts[key]++
		if counts[key] > worst[key] {
			worst[key] = counts[key]
			entriesFor[key] = e
		}
	}

	keys := make([]string, 0, len(worst))
	for key, n := range worst {
		if n >= a.cfg.LoopRepeatThreshold {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	issues := make([]Issue, 0, len(keys))
	for _, key := range keys {
		n := worst[key]
		e := entriesFor[key]
		issues = append(issues, Issue{
			Type:       IssueLoopDetected,
			Confidence: clampConfidence(0.5 + 0.1*float64(n-a.cfg.LoopRepeatThreshold+1)),
			Message:    fmt.Sprintf("%s/%s repeated %s %d times without progress", e.Command, e.Phase, e.Event, n),
			Context: map[string]interface{}{
				"command":      e.Command,
				"phase":        e.Phase,
				"event":        string(e.Event),
				"repeat_count": n,
			},
		})
	}
	return issues
}

// detectPhaseStuck flags an open phase with no completion inside the stuck
// timeout. Confidence grows with elapsed time past the deadline.
func (a *Analyzer) detectPhaseStuck(s *chainState, now time.Time) []Issue {
	if s.currentPhase == "" || s.phaseStart.IsZero() {
		return nil
	}
	elapsed := now.Sub(s.phaseStart)
	if elapsed <= a.cfg.StuckTimeout {
		return nil
	}
	overdue := float64(elapsed-a.cfg.StuckTimeout) / float64(a.cfg.StuckTimeout)
	if overdue > 1 {
		overdue = 1
	}
	return []Issue{{
		Type:       IssuePhaseStuck,
		Confidence: clampConfidence(0.6 + 0.3*overdue),
		Message:    fmt.Sprintf("phase %s/%s open for %s (timeout %s)", s.currentCommand, s.currentPhase, elapsed.Round(time.Second), a.cfg.StuckTimeout),
		Context: map[string]interface{}{
			"command":     s.currentCommand,
			"phase":       s.currentPhase,
			"phase_start": s.phaseStart,
			"elapsed":     elapsed.String(),
		},
	}}
}

// detectRegression flags milestone "completed" counters that go backward.
// Confidence scales with the magnitude of the decrease.
func (a *Analyzer) detectRegression(s *chainState, _ time.Time) []Issue {
	maxSeen := -1
	worstDrop := 0
	worstFrom := 0
	var worstAt time.Time

	for _, m := range s.milestones {
		if m.Completed < 0 {
			continue
		}
		if maxSeen >= 0 && m.Completed < maxSeen {
			if drop := maxSeen - m.Completed; drop > worstDrop {
				worstDrop = drop
				worstFrom = maxSeen
				worstAt = m.At
			}
		}
		if m.Completed > maxSeen {
			maxSeen = m.Completed
		}
	}

	if worstDrop == 0 {
		return nil
	}
	ratio := float64(worstDrop) / float64(worstFrom)
	return []Issue{{
		Type:       IssueRegression,
		Confidence: clampConfidence(0.5 + 0.5*ratio),
		Message:    fmt.Sprintf("milestone counter regressed from %d to %d", worstFrom, worstFrom-worstDrop),
		Context: map[string]interface{}{
			"previous": worstFrom,
			"current":  worstFrom - worstDrop,
			"at":       worstAt,
		},
	}}
}

// detectOutOfOrder flags PHASE_COMPLETE events with no matching PHASE_START.
func (a *Analyzer) detectOutOfOrder(s *chainState, _ time.Time) []Issue {
	issues := make([]Issue, 0, len(s.orphanPhases))
	for _, e := range s.orphanPhases {
		issues = append(issues, Issue{
			Type:       IssueOutOfOrder,
			Confidence: 0.9,
			Message:    fmt.Sprintf("PHASE_COMPLETE for %s/%s without a matching PHASE_START", e.Command, e.Phase),
			Context: map[string]interface{}{
				"command": e.Command,
				"phase":   e.Phase,
				"at":      e.Timestamp,
			},
		})
	}
	return issues
}

// detectChainBroken flags downstream commands that started while an upstream
// chain command was neither complete nor failed. Once the downstream command
// itself completes, the problem is reported as partial_completion instead,
// so derived chain progress and this issue never contradict each other.
func (a *Analyzer) detectChainBroken(s *chainState, _ time.Time) []Issue {
	issues := make([]Issue, 0, len(s.chainBreaks))
	for _, b := range s.chainBreaks {
		if s.chainProgress[b.Command] == ChainComplete {
			continue
		}
		issues = append(issues, Issue{
			Type:       IssueChainBroken,
			Confidence: 0.9,
			Message:    fmt.Sprintf("%s started while upstream %s was not complete", b.Command, b.Upstream),
			Context: map[string]interface{}{
				"command":  b.Command,
				"upstream": b.Upstream,
				"at":       b.At,
			},
		})
	}
	return issues
}

// detectTDDViolation flags GREEN/REFACTOR phases entered without a RED
// completion in the same build cycle.
func (a *Analyzer) detectTDDViolation(s *chainState, _ time.Time) []Issue {
	issues := make([]Issue, 0, len(s.tddViolations))
	for _, e := range s.tddViolations {
		issues = append(issues, Issue{
			Type:       IssueTDDViolation,
			Confidence: 0.85,
			Message:    fmt.Sprintf("%s phase entered without completing RED first", e.Phase),
			Context: map[string]interface{}{
				"command": e.Command,
				"phase":   e.Phase,
				"at":      e.Timestamp,
			},
		})
	}
	return issues
}

// detectExplicitFailure flags every FAILED entry at fixed high confidence.
func (a *Analyzer) detectExplicitFailure(s *chainState, _ time.Time) []Issue {
	issues := make([]Issue, 0, len(s.failures))
	for _, e := range s.failures {
		msg := fmt.Sprintf("%s reported FAILED", e.Command)
		if reason, ok := e.DataString("reason"); ok {
			msg = fmt.Sprintf("%s reported FAILED: %s", e.Command, reason)
		}
		issues = append(issues, Issue{
			Type:       IssueExplicitFailure,
			Confidence: 0.95,
			Message:    msg,
			Context: map[string]interface{}{
				"command": e.Command,
				"phase":   e.Phase,
				"at":      e.Timestamp,
				"data":    e.Data,
			},
		})
	}
	return issues
}

// detectAgentFailed flags agents that hit FAILED after spawning without an
// AGENT_COMPLETE. Fixed high confidence tier.
func (a *Analyzer) detectAgentFailed(s *chainState, _ time.Time) []Issue {
	issues := make([]Issue, 0, len(s.failedAgentIDs))
	for _, id := range s.failedAgentIDs {
		agent := s.activeAgents[id]
		ctx := map[string]interface{}{"agent_id": id}
		msg := fmt.Sprintf("agent %s failed before completing", id)
		if agent != nil {
			ctx["agent_type"] = agent.Ref.Type
			ctx["parent_command"] = agent.Ref.ParentCommand
			ctx["spawned_at"] = agent.SpawnAt
		}
		issues = append(issues, Issue{
			Type:       IssueAgentFailed,
			Confidence: 0.9,
			Message:    msg,
			Context:    ctx,
		})
	}
	return issues
}

// detectSilence flags a totally quiet log while a command is in progress.
func (a *Analyzer) detectSilence(s *chainState, now time.Time) []Issue {
	if len(s.entries) == 0 || s.lastActivity.IsZero() || !s.anyInProgress() {
		return nil
	}
	elapsed := now.Sub(s.lastActivity)
	if elapsed <= a.cfg.StuckTimeout {
		return nil
	}
	overdue := float64(elapsed-a.cfg.StuckTimeout) / float64(a.cfg.StuckTimeout)
	if overdue > 1 {
		overdue = 1
	}
	return []Issue{{
		Type:       IssueSilence,
		Confidence: clampConfidence(0.55 + 0.3*overdue),
		Message:    fmt.Sprintf("no log activity for %s while %s is in progress", elapsed.Round(time.Second), s.currentCommand),
		Context: map[string]interface{}{
			"command":       s.currentCommand,
			"last_activity": s.lastActivity,
			"elapsed":       elapsed.String(),
		},
	}}
}

// detectMissingMilestones flags completed commands that produced far fewer
// milestones than configured. Confidence is the missing ratio.
func (a *Analyzer) detectMissingMilestones(s *chainState, _ time.Time) []Issue {
	issues := make([]Issue, 0)
	for _, cmd := range events.DefaultChain {
		if s.chainProgress[cmd] != ChainComplete {
			continue
		}
		expected := a.cfg.ExpectedMilestones[cmd]
		if expected <= 0 {
			continue
		}
		actual := s.milestonesFor(cmd)
		missing := float64(expected-actual) / float64(expected)
		if missing < 0.5 {
			continue
		}
		issues = append(issues, Issue{
			Type:       IssueMissingMilestones,
			Confidence: clampConfidence(0.3 + 0.4*missing),
			Message:    fmt.Sprintf("%s completed with %d of %d expected milestones", cmd, actual, expected),
			Context: map[string]interface{}{
				"command":  cmd,
				"expected": expected,
				"actual":   actual,
			},
		})
	}
	return issues
}

// detectDecliningVelocity flags milestone inter-arrival times trending
// strictly upward across the configured window.
func (a *Analyzer) detectDecliningVelocity(s *chainState, _ time.Time) []Issue {
	if len(s.milestones) < a.cfg.VelocityWindow {
		return nil
	}
	recent := s.milestones[len(s.milestones)-a.cfg.VelocityWindow:]
	gaps := make([]time.Duration, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		gaps = append(gaps, recent[i].At.Sub(recent[i-1].At))
	}
	for i := 1; i < len(gaps); i++ {
		if gaps[i] <= gaps[i-1] {
			return nil
		}
	}
	first, last := gaps[0], gaps[len(gaps)-1]
	if first <= 0 {
		return nil
	}
	slope := float64(last) / float64(first)
	conf := 0.4 + 0.1*slope
	if conf > 0.75 {
		conf = 0.75
	}
	return []Issue{{
		Type:       IssueDecliningVelocity,
		Confidence: clampConfidence(conf),
		Message:    fmt.Sprintf("milestone gaps widening: %s -> %s over last %d milestones", first.Round(time.Second), last.Round(time.Second), a.cfg.VelocityWindow),
		Context: map[string]interface{}{
			"first_gap": first.String(),
			"last_gap":  last.String(),
			"window":    a.cfg.VelocityWindow,
		},
	}}
}

// detectIncompleteOutputs flags COMPLETE events missing the data fields the
// command type is expected to produce.
func (a *Analyzer) detectIncompleteOutputs(s *chainState, _ time.Time) []Issue {
	issues := make([]Issue, 0)
	for _, e := range s.completedOutputs {
		required := a.cfg.RequiredOutputFields[e.Command]
		if len(required) == 0 {
			continue
		}
		missing := make([]string, 0)
		for _, field := range required {
			if e.Data == nil {
				missing = append(missing, field)
				continue
			}
			if _, ok := e.Data[field]; !ok {
				missing = append(missing, field)
			}
		}
		if len(missing) == 0 {
			continue
		}
		issues = append(issues, Issue{
			Type:       IssueIncompleteOutputs,
			Confidence: clampConfidence(0.5 + 0.4*float64(len(missing))/float64(len(required))),
			Message:    fmt.Sprintf("%s COMPLETE missing expected fields: %v", e.Command, missing),
			Context: map[string]interface{}{
				"command":        e.Command,
				"missing_fields": missing,
			},
		})
	}
	return issues
}

// detectAgentSilence flags active agents unreferenced past the silence
// timeout.
func (a *Analyzer) detectAgentSilence(s *chainState, now time.Time) []Issue {
	return a.detectQuietAgents(s, now, a.cfg.AgentSilenceTimeout, IssueAgentSilence, 0.5)
}

// detectAbandonedAgent flags active agents unreferenced past the longer
// abandonment timeout.
func (a *Analyzer) detectAbandonedAgent(s *chainState, now time.Time) []Issue {
	return a.detectQuietAgents(s, now, a.cfg.AbandonedAgentTimeout, IssueAbandonedAgent, 0.75)
}

// detectQuietAgents is the shared shape of the two agent-inactivity
// detectors. Agents are visited in id order to keep output deterministic.
func (a *Analyzer) detectQuietAgents(s *chainState, now time.Time, timeout time.Duration, issueType IssueType, baseConf float64) []Issue {
	ids := make([]string, 0, len(s.activeAgents))
	for id := range s.activeAgents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	issues := make([]Issue, 0)
	for _, id := range ids {
		agent := s.activeAgents[id]
		elapsed := now.Sub(agent.LastSeen)
		if elapsed <= timeout {
			continue
		}
		overdue := float64(elapsed-timeout) / float64(timeout)
		if overdue > 1 {
			overdue = 1
		}
		issues = append(issues, Issue{
			Type:       issueType,
			Confidence: clampConfidence(baseConf + 0.2*overdue),
			Message:    fmt.Sprintf("agent %s has made no progress for %s", id, elapsed.Round(time.Second)),
			Context: map[string]interface{}{
				"agent_id":   id,
				"agent_type": agent.Ref.Type,
				"last_seen":  agent.LastSeen,
				"elapsed":    elapsed.String(),
			},
		})
	}
	return issues
}

// detectAbruptStop flags a chain whose positive signals (milestones and
// completions) ceased mid-run with no terminal event. Unlike silence, the
// log may still carry chatter; what stopped is progress.
func (a *Analyzer) detectAbruptStop(s *chainState, now time.Time) []Issue {
	lastPositive := s.lastPositiveSignal()
	if lastPositive.IsZero() || !s.anyInProgress() {
		return nil
	}
	elapsed := now.Sub(lastPositive)
	if elapsed <= 2*a.cfg.StuckTimeout {
		return nil
	}
	return []Issue{{
		Type:       IssueAbruptStop,
		Confidence: 0.6,
		Message:    fmt.Sprintf("no milestones or completions for %s with the chain still mid-run", elapsed.Round(time.Second)),
		Context: map[string]interface{}{
			"last_positive_signal": lastPositive,
			"elapsed":              elapsed.String(),
		},
	}}
}

// detectPartialCompletion flags commands that completed while an earlier
// chain step was still pending.
func (a *Analyzer) detectPartialCompletion(s *chainState, _ time.Time) []Issue {
	issues := make([]Issue, 0)
	for i, cmd := range events.DefaultChain {
		if s.chainProgress[cmd] != ChainComplete {
			continue
		}
		pending := make([]string, 0)
		for _, upstream := range events.DefaultChain[:i] {
			if s.chainProgress[upstream] == ChainPending {
				pending = append(pending, upstream)
			}
		}
		if len(pending) == 0 {
			continue
		}
		issues = append(issues, Issue{
			Type:       IssuePartialCompletion,
			Confidence: 0.85,
			Message:    fmt.Sprintf("%s completed while earlier steps still pending: %v", cmd, pending),
			Context: map[string]interface{}{
				"command":          cmd,
				"pending_upstream": pending,
			},
		})
	}
	return issues
}
