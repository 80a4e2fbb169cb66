package analyzer

import (
	"time"

	"github.com/chainwatch/chainwatch/internal/events"
)

// milestone is one MILESTONE entry with its derived fields.
type milestone struct {
	At        time.Time
	Command   string
	Completed int // -1 when the entry carried no "completed" counter
}

// agentState tracks one spawned agent across the entry window.
type agentState struct {
	Ref      events.AgentRef
	SpawnAt  time.Time
	LastSeen time.Time
}

// chainBreak records a downstream command starting before an upstream chain
// command finished.
type chainBreak struct {
	Command  string
	Upstream string
	At       time.Time
}

// chainState is the folded view of the entry window. buildState produces it
// in one forward pass; the detectors only ever read it, which keeps each
// pass deterministic for a given entry sequence.
type chainState struct {
	entries []events.LogEntry

	currentCommand string
	currentPhase   string
	phaseStart     time.Time
	lastActivity   time.Time

	chainProgress map[string]ChainStatus
	milestones    []milestone

	activeAgents     map[string]*agentState
	failedAgentIDs   []string
	completedOutputs []events.LogEntry // COMPLETE entries in order
	failures         []events.LogEntry // FAILED entries in order

	chainBreaks    []chainBreak
	orphanPhases   []events.LogEntry // PHASE_COMPLETE without matching PHASE_START
	tddViolations  []events.LogEntry // GREEN/REFACTOR entered or completed without RED completion
	openPhaseCount map[string]int    // command|phase -> currently open count
}

// buildState folds the ordered entry sequence into derived workflow state.
// Structural violations (chain breaks, orphan phase completions, TDD order
// violations) must be judged against the state at the moment they occurred,
// so they are recorded here rather than re-derived by the detectors.
func buildState(entries []events.LogEntry) *chainState {
	s := &chainState{
		entries:        entries,
		chainProgress:  make(map[string]ChainStatus, len(events.DefaultChain)),
		activeAgents:   make(map[string]*agentState),
		openPhaseCount: make(map[string]int),
	}
	for _, cmd := range events.DefaultChain {
		s.chainProgress[cmd] = ChainPending
	}

	redDone := false // RED completed in the current build cycle

	for i := range entries {
		e := entries[i]
		if e.Timestamp.After(s.lastActivity) {
			s.lastActivity = e.Timestamp
		}

		// Any entry referencing an active agent counts as a sighting.
		if id := e.AgentID(); id != "" {
			if agent, ok := s.activeAgents[id]; ok {
				agent.LastSeen = e.Timestamp
			}
		}

		switch e.Event {
		case events.EventStart:
			if idx := events.ChainIndex(e.Command); idx > 0 {
				for _, upstream := range events.DefaultChain[:idx] {
					status := s.chainProgress[upstream]
					if status != ChainComplete && status != ChainFailed {
						s.chainBreaks = append(s.chainBreaks, chainBreak{
							Command:  e.Command,
							Upstream: upstream,
							At:       e.Timestamp,
						})
					}
				}
			}
			s.chainProgress[e.Command] = ChainInProgress
			s.currentCommand = e.Command
			s.currentPhase = ""
			if e.Command == "build" {
				redDone = false
			}

		case events.EventPhaseStart:
			s.currentPhase = e.Phase
			s.phaseStart = e.Timestamp
			s.openPhaseCount[phaseKey(e.Command, e.Phase)]++
			if e.Command == "build" && (e.Phase == events.PhaseGreen || e.Phase == events.PhaseRefactor) && !redDone {
				s.tddViolations = append(s.tddViolations, e)
			}

		case events.EventPhaseComplete:
			key := phaseKey(e.Command, e.Phase)
			if s.openPhaseCount[key] == 0 {
				s.orphanPhases = append(s.orphanPhases, e)
				// A GREEN/REFACTOR completion with no start and no RED
				// completion means the cycle skipped RED entirely. A
				// completion with a matching start was already judged at
				// PHASE_START.
				if e.Command == "build" && (e.Phase == events.PhaseGreen || e.Phase == events.PhaseRefactor) && !redDone {
					s.tddViolations = append(s.tddViolations, e)
				}
			} else {
				s.openPhaseCount[key]--
			}
			if e.Command == "build" {
				switch e.Phase {
				case events.PhaseRed:
					redDone = true
				case events.PhaseRefactor:
					// Cycle over; the next cycle needs its own RED.
					redDone = false
				}
			}
			if e.Phase == s.currentPhase && e.Command == s.currentCommand {
				s.currentPhase = ""
			}

		case events.EventMilestone:
			completed := -1
			if n, ok := e.CompletedCount(); ok {
				completed = n
			}
			s.milestones = append(s.milestones, milestone{
				At:        e.Timestamp,
				Command:   e.Command,
				Completed: completed,
			})

		case events.EventAgentSpawn:
			if e.Agent != nil && e.Agent.ID != "" {
				s.activeAgents[e.Agent.ID] = &agentState{
					Ref:      *e.Agent,
					SpawnAt:  e.Timestamp,
					LastSeen: e.Timestamp,
				}
			}

		case events.EventAgentComplete:
			if id := e.AgentID(); id != "" {
				delete(s.activeAgents, id)
			}

		case events.EventComplete:
			s.chainProgress[e.Command] = ChainComplete
			s.completedOutputs = append(s.completedOutputs, e)
			if e.Command == s.currentCommand {
				s.currentPhase = ""
			}

		case events.EventFailed:
			s.chainProgress[e.Command] = ChainFailed
			s.failures = append(s.failures, e)
			if id := e.AgentID(); id != "" {
				if _, active := s.activeAgents[id]; active {
					s.failedAgentIDs = append(s.failedAgentIDs, id)
				}
			}
			if e.Command == s.currentCommand {
				s.currentPhase = ""
			}
		}
	}

	return s
}

func phaseKey(command, phase string) string {
	return command + "|" + phase
}

// anyInProgress reports whether any chain command is currently in progress.
func (s *chainState) anyInProgress() bool {
	for _, cmd := range events.DefaultChain {
		if s.chainProgress[cmd] == ChainInProgress {
			return true
		}
	}
	return false
}

// milestonesFor counts milestones recorded for one command.
func (s *chainState) milestonesFor(command string) int {
	n := 0
	for _, m := range s.milestones {
		if m.Command == command {
			n++
		}
	}
	return n
}

// lastPositiveSignal returns the timestamp of the newest milestone or
// successful completion, zero if none.
func (s *chainState) lastPositiveSignal() time.Time {
	var last time.Time
	for _, m := range s.milestones {
		if m.At.After(last) {
			last = m.At
		}
	}
	for _, e := range s.completedOutputs {
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return last
}
