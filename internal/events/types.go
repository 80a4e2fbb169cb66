package events

import (
	"time"
)

// EventType represents the type of event recorded in the workflow log.
// The set is closed: entries carrying any other value are rejected at parse
// time so downstream analysis only ever sees known event kinds.
type EventType string

const (
	// EventStart indicates a top-level workflow command began
	EventStart EventType = "START"
	// EventPhaseStart indicates a sub-phase within the current command began
	EventPhaseStart EventType = "PHASE_START"
	// EventPhaseComplete indicates a sub-phase finished
	EventPhaseComplete EventType = "PHASE_COMPLETE"
	// EventMilestone indicates meaningful progress within a phase
	EventMilestone EventType = "MILESTONE"
	// EventAgentSpawn indicates a sub-agent was launched
	EventAgentSpawn EventType = "AGENT_SPAWN"
	// EventAgentComplete indicates a sub-agent finished
	EventAgentComplete EventType = "AGENT_COMPLETE"
	// EventComplete indicates the current command finished successfully
	EventComplete EventType = "COMPLETE"
	// EventFailed indicates the current command failed
	EventFailed EventType = "FAILED"
)

// TDD phase names used by the build command's red/green/refactor cycle.
const (
	PhaseRed      = "RED"
	PhaseGreen    = "GREEN"
	PhaseRefactor = "REFACTOR"
)

// DefaultChain is the ordered top-level command sequence of the development
// workflow. Chain position drives the chain_broken and partial_completion
// detectors.
var DefaultChain = []string{"ideate", "plan", "build", "ship"}

// ChainIndex returns the position of command in the workflow chain, or -1 if
// the command is not part of the standard chain (ad-hoc commands are
// analyzed but carry no ordering constraints).
func ChainIndex(command string) int {
	for i, c := range DefaultChain {
		if c == command {
			return i
		}
	}
	return -1
}

// IsValidEvent reports whether t is a member of the closed event set.
func IsValidEvent(t EventType) bool {
	switch t {
	case EventStart, EventPhaseStart, EventPhaseComplete, EventMilestone,
		EventAgentSpawn, EventAgentComplete, EventComplete, EventFailed:
		return true
	}
	return false
}

// IsTerminal reports whether t ends the current command.
func IsTerminal(t EventType) bool {
	return t == EventComplete || t == EventFailed
}

// AgentRef identifies a spawned sub-agent.
type AgentRef struct {
	// Type is the agent specialization (e.g. "tester", "refactorer")
	Type string `json:"type"`
	// ID uniquely identifies this agent instance
	ID string `json:"id"`
	// ParentCommand is the workflow command that spawned the agent
	ParentCommand string `json:"parent_command,omitempty"`
}

// LogEntry is one workflow event as written to the append-only log.
// Entries are immutable once written; the log is the sole durable source of
// workflow history.
type LogEntry struct {
	// Timestamp is when the event occurred; monotonically non-decreasing
	// per source
	Timestamp time.Time `json:"timestamp"`
	// Command is the active workflow step (e.g. "build")
	Command string `json:"command"`
	// Phase is the optional sub-phase (e.g. "RED")
	Phase string `json:"phase,omitempty"`
	// Event is the event kind; see the EventType constants
	Event EventType `json:"event"`
	// Data is an open key/value payload whose semantics depend on Event
	Data map[string]interface{} `json:"data,omitempty"`
	// Agent identifies the sub-agent for AGENT_SPAWN/AGENT_COMPLETE events
	// and any event emitted on behalf of an agent
	Agent *AgentRef `json:"agent,omitempty"`
}

// AgentID returns the agent id carried by the entry, or "" if none.
func (e *LogEntry) AgentID() string {
	if e.Agent == nil {
		return ""
	}
	return e.Agent.ID
}

// DataString returns Data[key] as a string if present and string-typed.
func (e *LogEntry) DataString(key string) (string, bool) {
	if e.Data == nil {
		return "", false
	}
	v, ok := e.Data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// DataNumber returns Data[key] as a float64. JSON decoding produces float64
// for all numeric fields, but emitters constructing entries in-process may
// use int values, so both are accepted.
func (e *LogEntry) DataNumber(key string) (float64, bool) {
	if e.Data == nil {
		return 0, false
	}
	switch v := e.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// CompletedCount returns the "completed" counter carried by MILESTONE
// entries. The regression detector compares these across milestones.
func (e *LogEntry) CompletedCount() (int, bool) {
	n, ok := e.DataNumber("completed")
	if !ok {
		return 0, false
	}
	return int(n), true
}
