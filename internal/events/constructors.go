package events

import "time"

// NewEntry builds a LogEntry with the given fields. It exists mainly for
// emitters and tests; the log reader constructs entries by decoding.
func NewEntry(ts time.Time, command, phase string, event EventType) LogEntry {
	return LogEntry{
		Timestamp: ts,
		Command:   command,
		Phase:     phase,
		Event:     event,
	}
}

// WithData returns a copy of the entry with key set in its data payload.
func (e LogEntry) WithData(key string, value interface{}) LogEntry {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// WithAgent returns a copy of the entry tagged with an agent reference.
func (e LogEntry) WithAgent(agentType, id, parent string) LogEntry {
	e.Agent = &AgentRef{Type: agentType, ID: id, ParentCommand: parent}
	return e
}
