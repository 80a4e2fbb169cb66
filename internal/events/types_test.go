package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChainIndex(t *testing.T) {
	assert.Equal(t, 0, ChainIndex("ideate"))
	assert.Equal(t, 1, ChainIndex("plan"))
	assert.Equal(t, 2, ChainIndex("build"))
	assert.Equal(t, 3, ChainIndex("ship"))

	// Ad-hoc commands are outside the chain.
	assert.Equal(t, -1, ChainIndex("lint"))
	assert.Equal(t, -1, ChainIndex(""))
}

func TestIsValidEvent(t *testing.T) {
	for _, e := range []EventType{
		EventStart, EventPhaseStart, EventPhaseComplete, EventMilestone,
		EventAgentSpawn, EventAgentComplete, EventComplete, EventFailed,
	} {
		assert.True(t, IsValidEvent(e), string(e))
	}
	assert.False(t, IsValidEvent("RESTART"))
	assert.False(t, IsValidEvent("start"))
	assert.False(t, IsValidEvent(""))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(EventComplete))
	assert.True(t, IsTerminal(EventFailed))
	assert.False(t, IsTerminal(EventStart))
	assert.False(t, IsTerminal(EventPhaseComplete))
}

func TestDataAccessors(t *testing.T) {
	e := NewEntry(time.Now(), "build", PhaseGreen, EventMilestone).
		WithData("note", "tests passing").
		WithData("completed", 7)

	s, ok := e.DataString("note")
	assert.True(t, ok)
	assert.Equal(t, "tests passing", s)

	_, ok = e.DataString("completed")
	assert.False(t, ok) // wrong type

	_, ok = e.DataString("missing")
	assert.False(t, ok)

	n, ok := e.DataNumber("completed")
	assert.True(t, ok)
	assert.Equal(t, 7.0, n)

	c, ok := e.CompletedCount()
	assert.True(t, ok)
	assert.Equal(t, 7, c)

	var empty LogEntry
	_, ok = empty.DataString("note")
	assert.False(t, ok)
	_, ok = empty.CompletedCount()
	assert.False(t, ok)
}

func TestWithDataDoesNotShareMaps(t *testing.T) {
	base := NewEntry(time.Now(), "plan", "", EventComplete).WithData("a", 1)
	derived := base.WithData("b", 2)

	_, ok := base.Data["b"]
	assert.False(t, ok)
	assert.Len(t, derived.Data, 2)
}

func TestAgentID(t *testing.T) {
	e := NewEntry(time.Now(), "build", "", EventAgentSpawn).WithAgent("tester", "t-1", "build")
	assert.Equal(t, "t-1", e.AgentID())
	assert.Equal(t, "tester", e.Agent.Type)
	assert.Equal(t, "build", e.Agent.ParentCommand)

	plain := NewEntry(time.Now(), "build", "", EventStart)
	assert.Equal(t, "", plain.AgentID())
}
