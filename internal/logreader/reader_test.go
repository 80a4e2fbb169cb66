package logreader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/internal/events"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func TestReaderMissingFile(t *testing.T) {
	r, err := NewReader(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)

	entries, offset, err := r.Read(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int64(0), offset)

	// A previously seen offset survives the file disappearing.
	entries, offset, err = r.Read(42)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int64(42), offset)
}

func TestReaderEmptyPath(t *testing.T) {
	_, err := NewReader("")
	assert.Error(t, err)
}

func TestReaderIncrementalOffsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	r, err := NewReader(path)
	require.NoError(t, err)

	writeLog(t, path, `{"timestamp":"2026-08-27T10:00:00Z","command":"build","event":"START"}`+"\n")

	entries, offset, err := r.Read(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "build", entries[0].Command)
	assert.Equal(t, events.EventStart, entries[0].Event)

	// Nothing new: same offset back, no entries.
	entries, offset2, err := r.Read(offset)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, offset, offset2)

	appendLog(t, path, `{"timestamp":"2026-08-27T10:05:00Z","command":"build","event":"COMPLETE"}`+"\n")
	entries, offset3, err := r.Read(offset)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.EventComplete, entries[0].Event)
	assert.Greater(t, offset3, offset)
}

func TestReaderDefersPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	r, err := NewReader(path)
	require.NoError(t, err)

	// No trailing newline: the writer is mid-record.
	writeLog(t, path, `{"timestamp":"2026-08-27T10:00:00Z","command":"plan","event":"START"}`)

	entries, offset, err := r.Read(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int64(0), offset)

	// Writer finishes the line; the whole record appears.
	appendLog(t, path, "\n")
	entries, offset, err = r.Read(offset)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "plan", entries[0].Command)
	assert.Greater(t, offset, int64(0))
}

func TestReaderSkipsJunkLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	r, err := NewReader(path)
	require.NoError(t, err)

	writeLog(t, path,
		"=== build phase started ===\n"+
			`{"timestamp":"2026-08-27T10:00:00Z","command":"build","event":"START"}`+"\n"+
			"\n"+
			`{"timestamp": broken json`+"\n"+
			`{"timestamp":"2026-08-27T10:01:00Z","command":"build","event":"BOGUS_EVENT"}`+"\n"+
			`{"timestamp":"2026-08-27T10:02:00Z","command":"build","event":"MILESTONE"}`+"\n")

	entries, _, err := r.Read(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, events.EventStart, entries[0].Event)
	assert.Equal(t, events.EventMilestone, entries[1].Event)
}

func TestReaderTruncationResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	r, err := NewReader(path)
	require.NoError(t, err)

	writeLog(t, path,
		`{"timestamp":"2026-08-27T10:00:00Z","command":"ideate","event":"START"}`+"\n"+
			`{"timestamp":"2026-08-27T10:10:00Z","command":"ideate","event":"COMPLETE"}`+"\n")

	_, offset, err := r.Read(0)
	require.NoError(t, err)

	// Log rotated: replaced with a shorter file.
	writeLog(t, path, `{"timestamp":"2026-08-27T11:00:00Z","command":"plan","event":"START"}`+"\n")

	entries, newOffset, err := r.Read(offset)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "plan", entries[0].Command)
	assert.Less(t, newOffset, offset)
}
