package logreader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/chainwatch/chainwatch/internal/events"
)

// Reader incrementally tails the workflow event log. It is stateless between
// calls: the caller owns the byte offset and passes it back in, which lets
// the supervisor persist the offset across restarts.
//
// The log interleaves machine-readable JSON records with human-readable
// summary lines. Non-JSON lines are skipped silently; a corrupt JSON line is
// dropped without halting ingestion of subsequent lines; a trailing partial
// line (no newline yet) is deferred until a later read sees it completed.
type Reader struct {
	path string
}

// NewReader creates a reader for the log file at path. The file does not
// need to exist yet.
func NewReader(path string) (*Reader, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}
	return &Reader{path: path}, nil
}

// Path returns the log file path being read.
func (r *Reader) Path() string {
	return r.path
}

// Read returns entries appended since sinceOffset along with the new offset.
// A missing file is not an error: it returns no entries and the offset
// unchanged. If the file is smaller than sinceOffset the log was truncated
// or rotated, and reading restarts from the beginning.
func (r *Reader) Read(sinceOffset int64) ([]events.LogEntry, int64, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sinceOffset, nil
		}
		return nil, sinceOffset, fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, sinceOffset, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < sinceOffset {
		// Truncated or rotated out from under us; start over.
		sinceOffset = 0
	}
	if info.Size() == sinceOffset {
		return nil, sinceOffset, nil
	}

	if _, err := f.Seek(sinceOffset, io.SeekStart); err != nil {
		return nil, sinceOffset, fmt.Errorf("seeking log file: %w", err)
	}

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, sinceOffset, fmt.Errorf("reading log file: %w", err)
	}

	entries := make([]events.LogEntry, 0)
	consumed := int64(0)
	for {
		idx := bytes.IndexByte(buf[consumed:], '\n')
		if idx < 0 {
			// Trailing partial line: leave it for the next read.
			break
		}
		line := buf[consumed : consumed+int64(idx)]
		consumed += int64(idx) + 1

		if entry, ok := decodeLine(line); ok {
			entries = append(entries, entry)
		}
	}

	return entries, sinceOffset + consumed, nil
}

// decodeLine parses one complete log line. It returns false for blank lines,
// human summary lines, corrupt JSON, and entries carrying an unknown event
// type. None of these halt ingestion.
func decodeLine(line []byte) (events.LogEntry, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return events.LogEntry{}, false
	}

	var entry events.LogEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return events.LogEntry{}, false
	}
	if !events.IsValidEvent(entry.Event) {
		return events.LogEntry{}, false
	}
	return entry, true
}
