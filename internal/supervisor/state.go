package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the supervisor lifecycle state.
type Status string

const (
	// StatusIdle means the supervisor is constructed but not running
	StatusIdle Status = "idle"
	// StatusRunning means the supervision loop is active
	StatusRunning Status = "running"
	// StatusStopped means the supervisor was stopped
	StatusStopped Status = "stopped"
)

const stateVersion = 1

// State is the supervisor's persisted cross-session memory. It lets a
// restarted supervisor resume from the last log offset and avoid
// re-filing tasks for findings an earlier session already handled.
type State struct {
	// Version of the state file format
	Version int `json:"version"`
	// LogOffset is the byte offset of the next unread log byte
	LogOffset int64 `json:"log_offset"`
	// CurrentCommand from the last analysis pass
	CurrentCommand string `json:"current_command,omitempty"`
	// CurrentPhase from the last analysis pass
	CurrentPhase string `json:"current_phase,omitempty"`
	// PhaseStartTime from the last analysis pass
	PhaseStartTime time.Time `json:"phase_start_time,omitzero"`
	// ChainProgress from the last analysis pass
	ChainProgress map[string]string `json:"chain_progress,omitempty"`
	// LastActivityTime from the last analysis pass
	LastActivityTime time.Time `json:"last_activity_time,omitzero"`
	// ProcessedSignatures maps handled finding keys to when they were handled
	ProcessedSignatures map[string]time.Time `json:"processed_signatures,omitempty"`
	// UpdatedAt is when this state was written
	UpdatedAt time.Time `json:"updated_at"`
}

func newState() *State {
	return &State{
		Version:             stateVersion,
		ProcessedSignatures: make(map[string]time.Time),
	}
}

// loadState reads persisted state from path. A missing or corrupt file
// yields fresh state: losing cross-session memory is recoverable,
// failing to start is not.
func loadState(path string) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("Supervisor: could not read state file, starting fresh: %v\n", err)
		}
		return newState()
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		fmt.Printf("Supervisor: corrupt state file, starting fresh: %v\n", err)
		return newState()
	}
	if st.Version != stateVersion {
		fmt.Printf("Supervisor: state file version %d unsupported, starting fresh\n", st.Version)
		return newState()
	}
	if st.ProcessedSignatures == nil {
		st.ProcessedSignatures = make(map[string]time.Time)
	}
	return &st
}

// saveState writes the state atomically via a temp file and rename.
func saveState(path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing state temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
