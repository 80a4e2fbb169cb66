package queue

import "time"

// Priority orders tasks for consumption. Critical drains first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the sort rank of a priority: critical=0 through low=3.
// Unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Downgrade returns the priority one level lower, saturating at low.
func (p Priority) Downgrade() Priority {
	switch p {
	case PriorityCritical:
		return PriorityHigh
	case PriorityHigh:
		return PriorityMedium
	case PriorityMedium:
		return PriorityLow
	}
	return PriorityLow
}

// Status is a task's lifecycle state. Expiry marks tasks rather than
// deleting them so the queue file keeps its history.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
)

// Task is one queued corrective intervention. Tasks are owned exclusively by
// the Manager: created via AddTask, terminated by completion, explicit
// removal, or the expiry sweep. Priority is immutable after creation; a
// change in urgency requires a new task.
type Task struct {
	// ID uniquely identifies the task
	ID string `json:"id"`
	// Priority is fixed at creation
	Priority Priority `json:"priority"`
	// Source names the originating detector or monitor
	Source string `json:"source"`
	// AnomalyType is the issue kind that produced this task
	AnomalyType string `json:"anomaly_type"`
	// Prompt is the actionable remediation instruction
	Prompt string `json:"prompt"`
	// SuggestedAgent optionally names a specialist to delegate to
	SuggestedAgent string `json:"suggested_agent,omitempty"`
	// Context carries supporting data from the originating issue
	Context map[string]interface{} `json:"context,omitempty"`
	// Signature is the deduplication key; no two pending tasks share one
	Signature string `json:"signature,omitempty"`
	// Status is the lifecycle state
	Status Status `json:"status"`
	// CreatedAt is when the task was enqueued
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is when a still-pending task is marked expired
	ExpiresAt time.Time `json:"expires_at"`
}

// TaskInput is the create-side shape accepted by AddTask. The Manager
// assigns ID, status, and the timestamps.
type TaskInput struct {
	Priority       Priority
	Source         string
	AnomalyType    string
	Prompt         string
	SuggestedAgent string
	Context        map[string]interface{}
	Signature      string
}

// Filter selects tasks for ListTasks. Zero values match everything.
type Filter struct {
	Status      Status
	Priority    Priority
	Source      string
	AnomalyType string
}

func (f Filter) matches(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	if f.AnomalyType != "" && t.AnomalyType != f.AnomalyType {
		return false
	}
	return true
}
