package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fileVersion tags the queue file format for external consumers.
const fileVersion = 1

// ErrDuplicateSignature is returned when a pending task with the same
// deduplication signature already exists.
var ErrDuplicateSignature = errors.New("pending task with same signature already queued")

// ErrQueueFull is returned when the queue is at capacity and every evictable
// task outranks the incoming one.
var ErrQueueFull = errors.New("queue full and no evictable task")

// queueFile is the on-disk shape. External consumers (status displays,
// executors) read this file directly; a read that races the rename is
// retryable on their side, never half-written.
type queueFile struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Tasks     []Task    `json:"tasks"`
}

// Manager is the durable, bounded, priority-ordered task store. All
// mutations go through a read-modify-write cycle that ends in an atomic
// temp-file rename, so concurrent readers never observe a partial write.
// No long-lived file handle is held across calls.
type Manager struct {
	mu      sync.Mutex
	path    string
	maxSize int
	taskTTL time.Duration
	now     func() time.Time
}

// ManagerConfig configures a queue Manager.
type ManagerConfig struct {
	// Path is the queue file location
	Path string
	// MaxSize bounds the number of stored tasks.
	// Default: 50
	MaxSize int
	// TaskTTL is how long a pending task lives before the expiry sweep
	// marks it expired.
	// Default: 24 hours
	TaskTTL time.Duration
	// Now is the clock; tests inject a fixed one. Default: time.Now
	Now func() time.Time
}

// NewManager creates a queue manager persisting to cfg.Path.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("queue path is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50
	}
	if cfg.TaskTTL <= 0 {
		cfg.TaskTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		path:    cfg.Path,
		maxSize: cfg.MaxSize,
		taskTTL: cfg.TaskTTL,
		now:     cfg.Now,
	}, nil
}

// AddTask creates a task from input and persists the queue. A pending task
// with the same signature suppresses the insert. If the queue is at
// capacity, the lowest-priority, oldest pending task is evicted first;
// but a critical task is never evicted to admit a lower-priority one.
func (m *Manager) AddTask(input TaskInput) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	tasks, err := m.load()
	if err != nil {
		return nil, err
	}
	sweepExpired(tasks, now)

	if input.Signature != "" {
		for i := range tasks {
			if tasks[i].Status == StatusPending && tasks[i].Signature == input.Signature {
				return nil, ErrDuplicateSignature
			}
		}
	}

	if len(tasks) >= m.maxSize {
		tasks, err = m.evictOne(tasks, input.Priority)
		if err != nil {
			return nil, err
		}
	}

	task := Task{
		ID:             uuid.New().String(),
		Priority:       input.Priority,
		Source:         input.Source,
		AnomalyType:    input.AnomalyType,
		Prompt:         input.Prompt,
		SuggestedAgent: input.SuggestedAgent,
		Context:        input.Context,
		Signature:      input.Signature,
		Status:         StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.taskTTL),
	}
	tasks = append(tasks, task)

	if err := m.save(tasks, now); err != nil {
		return nil, err
	}
	return &task, nil
}

// evictOne frees one slot. Terminated tasks (expired, then completed) go
// first, oldest first; after that the lowest-priority oldest pending task
// goes, unless it is critical and the incoming task is not.
func (m *Manager) evictOne(tasks []Task, incoming Priority) ([]Task, error) {
	victim := -1

	for _, status := range []Status{StatusExpired, StatusCompleted} {
		for i := range tasks {
			if tasks[i].Status != status {
				continue
			}
			if victim < 0 || tasks[i].CreatedAt.Before(tasks[victim].CreatedAt) {
				victim = i
			}
		}
		if victim >= 0 {
			return append(tasks[:victim], tasks[victim+1:]...), nil
		}
	}

	for i := range tasks {
		if tasks[i].Status != StatusPending {
			continue
		}
		if victim < 0 {
			victim = i
			continue
		}
		v := &tasks[victim]
		if tasks[i].Priority.Rank() > v.Priority.Rank() ||
			(tasks[i].Priority.Rank() == v.Priority.Rank() && tasks[i].CreatedAt.Before(v.CreatedAt)) {
			victim = i
		}
	}
	if victim < 0 {
		return nil, ErrQueueFull
	}
	if tasks[victim].Priority == PriorityCritical && incoming != PriorityCritical {
		return nil, ErrQueueFull
	}
	return append(tasks[:victim], tasks[victim+1:]...), nil
}

// ListTasks returns tasks matching the filter, sorted by priority (critical
// first) then creation time (oldest first). This ordering is a contract for
// consumers that pop "next task".
func (m *Manager) ListTasks(filter Filter) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.load()
	if err != nil {
		return nil, err
	}
	now := m.now()
	if sweepExpired(tasks, now) > 0 {
		// Persist the sweep so readers of the queue file see the same
		// statuses this listing reports.
		if err := m.save(tasks, now); err != nil {
			return nil, err
		}
	}

	out := make([]Task, 0, len(tasks))
	for i := range tasks {
		if filter.matches(&tasks[i]) {
			out = append(out, tasks[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// PendingTasks returns the pending tasks in consumption order.
func (m *Manager) PendingTasks() ([]Task, error) {
	return m.ListTasks(Filter{Status: StatusPending})
}

// HasPendingSignature reports whether a pending task carries the signature.
func (m *Manager) HasPendingSignature(signature string) (bool, error) {
	if signature == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.load()
	if err != nil {
		return false, err
	}
	now := m.now()
	for i := range tasks {
		if tasks[i].Status == StatusPending && tasks[i].Signature == signature && tasks[i].ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

// CompleteTask marks the task completed and persists.
func (m *Manager) CompleteTask(id string) error {
	return m.setStatus(id, StatusCompleted)
}

// StartTask marks the task in_progress and persists.
func (m *Manager) StartTask(id string) error {
	return m.setStatus(id, StatusInProgress)
}

// RemoveTask deletes the task outright. Completion is preferred; removal
// exists for operator cleanup.
func (m *Manager) RemoveTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.load()
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			tasks = append(tasks[:i], tasks[i+1:]...)
			return m.save(tasks, m.now())
		}
	}
	return fmt.Errorf("task %s not found", id)
}

// RemoveExpired sweeps pending tasks whose expiry has passed, marking them
// expired, not deleted, so history is preserved. Returns how many changed.
func (m *Manager) RemoveExpired(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.load()
	if err != nil {
		return 0, err
	}
	n := sweepExpired(tasks, now)
	if n == 0 {
		return 0, nil
	}
	if err := m.save(tasks, now); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *Manager) setStatus(id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.load()
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			tasks[i].Status = status
			return m.save(tasks, m.now())
		}
	}
	return fmt.Errorf("task %s not found", id)
}

// sweepExpired marks overdue pending tasks expired in place.
func sweepExpired(tasks []Task, now time.Time) int {
	n := 0
	for i := range tasks {
		if tasks[i].Status == StatusPending && !tasks[i].ExpiresAt.After(now) {
			tasks[i].Status = StatusExpired
			n++
		}
	}
	return n
}

// load reads the queue file. Missing means empty; a corrupt file is reset to
// empty rather than wedging the queue (the offending content is unusable
// either way, and every save rewrites the whole file).
func (m *Manager) load() ([]Task, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading queue file: %w", err)
	}
	var qf queueFile
	if err := json.Unmarshal(data, &qf); err != nil {
		fmt.Printf("Queue: corrupt queue file %s, starting fresh: %v\n", m.path, err)
		return nil, nil
	}
	return qf.Tasks, nil
}

// save writes the queue atomically: temp file then rename.
func (m *Manager) save(tasks []Task, now time.Time) error {
	qf := queueFile{
		Version:   fileVersion,
		UpdatedAt: now,
		Tasks:     tasks,
	}
	data, err := json.MarshalIndent(qf, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing queue: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing queue file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("committing queue file: %w", err)
	}
	return nil
}
