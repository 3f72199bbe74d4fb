package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskforge-ai/taskforge/agent"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusPending marks a task not yet started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning marks a task with its pipeline in flight.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted marks a finished task with a result.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed marks a task whose pipeline aborted; Error holds why.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusPaused marks a running task waiting for an approval decision.
	// Only reachable from running, and only in interactive or hybrid mode.
	TaskStatusPaused TaskStatus = "paused"
)

// Task is one unit of work moving through the pipeline.
type Task struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Priority      int            `json:"priority"` // 1-5
	Dependencies  []string       `json:"dependencies,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	AssignedAgent string         `json:"assigned_agent,omitempty"`
	Status        TaskStatus     `json:"status"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// NewTask creates a pending task with a fresh ID.
func NewTask(title, description string, context map[string]any) *Task {
	if context == nil {
		context = make(map[string]any)
	}
	return &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Priority:    1,
		Context:     context,
		CreatedAt:   time.Now(),
		Status:      TaskStatusPending,
	}
}

// view returns the read-only projection handed to agents.
func (t *Task) view() agent.Task {
	return agent.Task{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		Context:     t.Context,
	}
}

// TaskStore is an in-memory task index. Safe for concurrent use.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewTaskStore constructs an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*Task)}
}

// Add indexes a task by ID.
func (s *TaskStore) Add(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// Get returns the task with the given ID.
func (s *TaskStore) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Delete removes a task from the index.
func (s *TaskStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// List returns all indexed tasks.
func (s *TaskStore) List() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}
