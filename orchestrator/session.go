package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskforge-ai/taskforge/agent"
)

// ProgressMode selects how much human gating a session's pipelines get.
type ProgressMode string

const (
	// ModeAuto runs all four stages without approval.
	ModeAuto ProgressMode = "auto"
	// ModeInteractive gates every stage on approval.
	ModeInteractive ProgressMode = "interactive"
	// ModeHybrid gates only execution and review.
	ModeHybrid ProgressMode = "hybrid"
)

// ParseProgressMode converts a string into a ProgressMode.
func ParseProgressMode(s string) (ProgressMode, error) {
	switch ProgressMode(s) {
	case ModeAuto, ModeInteractive, ModeHybrid:
		return ProgressMode(s), nil
	}
	return "", fmt.Errorf("unknown progress mode %q", s)
}

// AgentContext is the per-session working state of one role agent.
type AgentContext struct {
	AgentID    string         `json:"agent_id"`
	Role       agent.Role     `json:"role"`
	SessionID  string         `json:"session_id"`
	Memory     map[string]any `json:"memory"`
	LastAction string         `json:"last_action,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Session isolates one stream of work: its mode, its tasks and the
// per-role agent contexts. Field access is guarded by the orchestrator's
// session lock; sessions are never shared outside it.
type Session struct {
	ID             string
	Mode           ProgressMode
	ActiveTasks    []*Task
	CompletedTasks []*Task
	AgentContexts  map[agent.Role]*AgentContext
	GlobalContext  map[string]any
	CreatedAt      time.Time
}

func newSession(mode ProgressMode, roles []agent.Role, agentIDs map[agent.Role]string) *Session {
	s := &Session{
		ID:            uuid.NewString(),
		Mode:          mode,
		AgentContexts: make(map[agent.Role]*AgentContext, len(roles)),
		GlobalContext: make(map[string]any),
		CreatedAt:     time.Now(),
	}
	for _, role := range roles {
		s.AgentContexts[role] = &AgentContext{
			AgentID:   agentIDs[role],
			Role:      role,
			SessionID: s.ID,
			Memory:    make(map[string]any),
			CreatedAt: time.Now(),
		}
	}
	return s
}

func (s *Session) removeActive(taskID string) {
	for i, t := range s.ActiveTasks {
		if t.ID == taskID {
			s.ActiveTasks = append(s.ActiveTasks[:i], s.ActiveTasks[i+1:]...)
			return
		}
	}
}

// summary renders the read-only session digest.
func (s *Session) summary() map[string]any {
	return map[string]any{
		"session_id":            s.ID,
		"mode":                  string(s.Mode),
		"created_at":            s.CreatedAt.Format(time.RFC3339),
		"active_tasks_count":    len(s.ActiveTasks),
		"completed_tasks_count": len(s.CompletedTasks),
		"agents_count":          len(s.AgentContexts),
	}
}
