package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/logging"
)

// Role identifies an agent's position in the pipeline. The set is closed;
// the orchestrator maps each role to exactly one implementation.
type Role string

const (
	// RoleCoordinator decomposes tasks and plans execution.
	RoleCoordinator Role = "coordinator"
	// RoleAnalyzer analyzes requirements and risks.
	RoleAnalyzer Role = "analyzer"
	// RoleExecutor performs the actual work.
	RoleExecutor Role = "executor"
	// RoleReviewer assesses the produced result.
	RoleReviewer Role = "reviewer"
)

// Task is the read-only view of a task an agent works on.
type Task struct {
	ID          string
	Title       string
	Description string
	Priority    int
	Context     map[string]any
}

// Agent is one pipeline stage. Execute returns the stage's structured output
// or an error when the underlying generation transport failed. Parse failures
// of model output are absorbed into fallback payloads, never errors.
type Agent interface {
	ID() string
	Role() Role
	Execute(ctx context.Context, task Task, stageContext map[string]any) (map[string]any, error)
	Metrics() Metrics
}

// Metrics is a read-only snapshot of an agent's activity counters.
type Metrics struct {
	TasksCompleted int           `json:"tasks_completed"`
	TotalDuration  time.Duration `json:"total_duration"`
	LastActivity   time.Time     `json:"last_activity"`
}

// Options configure an agent.
type Options struct {
	// ID overrides the default agent identifier.
	ID string
	// Logger receives stage logs.
	Logger logging.Logger
}

// base carries the pieces every role agent shares: the generation service,
// identity and thread-safe activity counters.
type base struct {
	id     string
	role   Role
	svc    *llm.Service
	logger logging.Logger

	mu      sync.Mutex
	metrics Metrics
}

func newBase(role Role, svc *llm.Service, optFns ...func(o *Options)) base {
	opts := Options{
		ID:     string(role) + "-1",
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return base{id: opts.ID, role: role, svc: svc, logger: opts.Logger}
}

// ID implements Agent.
func (b *base) ID() string { return b.id }

// Role implements Agent.
func (b *base) Role() Role { return b.role }

// Metrics implements Agent.
func (b *base) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

func (b *base) recordCompletion(elapsed time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TasksCompleted++
	b.metrics.TotalDuration += elapsed
	b.metrics.LastActivity = time.Now()
}

// generate issues one service call with the given sampling settings and
// unwraps the error-bearing response into a plain error for the caller.
func (b *base) generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	req := llm.NewGenerationRequest(prompt, func(r *llm.GenerationRequest) {
		r.Config.Temperature = temperature
		r.Config.MaxTokens = maxTokens
	})
	resp := b.svc.Generate(ctx, req)
	if resp.Failed() {
		return "", resp.Err()
	}
	b.logger.Debug("stage generation completed", "agent", b.id, "model", resp.ModelName, "tokens", resp.TokenCount)
	return resp.Text, nil
}

// decodeObject attempts to parse text as a JSON object. Models often wrap
// JSON in markdown fences, so those are stripped first.
func decodeObject(text string) (map[string]any, bool) {
	var out map[string]any
	if err := json.Unmarshal([]byte(stripFences(text)), &out); err != nil {
		return nil, false
	}
	return out, true
}

// decodeList attempts to parse text as a JSON array.
func decodeList(text string) ([]any, bool) {
	var out []any
	if err := json.Unmarshal([]byte(stripFences(text)), &out); err != nil {
		return nil, false
	}
	return out, true
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// compactJSON renders a value for prompt embedding; failures degrade to the
// empty object rather than aborting the stage.
func compactJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func stringFrom(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
