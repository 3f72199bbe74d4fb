package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/taskforge-ai/taskforge/llm"
)

// Coordinator decomposes a task into subtasks and produces an execution plan.
type Coordinator struct {
	base
}

// NewCoordinator constructs the coordination stage agent.
func NewCoordinator(svc *llm.Service, optFns ...func(o *Options)) *Coordinator {
	return &Coordinator{base: newBase(RoleCoordinator, svc, optFns...)}
}

// Execute implements Agent. Output keys: type, subtasks, coordination_plan,
// status, agent_id.
func (c *Coordinator) Execute(ctx context.Context, task Task, stageContext map[string]any) (map[string]any, error) {
	start := time.Now()

	subtasks, err := c.decompose(ctx, task, stageContext)
	if err != nil {
		return nil, fmt.Errorf("coordination failed: %w", err)
	}
	plan, err := c.plan(ctx, task, subtasks)
	if err != nil {
		return nil, fmt.Errorf("coordination failed: %w", err)
	}

	c.recordCompletion(time.Since(start))
	return map[string]any{
		"type":              "coordination",
		"subtasks":          subtasks,
		"coordination_plan": plan,
		"status":            "coordinated",
		"agent_id":          c.id,
	}, nil
}

func (c *Coordinator) decompose(ctx context.Context, task Task, stageContext map[string]any) ([]any, error) {
	prompt := fmt.Sprintf(`Break the following task into small executable subtasks:

Task: %s
Description: %s
Context: %s

Answer with a JSON array where each subtask has:
- title: subtask title
- description: detailed description
- priority: priority (1-5)
- estimated_duration: estimated duration in minutes
- required_skills: required skills
- dependencies: dependencies`, task.Title, task.Description, compactJSON(stageContext))

	text, err := c.generate(ctx, prompt, 0.7, 1500)
	if err != nil {
		return nil, err
	}
	if subtasks, ok := decodeList(text); ok {
		return subtasks, nil
	}
	c.logger.Debug("subtask decomposition did not parse, using fallback", "agent", c.id)
	return []any{map[string]any{
		"title":              fmt.Sprintf("Sub-task for: %s", task.Title),
		"description":        fmt.Sprintf("Execute: %s", task.Description),
		"priority":           task.Priority,
		"estimated_duration": 30,
		"required_skills":    []any{"general"},
		"dependencies":       []any{},
	}}, nil
}

func (c *Coordinator) plan(ctx context.Context, task Task, subtasks []any) (map[string]any, error) {
	prompt := fmt.Sprintf(`Create an execution plan for the following main task and subtasks:

Main task: %s
Subtasks: %s

Answer with a JSON object containing:
- execution_order: order of execution
- parallel_groups: groups that can run in parallel
- resource_allocation: resource allocation
- timeline: timeline
- checkpoints: checkpoints`, task.Title, compactJSON(subtasks))

	text, err := c.generate(ctx, prompt, 0.5, 1000)
	if err != nil {
		return nil, err
	}
	if plan, ok := decodeObject(text); ok {
		return plan, nil
	}
	return map[string]any{
		"execution_order":     "sequential",
		"parallel_groups":     []any{},
		"resource_allocation": "balanced",
		"timeline":            "flexible",
		"checkpoints":         []any{"start", "middle", "end"},
	}, nil
}
