package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/taskforge-ai/taskforge/llm"
)

// Task type values recognized by the Executor in the stage context under
// the "task_type" key. Anything else runs the general branch.
const (
	TaskTypeCodeGeneration  = "code_generation"
	TaskTypeContentCreation = "content_creation"
	TaskTypeGeneral         = "general"
)

// Executor performs the actual work of a task: generating code, writing
// content or carrying out a general instruction, depending on the task type.
type Executor struct {
	base
}

// NewExecutor constructs the execution stage agent.
func NewExecutor(svc *llm.Service, optFns ...func(o *Options)) *Executor {
	return &Executor{base: newBase(RoleExecutor, svc, optFns...)}
}

// Execute implements Agent. Output keys: type, task_type, result, agent_id.
func (e *Executor) Execute(ctx context.Context, task Task, stageContext map[string]any) (map[string]any, error) {
	start := time.Now()
	taskType := stringFrom(stageContext, "task_type", TaskTypeGeneral)

	var (
		result map[string]any
		err    error
	)
	switch taskType {
	case TaskTypeCodeGeneration:
		result, err = e.generateCode(ctx, task, stageContext)
	case TaskTypeContentCreation:
		result, err = e.createContent(ctx, task, stageContext)
	default:
		result, err = e.executeGeneral(ctx, task, stageContext)
	}
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	e.recordCompletion(time.Since(start))
	return map[string]any{
		"type":      "execution",
		"task_type": taskType,
		"result":    result,
		"agent_id":  e.id,
	}, nil
}

func (e *Executor) generateCode(ctx context.Context, task Task, stageContext map[string]any) (map[string]any, error) {
	language := stringFrom(stageContext, "language", "python")
	requirements := stringFrom(stageContext, "requirements", task.Description)

	prompt := fmt.Sprintf(`Generate %s code for the following requirements:

Requirements: %s
Language: %s

Answer with:
- the code block
- explanation and comments
- usage example`, language, requirements, language)

	text, err := e.generate(ctx, prompt, 0.3, 2000)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"code":     text,
		"language": language,
		"status":   "generated",
	}, nil
}

func (e *Executor) createContent(ctx context.Context, task Task, stageContext map[string]any) (map[string]any, error) {
	contentType := stringFrom(stageContext, "content_type", "document")
	style := stringFrom(stageContext, "style", "professional")

	prompt := fmt.Sprintf(`Create a %s with the following specification:

Title: %s
Content: %s
Style: %s

Produce high quality, readable content.`, contentType, task.Title, task.Description, style)

	text, err := e.generate(ctx, prompt, 0.7, 1500)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content":      text,
		"content_type": contentType,
		"style":        style,
		"status":       "created",
	}, nil
}

func (e *Executor) executeGeneral(ctx context.Context, task Task, stageContext map[string]any) (map[string]any, error) {
	prompt := fmt.Sprintf(`Carry out the following task:

Task: %s
Description: %s
Context: %s

Analyze the task, execute it appropriately and report the result.`, task.Title, task.Description, compactJSON(stageContext))

	text, err := e.generate(ctx, prompt, 0.6, 1000)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"output": text,
		"status": "executed",
	}, nil
}
