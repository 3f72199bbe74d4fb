// Package taskforge provides a high-level façade over the generation service
// and the agent orchestrator, enabling quick construction of multi-agent task
// pipelines backed by pluggable model providers. Most applications interact
// with this package by:
//  1. Creating a TaskForge via New() and registering one or more providers
//  2. Starting it to run the background provider health sweep
//  3. Opening a session in the desired progress mode and executing tasks
//
// The façade delegates generation routing to llm.Service and pipeline
// execution to orchestrator.Orchestrator. All defaults are safe for local
// development; production deployments typically supply a structured logger
// and tuned health-check intervals.
package taskforge

import (
	"context"

	"github.com/taskforge-ai/taskforge/llm"
	"github.com/taskforge-ai/taskforge/logging"
	"github.com/taskforge-ai/taskforge/orchestrator"
)

// Options configures the TaskForge instance.
type Options struct {
	// ServiceOptions tunes the generation service (health sweep, probes).
	ServiceOptions llm.ServiceOptions

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// TaskForge is the high-level façade aggregating the generation service and
// the orchestrator.
type TaskForge struct {
	service      *llm.Service
	orchestrator *orchestrator.Orchestrator
	logger       logging.Logger
}

// New creates a TaskForge instance with optional overrides.
func New(optFns ...func(o *Options)) *TaskForge {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	svc := llm.NewService(func(o *llm.ServiceOptions) {
		if opts.ServiceOptions.HealthCheckInterval > 0 {
			o.HealthCheckInterval = opts.ServiceOptions.HealthCheckInterval
		}
		if opts.ServiceOptions.ProbeTimeout > 0 {
			o.ProbeTimeout = opts.ServiceOptions.ProbeTimeout
		}
		o.Logger = opts.Logger
	})
	orch := orchestrator.New(svc, func(o *orchestrator.Options) {
		o.Logger = opts.Logger
	})
	return &TaskForge{service: svc, orchestrator: orch, logger: opts.Logger}
}

// Service returns the underlying generation service.
func (tf *TaskForge) Service() *llm.Service { return tf.service }

// Orchestrator returns the underlying orchestrator.
func (tf *TaskForge) Orchestrator() *orchestrator.Orchestrator { return tf.orchestrator }

// RegisterProvider adds a model provider to the generation service.
func (tf *TaskForge) RegisterProvider(name string, p llm.Provider) {
	tf.service.RegisterProvider(name, p)
}

// Start launches the background health sweep.
func (tf *TaskForge) Start(ctx context.Context) error { return tf.service.Start(ctx) }

// Stop halts the background health sweep.
func (tf *TaskForge) Stop() { tf.service.Stop() }

// Session opens an orchestration session in the given progress mode.
func (tf *TaskForge) Session(mode orchestrator.ProgressMode) string {
	return tf.orchestrator.CreateSession(mode)
}

// Execute runs a task's pipeline inside a session.
func (tf *TaskForge) Execute(ctx context.Context, sessionID string, task *orchestrator.Task, approval orchestrator.Approval) (map[string]any, error) {
	return tf.orchestrator.ExecuteTask(ctx, sessionID, task, approval)
}

// Generate routes a single generation request through the service.
func (tf *TaskForge) Generate(ctx context.Context, req llm.GenerationRequest) llm.GenerationResponse {
	return tf.service.Generate(ctx, req)
}
