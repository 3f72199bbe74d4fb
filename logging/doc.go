// Package logging provides a minimal logging interface and adapters for TaskForge.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the generation service, providers and the orchestrator use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - PipelineLogger with contextual helpers for sessions, tasks and stages
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	svc := llm.NewService(func(o *llm.ServiceOptions) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
