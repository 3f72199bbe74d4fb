// Package llm defines the provider-agnostic abstractions for text generation
// inside TaskForge.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Encode transport failures as response values instead of errors
//   - Route requests to the best capable model across providers (Registry)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockProvider)
//
// Providers (e.g. Ollama, OpenAI, Anthropic) implement the Provider interface
// from this package so higher layers (agents, orchestrator) remain decoupled
// from vendor APIs. The Service aggregates providers, selects models, and runs
// a cancellable background health sweep.
package llm
