// Package agent provides the role agents that make up a TaskForge pipeline.
//
// Four roles form the closed set used by the orchestrator: Coordinator
// (task decomposition and planning), Analyzer (requirements, risks,
// recommendations), Executor (the actual work) and Reviewer (quality
// assessment). Each agent turns its stage into one or more generation calls
// and parses the structured output, falling back to a fixed payload when the
// model returns something that does not decode. Only transport failures
// surface as errors; a badly formatted completion never stops a pipeline.
package agent
