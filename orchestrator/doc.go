// Package orchestrator coordinates role agents through the four stage
// pipeline (coordination, analysis, execution, review) under three progress
// modes: AUTO runs everything, INTERACTIVE gates every stage on approval,
// HYBRID gates only execution and review. Sessions isolate work; tasks move
// pending -> running -> completed or failed, with paused reachable while an
// approval decision is outstanding. A paused pipeline is resumable through
// ApproveStep from the exact stage it stopped at.
package orchestrator
