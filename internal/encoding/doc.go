// Package encoding turns queue items into encoder invocations.
//
// Orchestrator builds ffmpeg arguments from a Request, runs them through an
// Executor, and forwards normalized integer progress to a ProgressSink.
// Service wraps the orchestrator with source validation, profile selection and
// output path derivation so the workflow processor can hand it a queue item
// directly.
package encoding
