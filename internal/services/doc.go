// Package services defines shared utilities consumed by the conversion
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp queue item IDs, stage names, worker slots, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures with errors.Is instead of string matching.
//
// Subpackages wrap the external tools (ffmpeg, ffprobe) behind small
// interfaces that keep process execution testable.
package services
