// Package logs reads the daemon log file directly. The CLI falls back to it
// when the daemon's HTTP API is unreachable, so `mediaconv logs` still shows
// the tail of the last run.
package logs
