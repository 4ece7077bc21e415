// Command mediaconv is the operator CLI for the mediaconv conversion queue.
//
// Queue commands talk to a running daemon over its HTTP API and fall back to
// the SQLite queue directly when no daemon answers. `mediaconv run` starts
// the daemon in the foreground.
package main
