// Package queue persists conversion jobs in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages the database connection, schema initialization, stats
// queries, heartbeat tracking, stuck-item recovery, and the status transitions
// that mirror the public Status enum. It also implements the durable
// reservation table the workflow uses to guarantee that a job id is executed
// by at most one worker at a time.
//
// The database is treated as transient storage for in-flight jobs rather than
// a long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
package queue
