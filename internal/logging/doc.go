// Package logging assembles the slog loggers shared by the mediaconv CLI and
// daemon.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// context helpers that tag lines with queue item IDs, stages, worker slots and
// correlation IDs. A bounded StreamHub can be attached so the daemon API can
// serve recent log lines without reading the log file.
package logging
