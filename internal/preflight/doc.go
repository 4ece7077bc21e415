// Package preflight provides readiness checks for the binaries, directories
// and notification endpoints mediaconv depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start; the CLI "status" command renders the same results as a table.
// Notification checks only run for transports that are configured.
package preflight
