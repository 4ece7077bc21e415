// Package queueaccess gives the CLI one view of the queue whether the daemon
// is running or not. When the daemon answers on its API address, operations
// go through HTTP so the workers see them immediately; otherwise the SQLite
// store is opened directly.
package queueaccess
