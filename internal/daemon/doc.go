// Package daemon coordinates the long-running mediaconv process.
//
// It wires configuration, queue storage, the workflow manager, the thumbnail
// cache and the HTTP API into a single lifecycle with flock-based locking to
// prevent multiple instances. A cron schedule runs queue maintenance: pruning
// old terminal items and reclaiming conversions whose heartbeat went stale.
//
// Keep orchestration logic here: conversion steps live in workflow and
// encoding while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
