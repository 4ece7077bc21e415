// Package api exposes the daemon over HTTP.
//
// The gin router serves queue management under /api/queue, daemon status,
// live log tailing backed by logging.StreamHub, on-demand JPEG thumbnails
// from the thumbnail cache, and Prometheus metrics at /metrics. When a
// bearer token is configured every route except /metrics requires it.
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Errors are returned as {"error": "..."} with a status derived from the
// error's sentinel: not found maps to 404, validation to 400, and invalid
// state transitions to 409.
package api
