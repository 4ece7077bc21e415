// Package ffmpeg wraps the ffmpeg and ffprobe command-line tools: CLI runs
// encodes with machine-readable progress, and Thumbnailer grabs and resizes a
// single frame.
package ffmpeg
