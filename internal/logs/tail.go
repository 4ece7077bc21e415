package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineBytes = 1024 * 1024
)

// Options selects which part of the log file Read returns.
type Options struct {
	// Offset is a byte position from a previous Batch. Negative means start
	// with the last Lines lines of the file.
	Offset int64
	Lines  int
	// Wait blocks up to this long for new lines when none are available.
	Wait time.Duration
	// Match keeps only lines containing this substring.
	Match string
}

// Batch is a set of lines plus the offset to resume from.
type Batch struct {
	Lines  []string
	Offset int64
}

// Read returns lines from path according to opts. A missing file yields an
// empty batch at offset zero.
func Read(ctx context.Context, path string, opts Options) (Batch, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Batch{}, nil
	}
	if err != nil {
		return Batch{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Batch{}, fmt.Errorf("log path %q is a directory", path)
	}

	var batch Batch
	if opts.Offset < 0 {
		batch, err = readLast(path, opts.Lines, opts.Match)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// Truncated or rotated since the last read.
			offset = 0
		}
		batch, err = readFrom(path, offset, opts.Match)
	}
	if err != nil || len(batch.Lines) > 0 || opts.Wait <= 0 {
		return batch, err
	}
	return waitForLines(ctx, path, batch.Offset, opts)
}

func readLast(path string, limit int, match string) (Batch, error) {
	file, err := os.Open(path)
	if err != nil {
		return Batch{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var ring []string
	if limit > 0 {
		ring = make([]string, 0, limit)
	}
	err = scanLines(file, match, func(line string) {
		if limit <= 0 {
			return
		}
		if len(ring) == limit {
			copy(ring, ring[1:])
			ring = ring[:limit-1]
		}
		ring = append(ring, line)
	})
	if err != nil {
		return Batch{}, err
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return Batch{}, fmt.Errorf("determine log offset: %w", err)
	}
	return Batch{Lines: ring, Offset: offset}, nil
}

func readFrom(path string, offset int64, match string) (Batch, error) {
	file, err := os.Open(path)
	if err != nil {
		return Batch{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Batch{}, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	if err := scanLines(file, match, func(line string) { lines = append(lines, line) }); err != nil {
		return Batch{}, err
	}
	next, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return Batch{}, fmt.Errorf("determine log offset: %w", err)
	}
	return Batch{Lines: lines, Offset: next}, nil
}

// scanLines reads to EOF, leaving the file positioned after the last byte.
func scanLines(r io.Reader, match string, emit func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if match != "" && !strings.Contains(line, match) {
			continue
		}
		emit(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	return nil
}

func waitForLines(ctx context.Context, path string, offset int64, opts Options) (Batch, error) {
	timer := time.NewTimer(opts.Wait)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	batch := Batch{Offset: offset}
	for {
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		case <-timer.C:
			return batch, nil
		case <-ticker.C:
		}
		next, err := readFrom(path, batch.Offset, opts.Match)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return batch, err
		}
		batch = next
		if len(batch.Lines) > 0 {
			return batch, nil
		}
	}
}
