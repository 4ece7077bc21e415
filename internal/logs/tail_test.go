package logs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediaconv/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func TestReadLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaconv.log")
	writeLog(t, path, "a\nb\nc\n")

	batch, err := logs.Read(context.Background(), path, logs.Options{Offset: -1, Lines: 2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(batch.Lines) != 2 || batch.Lines[0] != "b" || batch.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", batch.Lines)
	}
	if batch.Offset != 6 {
		t.Fatalf("expected offset at end of file, got %d", batch.Offset)
	}
}

func TestReadMatchFiltersLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaconv.log")
	writeLog(t, path, "INFO processor[abc12345]: started\nINFO api: ping\nWARN processor[abc12345]: retry\n")

	batch, err := logs.Read(context.Background(), path, logs.Options{Offset: -1, Lines: 10, Match: "abc12345"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(batch.Lines) != 2 {
		t.Fatalf("expected 2 matching lines, got %#v", batch.Lines)
	}
}

func TestReadFromOffsetAndTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaconv.log")
	writeLog(t, path, "one\n")
	first, err := logs.Read(context.Background(), path, logs.Options{Offset: -1, Lines: 5})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("two\n")
	f.Close()

	next, err := logs.Read(context.Background(), path, logs.Options{Offset: first.Offset})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(next.Lines) != 1 || next.Lines[0] != "two" {
		t.Fatalf("unexpected lines after offset: %#v", next.Lines)
	}

	writeLog(t, path, "x\n")
	rotated, err := logs.Read(context.Background(), path, logs.Options{Offset: next.Offset})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rotated.Lines) != 1 || rotated.Lines[0] != "x" {
		t.Fatalf("expected restart after truncation, got %#v", rotated.Lines)
	}
}

func TestReadMissingFile(t *testing.T) {
	batch, err := logs.Read(context.Background(), filepath.Join(t.TempDir(), "none.log"), logs.Options{Offset: -1, Lines: 5})
	if err != nil || len(batch.Lines) != 0 || batch.Offset != 0 {
		t.Fatalf("unexpected result for missing file: %+v, %v", batch, err)
	}
}

func TestReadWaitsForNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaconv.log")
	writeLog(t, path, "start\n")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan logs.Batch, 1)
	go func() {
		batch, err := logs.Read(ctx, path, logs.Options{Offset: 6, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("Read: %v", err)
		}
		done <- batch
	}()

	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("later\n")
	f.Close()

	select {
	case batch := <-done:
		if len(batch.Lines) != 1 || batch.Lines[0] != "later" {
			t.Fatalf("unexpected lines: %#v", batch.Lines)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Read did not return new lines")
	}
}

func TestReadWaitStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaconv.log")
	writeLog(t, path, "")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := logs.Read(ctx, path, logs.Options{Offset: 0, Wait: time.Minute})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestReadRejectsDirectory(t *testing.T) {
	if _, err := logs.Read(context.Background(), t.TempDir(), logs.Options{}); err == nil {
		t.Fatal("expected error for directory path")
	}
}
