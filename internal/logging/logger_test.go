package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediaconv/internal/config"
	"mediaconv/internal/logging"
	"mediaconv/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Level = "debug"

	logger, err := logging.NewFromConfig(&cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	content, err := os.ReadFile(cfg.LogFilePath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from config") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerCallerDependsOnLevel(t *testing.T) {
	tests := []struct {
		level      string
		wantCaller bool
	}{
		{"info", false},
		{"debug", true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logPath := filepath.Join(t.TempDir(), "console.log")
			logger, err := logging.New(logging.Options{Format: "console", Level: tt.level, OutputPaths: []string{logPath}})
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			logger.Info("message")

			content, err := os.ReadFile(logPath)
			if err != nil {
				t.Fatalf("read log file: %v", err)
			}
			if got := strings.Contains(string(content), ".go:"); got != tt.wantCaller {
				t.Fatalf("caller present = %v, want %v: %q", got, tt.wantCaller, content)
			}
		})
	}
}

func TestConsoleLoggerPrefixesComponentAndItem(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "processor").Info("encoding started",
		logging.Item("0123456789abcdef"),
		logging.String("profile", "h264"),
		logging.String("source", "/media/my movie.mkv"),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "INFO processor[01234567]: encoding started") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "profile=h264") || !strings.Contains(line, `source="/media/my movie.mkv"`) {
		t.Fatalf("unexpected fields: %q", line)
	}
}

func TestJSONLoggerShape(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("json message", logging.String("k", "v"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "json message" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key: %v", entry)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewTeesIntoStreamHub(t *testing.T) {
	hub := logging.NewStreamHub(16)
	logPath := filepath.Join(t.TempDir(), "tee.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "warn", OutputPaths: []string{logPath}, Stream: hub})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("filtered")
	logger.Warn("kept", logging.Item("abc"))

	events, _ := hub.Tail(10)
	if len(events) != 1 || events[0].Message != "kept" || events[0].ItemID != "abc" {
		t.Fatalf("unexpected hub contents: %+v", events)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), "filtered") || !strings.Contains(string(content), "kept") {
		t.Fatalf("unexpected file contents: %q", content)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithItemID(ctx, "item-123")
	ctx = services.WithStage(ctx, "encoding")
	ctx = services.WithWorker(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-xyz")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WithContext(ctx, logger).Info("contextual log")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldItemID] != "item-123" {
		t.Errorf("item_id = %v", entry[logging.FieldItemID])
	}
	if entry[logging.FieldStage] != "encoding" {
		t.Errorf("stage = %v", entry[logging.FieldStage])
	}
	if entry[logging.FieldWorker] != float64(2) {
		t.Errorf("worker = %v", entry[logging.FieldWorker])
	}
	if entry[logging.FieldCorrelationID] != "req-xyz" {
		t.Errorf("correlation_id = %v", entry[logging.FieldCorrelationID])
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WarnWithContext(logger, "retrying", "encode_retry", logging.String(logging.FieldErrorHint, "check ffmpeg"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldEventType] != "encode_retry" {
		t.Errorf("event_type = %v", entry[logging.FieldEventType])
	}
	if entry[logging.FieldErrorHint] != "check ffmpeg" {
		t.Errorf("error_hint = %v", entry[logging.FieldErrorHint])
	}
	if entry[logging.FieldImpact] == nil {
		t.Error("expected default impact")
	}
	logging.WarnWithContext(nil, "ignored", "noop")
}
