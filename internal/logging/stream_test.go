package logging

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestStreamHandlerCapturesLoggerAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	logger := slog.New(newStreamHandler(hub, slog.LevelInfo)).
		With(slog.String(FieldComponent, "processor")).
		With(slog.String(FieldItemID, "item-42"), slog.Int(FieldWorker, 1))

	logger.Info("encoding progress", slog.String(FieldStage, "encoding"), slog.Int("percent", 40))

	events, next := hub.Tail(10)
	if len(events) != 1 || next != 1 {
		t.Fatalf("expected 1 event at seq 1, got %d (next %d)", len(events), next)
	}
	evt := events[0]
	if evt.ItemID != "item-42" || evt.Component != "processor" || evt.Stage != "encoding" {
		t.Fatalf("unexpected event fields: %+v", evt)
	}
	if evt.Worker == nil || *evt.Worker != 1 {
		t.Fatalf("expected worker 1, got %v", evt.Worker)
	}
	if evt.Fields["percent"] != "40" {
		t.Fatalf("expected percent field, got %v", evt.Fields)
	}
	if evt.Level != "INFO" {
		t.Fatalf("expected INFO level, got %q", evt.Level)
	}
}

func TestStreamHandlerCallSiteOverridesLoggerAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	logger := slog.New(newStreamHandler(hub, nil)).With(slog.String(FieldStage, "original"))

	logger.Info("message", slog.String(FieldStage, "overridden"))

	events, _ := hub.Tail(10)
	if len(events) != 1 || events[0].Stage != "overridden" {
		t.Fatalf("expected overridden stage, got %+v", events)
	}
}

func TestStreamHandlerRespectsLevel(t *testing.T) {
	if newStreamHandler(nil, nil) != nil {
		t.Fatal("expected nil handler for nil hub")
	}
	h := newStreamHandler(NewStreamHub(4), slog.LevelWarn)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected info to be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected error to be enabled at warn level")
	}
}

func TestStreamHubEvictsOldest(t *testing.T) {
	hub := NewStreamHub(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		hub.Publish(LogEvent{Message: msg})
	}

	events, next := hub.Tail(0)
	if next != 4 {
		t.Fatalf("expected next sequence 4, got %d", next)
	}
	if len(events) != 3 || events[0].Message != "b" || events[2].Message != "d" {
		t.Fatalf("unexpected buffer contents: %+v", events)
	}

	since, _, err := hub.Fetch(context.Background(), 2, 10, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(since) != 2 || since[0].Sequence != 3 {
		t.Fatalf("expected events after seq 2, got %+v", since)
	}

	none, _, err := hub.Fetch(context.Background(), 4, 10, false)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no events past head, got %+v (%v)", none, err)
	}
}

func TestStreamHubFetchWaitsForPublish(t *testing.T) {
	hub := NewStreamHub(8)
	done := make(chan []LogEvent, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), 0, 10, true)
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	hub.Publish(LogEvent{Message: "wake"})

	select {
	case events := <-done:
		if len(events) != 1 || events[0].Message != "wake" {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake on publish")
	}
}

func TestStreamHubFetchStopsOnCancel(t *testing.T) {
	hub := NewStreamHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := hub.Fetch(ctx, 0, 10, true)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not return after cancel")
	}
}
