package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"mediaconv/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "encoding", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"encoding", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsCancellation(t *testing.T) {
	if !services.IsCancellation(fmt.Errorf("run: %w", context.Canceled)) {
		t.Fatal("expected wrapped context.Canceled to count as cancellation")
	}
	if !services.IsCancellation(context.DeadlineExceeded) {
		t.Fatal("expected deadline to count as cancellation")
	}
	if services.IsCancellation(errors.New("boom")) {
		t.Fatal("plain error is not a cancellation")
	}
}

func TestFailureHint(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		empty bool
	}{
		{name: "nil", err: nil, empty: true},
		{name: "not found", err: services.Wrap(services.ErrNotFound, "encoding", "stat", "missing", nil)},
		{name: "validation", err: services.Wrap(services.ErrValidation, "encoding", "args", "bad", nil)},
		{name: "external", err: services.Wrap(services.ErrExternalTool, "encoding", "ffmpeg", "exit", nil)},
		{name: "unknown", err: errors.New("boom"), empty: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := services.FailureHint(tt.err)
			if tt.empty && hint != "" {
				t.Fatalf("expected empty hint, got %q", hint)
			}
			if !tt.empty && hint == "" {
				t.Fatal("expected hint")
			}
		})
	}
}
