package deps

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := writeStub(t, binDir, "present", "echo 'present version 6.1.1 Copyright (c) the authors'\n")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: " "},
	}

	results := CheckBinaries(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Version != "6.1.1" {
		t.Fatalf("expected first requirement to be available with version, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for empty command: %q", results[2].Detail)
	}
}

func TestProbeVersionFallsBackToFirstLine(t *testing.T) {
	stub := writeStub(t, t.TempDir(), "tool", "echo 'custom build'\n")
	version, err := ProbeVersion(context.Background(), stub)
	if err != nil {
		t.Fatalf("ProbeVersion: %v", err)
	}
	if version != "custom build" {
		t.Fatalf("unexpected version %q", version)
	}

	failing := writeStub(t, t.TempDir(), "broken", "exit 3\n")
	if _, err := ProbeVersion(context.Background(), failing); err == nil {
		t.Fatal("expected error for failing binary")
	}
}

func TestEncodersParsesListing(t *testing.T) {
	listing := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D libsvtav1            SVT-AV1(Scalable Video Technology for AV1) encoder
 A....D aac                  AAC (Advanced Audio Coding)
`
	original := commandContext
	t.Cleanup(func() { commandContext = original })
	commandContext = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "printf", "%s", listing)
	}

	encoders, err := Encoders(context.Background(), "ffmpeg")
	if err != nil {
		t.Fatalf("Encoders: %v", err)
	}
	for _, name := range []string{"libx264", "libsvtav1", "aac"} {
		if !encoders[name] {
			t.Errorf("expected encoder %s in %v", name, encoders)
		}
	}
	if encoders["Video"] || encoders["="] || len(encoders) != 3 {
		t.Fatalf("legend lines leaked into encoders: %v", encoders)
	}
}
