package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	if s := NewProgressSampler(0); s.bucketSize != 10 {
		t.Fatalf("bucketSize = %v, want 10", s.bucketSize)
	}
	if s := NewProgressSampler(-3); s.bucketSize != 10 {
		t.Fatalf("bucketSize = %v, want 10", s.bucketSize)
	}
	if s := NewProgressSampler(5); s.bucketSize != 5 || s.lastBucket != -1 {
		t.Fatalf("unexpected sampler state: %+v", s)
	}
}

func TestProgressSamplerNilAlwaysLogs(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "encoding") {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	steps := []struct {
		percent float64
		stage   string
		want    bool
	}{
		{0, "encoding", true},
		{3, "encoding", false},
		{5, "encoding", true},
		{7.5, "encoding", false},
		{10, "encoding", true},
		{10, " encoding ", false},
		{95, "encoding", true},
		{100, "encoding", true},
		{140, "encoding", false},
		{-1, "finalizing", true},
		{-1, "finalizing", false},
		{5, "finalizing", true},
	}

	s := NewProgressSampler(5)
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.stage); got != step.want {
			t.Fatalf("step %d (%v%% %q): ShouldLog = %v, want %v", i, step.percent, step.stage, got, step.want)
		}
	}
}

func TestProgressSamplerStageChangeResetsBucket(t *testing.T) {
	s := NewProgressSampler(25)
	s.ShouldLog(60, "probe")
	if !s.ShouldLog(0, "encoding") {
		t.Fatal("stage change should log")
	}
	if s.ShouldLog(20, "encoding") {
		t.Fatal("20% should share the 0% bucket")
	}
	if !s.ShouldLog(25, "encoding") {
		t.Fatal("25% should open a new bucket after the reset")
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(5)
	s.ShouldLog(50, "encoding")
	s.Reset()
	if s.lastStage != "" || s.lastBucket != -1 {
		t.Fatalf("unexpected state after reset: stage=%q bucket=%d", s.lastStage, s.lastBucket)
	}
	if !s.ShouldLog(50, "encoding") {
		t.Fatal("should log after reset")
	}
}
