package queue

import "testing"

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseQueued, PhaseResolving, true},
		{PhaseQueued, PhaseFetching, false},
		{PhaseQueued, PhaseCancelled, true},
		{PhaseResolving, PhaseFetching, true},
		{PhaseResolving, PhaseTranscoding, false},
		{PhaseFetching, PhaseTranscoding, true},
		{PhaseFetching, PhaseFinalizing, true}, // transcode skipped
		{PhaseFetching, PhaseCompleted, false},
		{PhaseTranscoding, PhaseFinalizing, true},
		{PhaseTranscoding, PhaseFetching, false},
		{PhaseFinalizing, PhaseCompleted, true},
		{PhaseCompleted, PhaseQueued, false},
		{PhaseFailed, PhaseFetching, false},
		{PhaseCancelled, PhaseCancelled, false},
		{Phase("bogus"), PhaseQueued, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPhaseIsTerminal(t *testing.T) {
	terminal := []Phase{PhaseCompleted, PhaseFailed, PhaseCancelled}
	for _, p := range terminal {
		if !p.IsTerminal() {
			t.Errorf("%s should be terminal", p)
		}
	}
	active := []Phase{PhaseQueued, PhaseResolving, PhaseFetching, PhaseTranscoding, PhaseFinalizing}
	for _, p := range active {
		if p.IsTerminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
}

func TestMediaRequestValidate(t *testing.T) {
	valid := MediaRequest{URL: "https://example.com/watch?v=x", Format: "mp3", BitrateKbps: 192, Dest: "/tmp/out"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name string
		req  MediaRequest
	}{
		{"empty url", MediaRequest{Format: "mp3", Dest: "/tmp/out"}},
		{"unknown format", MediaRequest{URL: "https://example.com/x", Format: "ogg", Dest: "/tmp/out"}},
		{"bitrate out of range", MediaRequest{URL: "https://example.com/x", Format: "mp3", BitrateKbps: 64, Dest: "/tmp/out"}},
		{"missing dest", MediaRequest{URL: "https://example.com/x", Format: "mp3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
