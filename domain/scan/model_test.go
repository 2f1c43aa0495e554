package scan

import (
	"testing"
	"time"
)

func TestStateIsValid(t *testing.T) {
	valid := []State{StateQueued, StateRunning, StateCompleted, StateFailed, StateCancelled}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("State(%s).IsValid() = false, want true", s)
		}
	}
	if State("bogus").IsValid() {
		t.Error("State(bogus).IsValid() = true, want false")
	}
}

func TestStateIsTerminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		if !s.IsTerminal() {
			t.Errorf("State(%s).IsTerminal() = false, want true", s)
		}
	}
	for _, s := range []State{StateQueued, StateRunning} {
		if s.IsTerminal() {
			t.Errorf("State(%s).IsTerminal() = true, want false", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateQueued, StateRunning, true},
		{StateQueued, StateCancelled, true},
		{StateQueued, StateCompleted, false},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCancelled, true},
		{StateRunning, StateQueued, false},
		{StateCompleted, StateRunning, false},
		{StateCancelled, StateRunning, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("%s.CanTransition(%s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestNewIsQueued(t *testing.T) {
	s := New("scan-1", "principal-1", "https://target.example", "spec-1", DefaultOptions(), 24*time.Hour)
	if s.State != StateQueued {
		t.Fatalf("expected new scan to be queued, got %s", s.State)
	}
	if s.RetentionDeadline.Before(s.CreatedAt) {
		t.Fatal("expected retention deadline after creation time")
	}
}

func TestTransitionSetsTimestamps(t *testing.T) {
	s := New("scan-1", "p1", "https://target.example", "spec-1", DefaultOptions(), time.Hour)

	if !s.Transition(StateRunning) {
		t.Fatal("expected queued -> running to succeed")
	}
	if s.StartedAt.IsZero() {
		t.Fatal("expected StartedAt to be set on entering running")
	}

	if !s.Transition(StateCompleted) {
		t.Fatal("expected running -> completed to succeed")
	}
	if s.CompletedAt.IsZero() {
		t.Fatal("expected CompletedAt to be set on completion")
	}

	if s.Transition(StateRunning) {
		t.Fatal("expected terminal state to reject further transitions")
	}
}

func TestSetProgressMonotonic(t *testing.T) {
	s := &Scan{}
	s.SetProgress(40)
	s.SetProgress(20)
	if s.Progress != 40 {
		t.Fatalf("expected progress to stay at 40, got %d", s.Progress)
	}
	s.SetProgress(150)
	if s.Progress != 100 {
		t.Fatalf("expected progress clamped to 100, got %d", s.Progress)
	}
}
