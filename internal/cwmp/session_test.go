package cwmp

import (
	"testing"
	"time"
)

func TestSessionTrackerLifecycle(t *testing.T) {
	tracker := NewSessionTracker(time.Minute)

	s := tracker.Create()
	if s.State() != StateAwaitingInform {
		t.Errorf("expected a fresh session awaiting Inform, got %s", s.State())
	}
	if tracker.Get(s.ID) != s {
		t.Error("expected the session retrievable by ID")
	}
	if tracker.Count() != 1 {
		t.Errorf("expected 1 session, got %d", tracker.Count())
	}

	tracker.Remove(s.ID)
	if tracker.Get(s.ID) != nil {
		t.Error("expected the session gone after Remove")
	}
	if tracker.Count() != 0 {
		t.Errorf("expected 0 sessions, got %d", tracker.Count())
	}
}

func TestTakeBySerial(t *testing.T) {
	tracker := NewSessionTracker(time.Minute)

	old := tracker.Create()
	old.Bind("SN-1")
	current := tracker.Create()
	current.Bind("SN-1")
	other := tracker.Create()
	other.Bind("SN-2")

	taken := tracker.TakeBySerial("SN-1", current.ID)
	if len(taken) != 1 || taken[0].ID != old.ID {
		t.Fatalf("expected only the stale SN-1 session taken, got %v", taken)
	}
	if tracker.Get(current.ID) == nil {
		t.Error("expected the current session kept")
	}
	if tracker.Get(other.ID) == nil {
		t.Error("expected unrelated sessions kept")
	}
}

func TestTakeExpired(t *testing.T) {
	tracker := NewSessionTracker(time.Minute)

	fresh := tracker.Create()
	stale := tracker.Create()

	// Only sessions idle past their timeout are swept
	expired := tracker.TakeExpired(time.Now())
	if len(expired) != 0 {
		t.Fatalf("expected nothing expired yet, got %d", len(expired))
	}

	expired = tracker.TakeExpired(time.Now().Add(2 * time.Minute))
	if len(expired) != 2 {
		t.Fatalf("expected both sessions expired, got %d", len(expired))
	}
	if tracker.Get(fresh.ID) != nil || tracker.Get(stale.ID) != nil {
		t.Error("expected expired sessions removed from the tracker")
	}
}

func TestSessionTouchExtendsLife(t *testing.T) {
	tracker := NewSessionTracker(50 * time.Millisecond)
	s := tracker.Create()

	time.Sleep(30 * time.Millisecond)
	s.Touch()

	if s.Expired(time.Now()) {
		t.Error("expected a touched session to stay alive")
	}
	if !s.Expired(time.Now().Add(time.Second)) {
		t.Error("expected the session to expire eventually")
	}
}

func TestTakeInFlightSingleSurrender(t *testing.T) {
	tracker := NewSessionTracker(time.Minute)
	s := tracker.Create()
	s.Bind("SN-1")

	if got := s.TakeInFlight(); got != "" {
		t.Fatalf("expected nothing in flight before dispatch, got %q", got)
	}

	s.MarkDispatched("task-1")
	if s.State() != StateAwaitingTaskResponse {
		t.Fatalf("expected AwaitingTaskResponse after dispatch, got %s", s.State())
	}

	if got := s.TakeInFlight(); got != "task-1" {
		t.Fatalf("expected the dispatched task surrendered, got %q", got)
	}
	if s.State() != StateDispatchingTask {
		t.Errorf("expected the session back in dispatch, got %s", s.State())
	}
	if got := s.TakeInFlight(); got != "" {
		t.Errorf("expected a second take to come up empty, got %q", got)
	}
}

func TestCloseAndTakeInFlight(t *testing.T) {
	tracker := NewSessionTracker(time.Minute)
	s := tracker.Create()
	s.Bind("SN-1")
	s.MarkDispatched("task-1")

	if got := s.CloseAndTakeInFlight(); got != "task-1" {
		t.Fatalf("expected the in-flight task surrendered on close, got %q", got)
	}
	if s.State() != StateClosed {
		t.Errorf("expected the session closed, got %s", s.State())
	}
	if got := s.CloseAndTakeInFlight(); got != "" {
		t.Errorf("expected nothing left to surrender, got %q", got)
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateAwaitingInform:       "AwaitingInform",
		StateDispatchingTask:      "DispatchingTask",
		StateAwaitingTaskResponse: "AwaitingTaskResponse",
		StateClosed:               "Closed",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
