package capacity

import (
	"testing"
	"time"
)

var testCfg = Config{Limit: 3, Window: time.Hour}

func TestCheck_AdmitsUpToLimit(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	var state State

	for i := int64(0); i < testCfg.Limit; i++ {
		var res Result
		res, state = Check(state, testCfg, now)
		if !res.Allowed {
			t.Fatalf("request %d: expected admission", i+1)
		}
		if want := testCfg.Limit - i - 1; res.Remaining != want {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	res, state := Check(state, testCfg, now)
	if res.Allowed {
		t.Fatal("expected saturation at the limit")
	}
	if state.Count != testCfg.Limit {
		t.Errorf("denied request must not advance the counter, got %d", state.Count)
	}
}

func TestCheck_WindowRollover(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	state := State{Count: testCfg.Limit, WindowStart: start}

	// One second before rollover: still saturated.
	res, state := Check(state, testCfg, start.Add(time.Hour-time.Second))
	if res.Allowed {
		t.Fatal("expected denial inside the window")
	}

	// At the boundary a fresh window opens.
	later := start.Add(time.Hour)
	res, state = Check(state, testCfg, later)
	if !res.Allowed {
		t.Fatal("expected admission after rollover")
	}
	if !state.WindowStart.Equal(later) {
		t.Errorf("WindowStart = %v, want %v", state.WindowStart, later)
	}
	if state.Count != 1 {
		t.Errorf("Count = %d, want 1", state.Count)
	}
}

func TestCheck_FirstRequestOpensWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	res, state := Check(State{}, testCfg, now)

	if !res.Allowed {
		t.Fatal("expected admission for the first request")
	}
	if !state.WindowStart.Equal(now) {
		t.Errorf("WindowStart = %v, want %v", state.WindowStart, now)
	}
	if want := now.Add(time.Hour); !res.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", res.ResetAt, want)
	}
}

func TestCheck_ZeroLimitDeniesEverything(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	res, _ := Check(State{}, Config{Limit: 0, Window: time.Hour}, now)
	if res.Allowed {
		t.Error("limit 0 must deny all traffic")
	}
}
