// Package capacity provides the fixed-window global counter math that
// bounds total upstream spend regardless of identity.
// All functions are deterministic - same input always produces same output.
package capacity

import "time"

// State is the counter for the current window (value type).
type State struct {
	Count       int64
	WindowStart time.Time
}

// Config holds the global capacity limit (value type).
type Config struct {
	Limit  int64
	Window time.Duration
}

// Result is the outcome of a capacity check (value type).
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Check performs a global capacity check and returns the updated state.
// This is a PURE function - the caller persists newState.
//
// The window is fixed: it opens on the first request after the previous
// window lapsed and every request inside it counts against the same limit.
// Once Count reaches Limit the guard is saturated until rollover.
func Check(state State, cfg Config, now time.Time) (Result, State) {
	if state.WindowStart.IsZero() || now.Sub(state.WindowStart) >= cfg.Window {
		state = State{Count: 0, WindowStart: now}
	}
	resetAt := state.WindowStart.Add(cfg.Window)

	if state.Count >= cfg.Limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, state
	}

	state.Count++
	return Result{
		Allowed:   true,
		Remaining: cfg.Limit - state.Count,
		ResetAt:   resetAt,
	}, state
}
