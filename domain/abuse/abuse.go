// Package abuse provides the per-IP sliding-window detection math.
// All functions are deterministic - same input always produces same output.
//
// The guard is identity-agnostic: it catches scripted abuse that rotates
// accounts or anonymous cookies but not source addresses, and runs before
// any identity-specific quota is charged.
package abuse

import "time"

// Window holds the recent request timestamps for one source IP (value type,
// timestamps ordered oldest first).
type Window struct {
	Times []time.Time
}

// Config holds the detection parameters (value type).
type Config struct {
	Threshold int           // denials start above this count within Detect
	Detect    time.Duration // trailing detection window
	GCHorizon time.Duration // entries older than this are dropped entirely
}

// Result is the outcome of an abuse check (value type).
type Result struct {
	Flagged bool
	Recent  int // requests within the detection window, including this one
}

// Check records one attempt at now and evaluates the threshold, returning
// the pruned window. This is a PURE function - the caller persists
// newWindow. Pruning to the GC horizon happens on every write, so memory
// stays bounded without a separate sweep.
func Check(w Window, cfg Config, now time.Time) (Result, Window) {
	gcCutoff := now.Add(-cfg.GCHorizon)
	detectCutoff := now.Add(-cfg.Detect)

	kept := w.Times[:0:0]
	recent := 0
	for _, ts := range w.Times {
		if !ts.After(gcCutoff) {
			continue
		}
		kept = append(kept, ts)
		if ts.After(detectCutoff) {
			recent++
		}
	}
	kept = append(kept, now)
	recent++

	return Result{
		Flagged: recent > cfg.Threshold,
		Recent:  recent,
	}, Window{Times: kept}
}

// Empty reports whether the window holds no timestamps newer than the GC
// horizon, i.e. the store may evict the entry.
func Empty(w Window, cfg Config, now time.Time) bool {
	gcCutoff := now.Add(-cfg.GCHorizon)
	for _, ts := range w.Times {
		if ts.After(gcCutoff) {
			return false
		}
	}
	return true
}
