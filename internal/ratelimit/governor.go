// Package ratelimit bounds the total number of classifier calls made by all
// sessions in the process.
package ratelimit

import (
	"sync"
	"time"

	"github.com/banshee-data/cartvision/internal/timeutil"
)

// Defaults for the shared classifier budget.
const (
	DefaultRPM    = 120
	DefaultWindow = 60 * time.Second
)

// Governor is a sliding-window call counter shared by every session. All
// methods are safe for concurrent use.
type Governor struct {
	mu     sync.Mutex
	clock  timeutil.Clock
	limit  int
	window time.Duration
	calls  []time.Time // ascending
}

// NewGovernor returns a governor allowing limit calls per window. Zero
// values select the defaults; a nil clock selects the real clock.
func NewGovernor(limit int, window time.Duration, clock timeutil.Clock) *Governor {
	if limit <= 0 {
		limit = DefaultRPM
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Governor{
		clock:  timeutil.OrReal(clock),
		limit:  limit,
		window: window,
	}
}

// Limit returns the configured ceiling.
func (g *Governor) Limit() int {
	return g.limit
}

// CanProceed reports whether another call fits in the current window.
func (g *Governor) CanProceed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.clock.Now())
	return len(g.calls) < g.limit
}

// RecordCall counts a call made now.
func (g *Governor) RecordCall() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.prune(now)
	g.calls = append(g.calls, now)
}

// TryAcquire checks and records under a single lock, so concurrent callers
// cannot both take the last slot.
func (g *Governor) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.prune(now)
	if len(g.calls) >= g.limit {
		return false
	}
	g.calls = append(g.calls, now)
	return true
}

// InWindow returns the number of calls currently counted.
func (g *Governor) InWindow() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.clock.Now())
	return len(g.calls)
}

// prune drops calls more than one window old. Caller holds mu.
func (g *Governor) prune(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.calls) && g.calls[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	g.calls = append(g.calls[:0], g.calls[i:]...)
}
