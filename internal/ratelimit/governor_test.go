package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cartvision/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGovernor_Defaults(t *testing.T) {
	g := NewGovernor(0, 0, nil)
	assert.Equal(t, DefaultRPM, g.Limit())
	assert.Equal(t, DefaultWindow, g.window)
}

func TestGovernor_WindowFillsAndDrains(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	g := NewGovernor(120, time.Minute, clock)

	for i := 0; i < 120; i++ {
		require.True(t, g.CanProceed(), "call %d", i)
		g.RecordCall()
		clock.Advance(100 * time.Millisecond)
	}
	assert.False(t, g.CanProceed())
	assert.Equal(t, 120, g.InWindow())

	// First call was at t0; the window has to pass it completely.
	clock.Set(t0.Add(time.Minute))
	assert.False(t, g.CanProceed())
	clock.Set(t0.Add(time.Minute + time.Millisecond))
	assert.True(t, g.CanProceed())
	assert.Equal(t, 119, g.InWindow())

	clock.Advance(time.Minute)
	assert.True(t, g.CanProceed())
	assert.Equal(t, 0, g.InWindow())
}

func TestGovernor_TryAcquire(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	g := NewGovernor(3, time.Second, clock)

	assert.True(t, g.TryAcquire())
	assert.True(t, g.TryAcquire())
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
	assert.Equal(t, 3, g.InWindow(), "denied attempts are not recorded")

	clock.Advance(2 * time.Second)
	assert.True(t, g.TryAcquire())
}

func TestGovernor_ConcurrentTryAcquire(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	g := NewGovernor(50, time.Minute, clock)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), granted.Load())
}
