package timeutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestOrReal(t *testing.T) {
	assert.IsType(t, RealClock{}, OrReal(nil))

	mock := NewMockClock(time.Unix(0, 0))
	assert.Same(t, mock, OrReal(mock))
}

func TestMockClock_AdvanceAndSince(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), clock.Now())
	assert.Equal(t, 1500*time.Millisecond, clock.Since(start))

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}

func TestMockClock_Sleep(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("records without advancing", func(t *testing.T) {
		clock := NewMockClock(start)
		clock.Sleep(time.Second)
		clock.Sleep(2 * time.Second)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())
		assert.Equal(t, start, clock.Now())
	})

	t.Run("advances when configured", func(t *testing.T) {
		clock := NewMockClock(start)
		clock.AdvanceOnSleep = true
		clock.Sleep(time.Second)
		assert.Equal(t, start.Add(time.Second), clock.Now())
	})
}

func TestSleepContext(t *testing.T) {
	t.Run("real clock returns when ctx ends", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := RealClock{}.SleepContext(ctx, time.Minute)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("real clock sleeps the full duration", func(t *testing.T) {
		assert.NoError(t, RealClock{}.SleepContext(context.Background(), time.Millisecond))
	})

	t.Run("mock clock records and reports ctx", func(t *testing.T) {
		clock := NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		assert.NoError(t, clock.SleepContext(context.Background(), time.Second))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, clock.SleepContext(ctx, 2*time.Second), context.Canceled)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())
	})
}
