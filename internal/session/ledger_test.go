package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cartvision/internal/monitoring"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyPermanent, p)

	p, err = ParsePolicy("cooldown")
	require.NoError(t, err)
	assert.Equal(t, PolicyCooldown, p)

	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}

func TestLedger_PermanentCountsOnce(t *testing.T) {
	l := NewLedger("s1", PolicyPermanent, 1200*time.Millisecond)

	assert.Equal(t, Accepted, l.Register("p-water", t0))
	assert.Equal(t, RejectedRegistered, l.Register("p-water", t0.Add(time.Millisecond)))
	// Long after any cooldown would have expired.
	assert.Equal(t, RejectedRegistered, l.Register("p-water", t0.Add(time.Hour)))

	assert.Equal(t, 1, l.Count("p-water"))
	assert.Equal(t, 1, l.TotalAccepted())
	assert.True(t, l.IsRegistered("p-water"))
	assert.False(t, l.IsRegistered("p-coke"))
}

func TestLedger_Cooldown(t *testing.T) {
	l := NewLedger("s1", PolicyCooldown, 1200*time.Millisecond)

	assert.Equal(t, Accepted, l.Register("p-water", t0))
	assert.Equal(t, RejectedCooldown, l.Register("p-water", t0.Add(1199*time.Millisecond)))
	assert.Equal(t, Accepted, l.Register("p-water", t0.Add(1200*time.Millisecond)))
	// Cooldown restarts from the last accepted registration.
	assert.Equal(t, RejectedCooldown, l.Register("p-water", t0.Add(2*time.Second)))
	assert.Equal(t, Accepted, l.Register("p-water", t0.Add(2400*time.Millisecond)))

	assert.Equal(t, 3, l.Count("p-water"))
}

func TestLedger_CountsInRegistrationOrder(t *testing.T) {
	l := NewLedger("s1", PolicyCooldown, time.Second)
	l.Register("b", t0)
	l.Register("a", t0)
	l.Register("b", t0.Add(2*time.Second))
	l.Register("c", t0.Add(3*time.Second))

	assert.Equal(t, []ProductCount{
		{ProductID: "b", Quantity: 2},
		{ProductID: "a", Quantity: 1},
		{ProductID: "c", Quantity: 1},
	}, l.Counts())
	assert.Equal(t, 4, l.TotalAccepted())
}

func TestLedger_DefaultsToPermanent(t *testing.T) {
	l := NewLedger("s1", "", 0)
	assert.Equal(t, PolicyPermanent, l.Policy())
}

func TestLedger_Frames(t *testing.T) {
	l := NewLedger("s1", PolicyPermanent, 0)
	l.FrameReceived()
	l.FrameReceived()
	l.FrameReceived()
	l.FrameProcessed()
	l.FrameDropped(monitoring.DropRateLimited)
	l.FrameDropped(monitoring.DropQueueFull)

	f := l.Frames()
	assert.Equal(t, 3, f.Received)
	assert.Equal(t, 1, f.Processed)
	assert.Equal(t, 2, f.TotalDropped())
	assert.Equal(t, 1, f.Dropped[monitoring.DropRateLimited])

	f.Dropped[monitoring.DropRateLimited] = 99
	assert.Equal(t, 1, l.Frames().Dropped[monitoring.DropRateLimited])
}
