package tracks

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cartvision/internal/vision"
	"github.com/banshee-data/cartvision/internal/vision/geometry"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func det(label string, top, left, bottom, right float64) vision.DetectedItem {
	return vision.DetectedItem{
		Label:      label,
		Confidence: 0.9,
		Box:        geometry.Box{Top: top, Left: left, Bottom: bottom, Right: right},
	}
}

func TestDefaultTrackerConfig(t *testing.T) {
	cfg := DefaultTrackerConfig()
	assert.Equal(t, 0.3, cfg.IoUThreshold)
	assert.Equal(t, 3*time.Second, cfg.MaxAge)
	assert.Equal(t, 2, cfg.EntryMinFrames)
	assert.Equal(t, 5, cfg.EntryMaxFrames)
}

func TestUpdate_SameBoxContinuesTrack(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	d := det("water", 100, 100, 300, 300)

	first := tr.Update([]vision.DetectedItem{d}, t0)
	second := tr.Update([]vision.DetectedItem{d}, t0.Add(500*time.Millisecond))

	require.Len(t, first.Live, 1)
	require.Len(t, second.Live, 1)
	assert.Equal(t, first.Live[0].TrackID, second.Live[0].TrackID)
	assert.Equal(t, 2, second.Live[0].FrameCount)
	assert.Equal(t, t0, second.Live[0].FirstSeenAt)
	assert.Equal(t, t0.Add(500*time.Millisecond), second.Live[0].LastSeenAt)
	assert.True(t, strings.HasPrefix(second.Live[0].TrackID, "trk_"))
	assert.Equal(t, 1, tr.TracksCreated)
}

func TestUpdate_LabelMatchIsCaseInsensitive(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]vision.DetectedItem{det("Water", 100, 100, 300, 300)}, t0)
	f := tr.Update([]vision.DetectedItem{det("water", 100, 100, 300, 300)}, t0.Add(time.Second))

	require.Len(t, f.Live, 1)
	assert.Equal(t, 2, f.Live[0].FrameCount)
}

func TestUpdate_DifferentLabelStartsNewTrack(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]vision.DetectedItem{det("water", 100, 100, 300, 300)}, t0)
	f := tr.Update([]vision.DetectedItem{det("juice", 100, 100, 300, 300)}, t0.Add(time.Second))

	require.Len(t, f.Live, 2)
	assert.Equal(t, 1, f.Live[1].FrameCount)
}

func TestUpdate_LowIoUStartsNewTrack(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]vision.DetectedItem{det("water", 0, 0, 100, 100)}, t0)
	f := tr.Update([]vision.DetectedItem{det("water", 0, 80, 100, 180)}, t0.Add(time.Second))

	// IoU = 20*100 / (2*10000 - 2000) ≈ 0.11
	require.Len(t, f.Live, 2)
}

func TestUpdate_AgedTracksArePurged(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]vision.DetectedItem{det("water", 100, 100, 300, 300)}, t0)

	// Exactly at the horizon the track survives.
	f := tr.Update(nil, t0.Add(3*time.Second))
	assert.Len(t, f.Live, 1)
	assert.Equal(t, 0, f.Purged)

	f = tr.Update(nil, t0.Add(3*time.Second+time.Millisecond))
	assert.Empty(t, f.Live)
	assert.Equal(t, 1, f.Purged)
	assert.Equal(t, 0, tr.Len())
}

func TestUpdate_PurgeHappensBeforeMatching(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	first := tr.Update([]vision.DetectedItem{det("water", 100, 100, 300, 300)}, t0)
	f := tr.Update([]vision.DetectedItem{det("water", 100, 100, 300, 300)}, t0.Add(4*time.Second))

	require.Len(t, f.Live, 1)
	assert.NotEqual(t, first.Live[0].TrackID, f.Live[0].TrackID)
	assert.Equal(t, 1, f.Live[0].FrameCount)
}

func TestUpdate_TieGoesToFirstCreatedTrack(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	// Two tracks placed symmetrically around the next detection.
	setup := tr.Update([]vision.DetectedItem{
		det("water", 0, 0, 100, 100),
		det("water", 0, 100, 100, 200),
	}, t0)
	require.Len(t, setup.Live, 2)

	f := tr.Update([]vision.DetectedItem{det("water", 0, 50, 100, 150)}, t0.Add(time.Second))
	require.Len(t, f.Live, 2)
	assert.Equal(t, 2, f.Live[0].FrameCount)
	assert.Equal(t, 1, f.Live[1].FrameCount)
}

func TestUpdate_OneDetectionPerTrack(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]vision.DetectedItem{det("water", 0, 0, 100, 100)}, t0)

	f := tr.Update([]vision.DetectedItem{
		det("water", 0, 0, 100, 100),
		det("water", 0, 10, 100, 110),
	}, t0.Add(time.Second))

	require.Len(t, f.Live, 2)
	assert.Equal(t, 2, f.Live[0].FrameCount)
	assert.Equal(t, 1, f.Live[1].FrameCount)
}

func TestUpdate_EntryWindow(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	d := det("water", 100, 100, 300, 300)

	var entries []int
	for i := 0; i < 7; i++ {
		f := tr.Update([]vision.DetectedItem{d}, t0.Add(time.Duration(i)*500*time.Millisecond))
		entries = append(entries, len(f.Entries))
		require.Len(t, f.Live, 1)
		wantNew := i+1 >= 2 && i+1 <= 5
		assert.Equal(t, wantNew, f.Live[0].IsNewlyEntered, "frame %d", i+1)
	}
	assert.Equal(t, []int{0, 1, 1, 1, 1, 0, 0}, entries)
}

func TestMarkRegistered(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	d := det("water", 100, 100, 300, 300)

	tr.Update([]vision.DetectedItem{d}, t0)
	f := tr.Update([]vision.DetectedItem{d}, t0.Add(time.Second))
	require.Len(t, f.Entries, 1)

	assert.True(t, tr.MarkRegistered(f.Entries[0].TrackID))
	assert.False(t, tr.MarkRegistered("trk_missing"))

	f = tr.Update([]vision.DetectedItem{d}, t0.Add(2*time.Second))
	assert.Empty(t, f.Entries)
	require.Len(t, f.Live, 1)
	assert.True(t, f.Live[0].Registered)
	assert.True(t, f.Live[0].IsNewlyEntered)
}

func TestUpdate_ReturnsCopies(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	f := tr.Update([]vision.DetectedItem{det("water", 100, 100, 300, 300)}, t0)
	f.Live[0].Label = "mutated"

	f = tr.Update(nil, t0.Add(time.Second))
	assert.Equal(t, "water", f.Live[0].Label)
}

func TestReset(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]vision.DetectedItem{det("water", 100, 100, 300, 300)}, t0)
	tr.Reset()
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 0, tr.TracksCreated)
}
