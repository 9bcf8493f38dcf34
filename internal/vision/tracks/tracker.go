package tracks

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cartvision/internal/config"
	"github.com/banshee-data/cartvision/internal/vision"
	"github.com/banshee-data/cartvision/internal/vision/geometry"
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	IoUThreshold   float64       // Minimum IoU for a detection to continue a track
	MaxAge         time.Duration // Tracks unseen for longer than this are purged
	EntryMinFrames int           // First frame count at which a track counts as a new entry
	EntryMaxFrames int           // Last frame count at which a track counts as a new entry
}

// DefaultTrackerConfig returns the built-in tracker defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromEngine(config.EmptyEngineConfig())
}

// TrackerConfigFromEngine builds a TrackerConfig from a loaded EngineConfig.
func TrackerConfigFromEngine(cfg *config.EngineConfig) TrackerConfig {
	return TrackerConfig{
		IoUThreshold:   cfg.GetTrackIoUThreshold(),
		MaxAge:         cfg.GetTrackMaxAge(),
		EntryMinFrames: cfg.GetEntryMinFrames(),
		EntryMaxFrames: cfg.GetEntryMaxFrames(),
	}
}

// TrackedObject is the provisional identity of one physical item.
type TrackedObject struct {
	TrackID string
	Label   string
	Brand   string
	Color   string

	Box        geometry.Box
	Confidence float64

	FirstSeenAt time.Time
	LastSeenAt  time.Time
	FrameCount  int

	// IsNewlyEntered is true while EntryMinFrames <= FrameCount <= EntryMaxFrames.
	IsNewlyEntered bool

	// Registered is set once the track has produced an accepted detection.
	Registered bool
}

// Frame is the tracker's output for one call to Update.
type Frame struct {
	// Live holds every track still inside the age horizon, in creation order.
	Live []TrackedObject
	// Entries holds the tracks touched this frame that sit inside the entry
	// window and have not been registered yet.
	Entries []TrackedObject
	// Purged counts tracks removed by ageing before matching.
	Purged int
}

// Tracker manages the lifecycle of all tracks in one session.
type Tracker struct {
	Config TrackerConfig

	// tracks is kept in creation order; tie-breaks rely on it.
	tracks []*TrackedObject

	TracksCreated int
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{Config: cfg}
}

// Reset clears all tracks.
func (t *Tracker) Reset() {
	t.tracks = nil
	t.TracksCreated = 0
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.tracks)
}

// Update ages out stale tracks, associates detections with the survivors
// and creates tracks for anything left unmatched. Detections should already
// be NMS-filtered; they are processed in the order given.
func (t *Tracker) Update(detections []vision.DetectedItem, now time.Time) Frame {
	var frame Frame
	frame.Purged = t.purge(now)

	matched := make(map[*TrackedObject]bool, len(detections))
	touched := make([]*TrackedObject, 0, len(detections))

	for _, det := range detections {
		track := t.bestMatch(det, matched)
		if track == nil {
			track = t.initTrack(det, now)
		} else {
			t.update(track, det, now)
		}
		matched[track] = true
		touched = append(touched, track)
	}

	frame.Live = make([]TrackedObject, 0, len(t.tracks))
	for _, track := range t.tracks {
		frame.Live = append(frame.Live, *track)
	}
	for _, track := range touched {
		if track.IsNewlyEntered && !track.Registered {
			frame.Entries = append(frame.Entries, *track)
		}
	}
	return frame
}

// MarkRegistered flags a track as having produced an accepted detection so
// it never qualifies as an entry again. It reports whether the track exists.
func (t *Tracker) MarkRegistered(trackID string) bool {
	for _, track := range t.tracks {
		if track.TrackID == trackID {
			track.Registered = true
			return true
		}
	}
	return false
}

// purge drops tracks whose last sighting is older than MaxAge.
func (t *Tracker) purge(now time.Time) int {
	kept := t.tracks[:0]
	for _, track := range t.tracks {
		if now.Sub(track.LastSeenAt) > t.Config.MaxAge {
			continue
		}
		kept = append(kept, track)
	}
	purged := len(t.tracks) - len(kept)
	for i := len(kept); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = kept
	return purged
}

// bestMatch returns the unmatched same-label track with the highest IoU at
// or above the threshold. Only a strictly higher IoU displaces an earlier
// candidate, so ties go to the first-created track.
func (t *Tracker) bestMatch(det vision.DetectedItem, matched map[*TrackedObject]bool) *TrackedObject {
	var best *TrackedObject
	bestIoU := 0.0
	for _, track := range t.tracks {
		if matched[track] || !strings.EqualFold(track.Label, det.Label) {
			continue
		}
		iou := geometry.IoU(track.Box, det.Box)
		if iou < t.Config.IoUThreshold {
			continue
		}
		if best == nil || iou > bestIoU {
			best = track
			bestIoU = iou
		}
	}
	return best
}

func (t *Tracker) initTrack(det vision.DetectedItem, now time.Time) *TrackedObject {
	track := &TrackedObject{
		TrackID:     fmt.Sprintf("trk_%s", uuid.NewString()),
		Label:       det.Label,
		Brand:       det.Brand,
		Color:       det.Color,
		Box:         det.Box,
		Confidence:  det.Confidence,
		FirstSeenAt: now,
		LastSeenAt:  now,
		FrameCount:  1,
	}
	track.IsNewlyEntered = t.inEntryWindow(track.FrameCount)
	t.tracks = append(t.tracks, track)
	t.TracksCreated++
	return track
}

func (t *Tracker) update(track *TrackedObject, det vision.DetectedItem, now time.Time) {
	track.Box = det.Box
	track.Confidence = det.Confidence
	if det.Brand != "" {
		track.Brand = det.Brand
	}
	if det.Color != "" {
		track.Color = det.Color
	}
	track.LastSeenAt = now
	track.FrameCount++
	track.IsNewlyEntered = t.inEntryWindow(track.FrameCount)
}

func (t *Tracker) inEntryWindow(frameCount int) bool {
	return frameCount >= t.Config.EntryMinFrames && frameCount <= t.Config.EntryMaxFrames
}
