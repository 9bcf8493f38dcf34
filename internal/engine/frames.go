package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/cartvision/internal/classifier"
	"github.com/banshee-data/cartvision/internal/events"
	"github.com/banshee-data/cartvision/internal/monitoring"
	"github.com/banshee-data/cartvision/internal/session"
	"github.com/banshee-data/cartvision/internal/vision"
	"github.com/banshee-data/cartvision/internal/vision/nms"
)

// SubmitFrame classifies one camera frame and returns the detections it
// registered, which is usually none. Rate limiting, classifier failures,
// malformed output and a full session queue all drop the frame: the drop is
// logged and counted, and the call returns no events and no error. The only
// errors are an unknown session and ctx ending while the frame waits.
func (e *Engine) SubmitFrame(ctx context.Context, id, frameID string, image []byte) ([]events.Detection, error) {
	if e.classifier == nil {
		return nil, ErrNoClassifier
	}
	return e.submit(ctx, id, frameID, func(ls *liveSession) ([]vision.DetectedItem, bool) {
		return e.classifyFrame(ctx, ls, frameID, image)
	})
}

// SubmitDetections feeds raw classifier output for one frame, for callers
// that run the classifier themselves. The rate governor is not consulted.
func (e *Engine) SubmitDetections(ctx context.Context, id, frameID string, raw []byte) ([]events.Detection, error) {
	return e.submit(ctx, id, frameID, func(ls *liveSession) ([]vision.DetectedItem, bool) {
		return e.checkResult(ls, frameID, classifier.ParseResponse(raw))
	})
}

// submit queues a frame job on the session loop and waits for its result.
// produce runs on the loop and reports false when the frame was dropped.
func (e *Engine) submit(ctx context.Context, id, frameID string, produce func(*liveSession) ([]vision.DetectedItem, bool)) ([]events.Detection, error) {
	ls, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if frameID == "" {
		frameID = uuid.NewString()
	}
	e.metrics.FramesReceived.Add(1)

	var out []events.Detection
	done := make(chan struct{})
	job := func() {
		defer close(done)
		ls.Ledger.FrameReceived()
		items, ok := produce(ls)
		if !ok {
			return
		}
		out = e.process(ctx, ls, frameID, items)
	}

	switch err := ls.Enqueue(job); {
	case errors.Is(err, session.ErrQueueFull):
		ls.queueDrops.Add(1)
		e.metrics.RecordDrop(monitoring.DropQueueFull)
		monitoring.Warnf("session %s frame %s: dropped, queue full", id, frameID)
		return nil, nil
	case errors.Is(err, session.ErrSessionClosed):
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	case err != nil:
		return nil, err
	}

	select {
	case <-done:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classifyFrame runs on the session loop. The governor is consulted here,
// when the call is about to be made, not when the frame was queued. A frame
// whose caller is already gone is dropped without charging the governor.
func (e *Engine) classifyFrame(ctx context.Context, ls *liveSession, frameID string, image []byte) ([]vision.DetectedItem, bool) {
	if err := ctx.Err(); err != nil {
		e.drop(ls, frameID, monitoring.DropAbandoned, err.Error())
		return nil, false
	}
	if !e.governor.TryAcquire() {
		e.drop(ls, frameID, monitoring.DropRateLimited, "classifier budget spent")
		return nil, false
	}
	e.metrics.GovernorInWindow.Store(int64(e.governor.InWindow()))
	e.metrics.ClassifierCalls.Add(1)

	cctx, cancel := context.WithTimeout(ctx, e.cfg.GetClassifierTimeout())
	defer cancel()
	res, err := e.classifier.Classify(cctx, image, ls.products, classifier.EffortLow)
	if err != nil {
		e.drop(ls, frameID, monitoring.DropClassifierError, err.Error())
		return nil, false
	}
	return e.checkResult(ls, frameID, res)
}

func (e *Engine) checkResult(ls *liveSession, frameID string, res classifier.Result) ([]vision.DetectedItem, bool) {
	switch res.Kind {
	case classifier.Invalid:
		e.drop(ls, frameID, monitoring.DropInvalidOutput, res.Reason)
		return nil, false
	case classifier.Empty:
		return nil, true
	}
	return res.Items, true
}

func (e *Engine) drop(ls *liveSession, frameID string, reason monitoring.DropReason, detail string) {
	ls.Ledger.FrameDropped(reason)
	e.metrics.RecordDrop(reason)
	monitoring.Warnf("session %s frame %s: dropped (%s): %s", ls.ID, frameID, reason, detail)
}

// process runs the post-classifier pipeline for one frame on the session
// loop and returns the detections it accepted.
func (e *Engine) process(ctx context.Context, ls *liveSession, frameID string, items []vision.DetectedItem) []events.Detection {
	now := e.clock.Now()
	defer func() {
		ls.Ledger.FrameProcessed()
		e.metrics.FramesProcessed.Add(1)
	}()

	valid, invalid := nms.FilterValid(items, e.cfg.GetMinDetectionConfidence())
	if invalid > 0 {
		monitoring.Debugf("session %s frame %s: discarded %d invalid boxes", ls.ID, frameID, invalid)
	}
	if ls.roi != nil {
		valid = nms.FilterROI(valid, *ls.roi)
	}
	kept := nms.Suppress(valid, e.cfg.GetNMSIoUThreshold())
	e.metrics.BoxesSuppressed.Add(uint64(len(valid) - len(kept)))

	frame := ls.Tracker.Update(kept, now)
	if frame.Purged > 0 {
		monitoring.Debugf("session %s frame %s: purged %d stale tracks", ls.ID, frameID, frame.Purged)
	}

	var accepted []events.Detection
	for _, t := range frame.Entries {
		m, ok := ls.resolver.Resolve(t.Label, t.Brand)
		if !ok {
			e.metrics.LabelsUnresolved.Add(1)
			monitoring.Warnf("session %s frame %s: label %q (brand %q) matches no catalog entry", ls.ID, frameID, t.Label, t.Brand)
			continue
		}

		switch ls.Ledger.Register(m.ProductID, now) {
		case session.Accepted:
		case session.RejectedRegistered:
			// The product is counted for good; stop offering this track.
			ls.Tracker.MarkRegistered(t.TrackID)
			e.metrics.DetectionsDuplicate.Add(1)
			continue
		default:
			e.metrics.DetectionsDuplicate.Add(1)
			continue
		}

		ls.Tracker.MarkRegistered(t.TrackID)
		d := events.Detection{
			ID:          uuid.NewString(),
			SessionID:   ls.ID,
			FrameID:     frameID,
			TrackID:     t.TrackID,
			ProductID:   m.ProductID,
			ProductName: m.Name,
			Label:       t.Label,
			MatchScore:  m.Score,
			Confidence:  t.Confidence,
			Box:         t.Box,
			Timestamp:   now,
		}
		ls.events = append(ls.events, d)
		ls.confidences = append(ls.confidences, d.Confidence)
		accepted = append(accepted, d)
		e.metrics.DetectionsAccepted.Add(1)
		monitoring.Logf("session %s frame %s: registered %s (%q score=%.2f conf=%.2f)",
			ls.ID, frameID, m.ProductID, t.Label, m.Score, t.Confidence)
	}

	if len(accepted) > 0 {
		e.emit(ctx, accepted)
	}
	return accepted
}

// emit persists and notifies accepted detections. Each delivery is
// attempted once.
func (e *Engine) emit(ctx context.Context, ds []events.Detection) {
	sctx, cancel := detached(ctx, sideEffectTimeout)
	defer cancel()
	for _, d := range ds {
		if e.recorder != nil {
			if err := e.recorder.RecordDetection(sctx, d); err != nil {
				e.metrics.PersistFailures.Add(1)
				monitoring.Warnf("session %s: record detection %s: %v", d.SessionID, d.ID, err)
			}
		}
		if err := e.notifier.NotifyDetection(sctx, d); err != nil {
			e.metrics.NotificationFailures.Add(1)
			monitoring.Warnf("session %s: notify detection %s: %v", d.SessionID, d.ID, err)
		}
	}
}
