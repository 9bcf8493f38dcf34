package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/cartvision/internal/alerts"
	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/events"
	"github.com/banshee-data/cartvision/internal/monitoring"
	"github.com/banshee-data/cartvision/internal/notify"
	"github.com/banshee-data/cartvision/internal/reconcile"
	"github.com/banshee-data/cartvision/internal/session"
	"github.com/banshee-data/cartvision/internal/vision/geometry"
	"github.com/banshee-data/cartvision/internal/vision/tracks"
)

// liveSession is the engine's view of an open session. Everything besides
// the embedded Session's queue is only touched from the session loop, except
// queueDrops which the submitting goroutine bumps.
type liveSession struct {
	*session.Session

	manifestID  string
	manifest    []reconcile.ManifestLine
	hasManifest bool
	roi         *geometry.Box

	products []catalog.Entry
	resolver *catalog.Resolver

	events      []events.Detection
	confidences []float64

	queueDrops atomic.Int64
}

type sessionOptions struct {
	manifest    []reconcile.ManifestLine
	hasManifest bool
	manifestID  string
	roi         *geometry.Box
	policy      session.Policy
}

// SessionOption configures StartSession.
type SessionOption func(*sessionOptions)

// WithManifest sets the expected contents of the cart. An empty, non-nil
// manifest means the cart is expected to stay empty.
func WithManifest(lines []reconcile.ManifestLine) SessionOption {
	return func(o *sessionOptions) {
		o.manifest = append([]reconcile.ManifestLine(nil), lines...)
		o.hasManifest = true
	}
}

// WithManifestID loads the manifest from the engine's ManifestSource. An
// explicit WithManifest takes precedence; the id is still recorded.
func WithManifestID(id string) SessionOption {
	return func(o *sessionOptions) { o.manifestID = id }
}

// WithROI restricts detections to boxes whose centre lies inside roi.
func WithROI(roi geometry.Box) SessionOption {
	return func(o *sessionOptions) { o.roi = &roi }
}

// WithPolicy overrides the configured dedup policy for one session.
func WithPolicy(p session.Policy) SessionOption {
	return func(o *sessionOptions) { o.policy = p }
}

// StartSession opens a session and returns its id. An empty id asks the
// engine to generate one. The catalog is snapshotted here; later catalog
// changes do not affect the running session.
func (e *Engine) StartSession(ctx context.Context, id string, opts ...SessionOption) (string, error) {
	o := sessionOptions{policy: e.policy}
	for _, opt := range opts {
		opt(&o)
	}
	if id == "" {
		id = newSessionID()
	}
	if o.roi != nil && !o.roi.Valid() {
		return "", fmt.Errorf("session %s: invalid roi %s", id, o.roi)
	}
	if _, err := session.ParsePolicy(string(o.policy)); err != nil {
		return "", fmt.Errorf("session %s: %w", id, err)
	}

	if !o.hasManifest && o.manifestID != "" {
		if e.manifests == nil {
			return "", fmt.Errorf("session %s: manifest %q requested but no manifest source configured", id, o.manifestID)
		}
		lines, err := e.manifests.Manifest(ctx, o.manifestID)
		if err != nil {
			return "", fmt.Errorf("session %s: load manifest %q: %w", id, o.manifestID, err)
		}
		o.manifest = lines
		o.hasManifest = true
	}

	if o.hasManifest {
		lines, err := reconcile.NormalizeManifest(o.manifest)
		if err != nil {
			return "", fmt.Errorf("session %s: %w", id, err)
		}
		o.manifest = lines
	}

	products, err := e.catalog.Products(ctx)
	if err != nil {
		return "", fmt.Errorf("session %s: load catalog: %w", id, err)
	}

	now := e.clock.Now()
	ledger := session.NewLedger(id, o.policy, e.cfg.GetProductCooldown())
	tracker := tracks.NewTracker(tracks.TrackerConfigFromEngine(e.cfg))
	ls := &liveSession{
		Session:     session.New(id, now, ledger, tracker, e.cfg.GetSessionQueueSize()),
		manifestID:  o.manifestID,
		manifest:    o.manifest,
		hasManifest: o.hasManifest,
		roi:         o.roi,
		products:    products,
		resolver:    catalog.NewResolver(products, e.cfg.GetResolverMinScore()),
	}
	if err := e.sessions.Start(id, ls); err != nil {
		ls.Close()
		return "", err
	}
	e.metrics.ActiveSessions.Add(1)

	if e.recorder != nil {
		if err := e.recorder.RecordSessionStart(ctx, id, o.manifestID, string(o.policy), now); err != nil {
			e.metrics.PersistFailures.Add(1)
			monitoring.Warnf("session %s: record start: %v", id, err)
		}
	}
	monitoring.Logf("session %s started: policy=%s catalog=%d manifest_lines=%d", id, o.policy, len(products), len(o.manifest))
	return id, nil
}

// EndSession closes the session, waits for its queued frames, reconciles
// what was registered against the manifest and returns the summary. The
// summary is persisted and its alerts are notified; failures there are
// logged and do not fail the call.
func (e *Engine) EndSession(ctx context.Context, id string) (events.Summary, error) {
	ls, ok := e.sessions.Remove(id)
	if !ok {
		return events.Summary{}, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	ls.Close()
	e.metrics.ActiveSessions.Add(-1)

	sum := e.summarize(ls)

	sctx, cancel := detached(ctx, sideEffectTimeout)
	defer cancel()
	if e.recorder != nil {
		if err := e.recorder.RecordSummary(sctx, sum); err != nil {
			e.metrics.PersistFailures.Add(1)
			monitoring.Warnf("session %s: record summary: %v", id, err)
		}
	}
	for _, a := range sum.Alerts {
		e.metrics.AlertsRaised.Add(1)
		ev := events.Alert{SessionID: id, Alert: a, Timestamp: sum.EndedAt}
		if err := e.notifier.NotifyAlert(sctx, ev); err != nil {
			e.metrics.NotificationFailures.Add(1)
			monitoring.Warnf("session %s: notify alert %s: %v", id, a.Kind, err)
		}
	}
	if n, ok := e.notifier.(notify.SessionEndNotifier); ok {
		if err := n.NotifySessionEnded(sctx, id, sum.EndedAt); err != nil {
			e.metrics.NotificationFailures.Add(1)
			monitoring.Warnf("session %s: notify end: %v", id, err)
		}
	}

	monitoring.Logf("session %s ended: accepted=%d frames=%d dropped=%d alerts=%d",
		id, len(sum.Events), sum.Frames.Received, sum.Frames.TotalDropped(), len(sum.Alerts))
	return sum, nil
}

// summarize must only run after the session loop has stopped.
func (e *Engine) summarize(ls *liveSession) events.Summary {
	frames := ls.Ledger.Frames()
	if n := int(ls.queueDrops.Load()); n > 0 {
		frames.Received += n
		if frames.Dropped == nil {
			frames.Dropped = make(map[monitoring.DropReason]int)
		}
		frames.Dropped[monitoring.DropQueueFull] += n
	}

	counts := ls.Ledger.Counts()
	var diff []reconcile.DiffResult
	if ls.hasManifest {
		observed := make([]reconcile.Observed, len(counts))
		for i, c := range counts {
			observed[i] = reconcile.Observed{ProductID: c.ProductID, Quantity: c.Quantity}
		}
		diff = reconcile.Diff(ls.manifest, observed)
	}
	agg := alerts.AggregateConfidence(ls.confidences)

	return events.Summary{
		SessionID:           ls.ID,
		ManifestID:          ls.manifestID,
		Policy:              string(ls.Ledger.Policy()),
		StartedAt:           ls.StartedAt,
		EndedAt:             e.clock.Now(),
		Frames:              frames,
		Events:              append([]events.Detection(nil), ls.events...),
		Counts:              counts,
		Manifest:            ls.manifest,
		Diff:                diff,
		Totals:              reconcile.Summarize(diff),
		Alerts:              alerts.Classify(diff, agg, alerts.ThresholdsFromEngine(e.cfg)),
		AggregateConfidence: agg,
	}
}
