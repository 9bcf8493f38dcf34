// Package engine wires the detection pipeline together. It owns the set of
// live cart sessions and turns classifier output into deduplicated detection
// events, and at session end into a reconciled summary with alerts.
//
// A frame travels: rate governor -> classifier -> validity filter -> NMS ->
// optional ROI -> tracker -> resolver -> ledger. Every step after the
// classifier runs on the owning session's loop, so per-session state needs no
// locking; the governor is the only state shared across sessions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/classifier"
	"github.com/banshee-data/cartvision/internal/config"
	"github.com/banshee-data/cartvision/internal/events"
	"github.com/banshee-data/cartvision/internal/monitoring"
	"github.com/banshee-data/cartvision/internal/notify"
	"github.com/banshee-data/cartvision/internal/ratelimit"
	"github.com/banshee-data/cartvision/internal/reconcile"
	"github.com/banshee-data/cartvision/internal/session"
	"github.com/banshee-data/cartvision/internal/timeutil"
)

var (
	// ErrSessionNotFound is returned for a session id that was never started
	// or has already ended.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRateLimited is returned by Scan when the classifier budget is spent.
	ErrRateLimited = errors.New("classifier rate limit reached")
	// ErrNoClassifier is returned when image input arrives at an engine
	// built without a classifier.
	ErrNoClassifier = errors.New("no classifier configured")
)

// sideEffectTimeout bounds each persist or notify call made from a session loop.
const sideEffectTimeout = 5 * time.Second

// ManifestSource looks up stored manifests by id.
type ManifestSource interface {
	Manifest(ctx context.Context, manifestID string) ([]reconcile.ManifestLine, error)
}

// Recorder persists what the engine produces.
type Recorder interface {
	RecordSessionStart(ctx context.Context, sessionID, manifestID, policy string, startedAt time.Time) error
	RecordDetection(ctx context.Context, d events.Detection) error
	RecordSummary(ctx context.Context, s events.Summary) error
}

// Options carries the collaborators of an Engine. Only Catalog is required.
type Options struct {
	Config     *config.EngineConfig
	Classifier classifier.Classifier
	Catalog    catalog.Source
	Manifests  ManifestSource
	Recorder   Recorder
	Notifier   notify.Notifier
	Metrics    *monitoring.Metrics
	Clock      timeutil.Clock

	// Governor is shared by every session. When nil one is built from Config.
	Governor *ratelimit.Governor
}

// Engine is the inbound surface used by transports.
type Engine struct {
	cfg        *config.EngineConfig
	classifier classifier.Classifier
	catalog    catalog.Source
	manifests  ManifestSource
	recorder   Recorder
	notifier   notify.Notifier
	metrics    *monitoring.Metrics
	clock      timeutil.Clock
	governor   *ratelimit.Governor
	policy     session.Policy

	sessions *session.Registry[*liveSession]
}

// New validates opts and builds an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		return nil, errors.New("engine: catalog source is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.EmptyEngineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	policy, err := session.ParsePolicy(cfg.GetDedupPolicy())
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	clock := timeutil.OrReal(opts.Clock)
	gov := opts.Governor
	if gov == nil {
		gov = ratelimit.NewGovernor(cfg.GetClassifierRPM(), cfg.GetRateWindow(), clock)
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	m := opts.Metrics
	if m == nil {
		m = monitoring.NewMetrics()
	}

	return &Engine{
		cfg:        cfg,
		classifier: opts.Classifier,
		catalog:    opts.Catalog,
		manifests:  opts.Manifests,
		recorder:   opts.Recorder,
		notifier:   n,
		metrics:    m,
		clock:      clock,
		governor:   gov,
		policy:     policy,
		sessions:   session.NewRegistry[*liveSession](),
	}, nil
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *monitoring.Metrics {
	return e.metrics
}

// Governor returns the shared classifier rate governor.
func (e *Engine) Governor() *ratelimit.Governor {
	return e.governor
}

// ActiveSessions returns the ids of every open session, sorted.
func (e *Engine) ActiveSessions() []string {
	return e.sessions.IDs()
}

func (e *Engine) lookup(id string) (*liveSession, error) {
	ls, ok := e.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return ls, nil
}

func newSessionID() string {
	return "ses_" + uuid.NewString()
}

// detached strips cancellation from ctx for work that must finish even when
// the caller has gone away, and bounds it with d.
func detached(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

// Close ends every open session, recording and notifying their summaries.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for _, id := range e.sessions.IDs() {
		if _, err := e.EndSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
