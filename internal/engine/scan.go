package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/cartvision/internal/alerts"
	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/classifier"
	"github.com/banshee-data/cartvision/internal/monitoring"
	"github.com/banshee-data/cartvision/internal/ratelimit"
	"github.com/banshee-data/cartvision/internal/reconcile"
	"github.com/banshee-data/cartvision/internal/session"
	"github.com/banshee-data/cartvision/internal/vision/geometry"
	"github.com/banshee-data/cartvision/internal/vision/nms"
)

// ScanItem is one box kept by a batch scan.
type ScanItem struct {
	Label      string       `json:"label"`
	Brand      string       `json:"brand,omitempty"`
	ProductID  string       `json:"product_id,omitempty"`
	MatchScore float64      `json:"match_score,omitempty"`
	Confidence float64      `json:"confidence"`
	Box        geometry.Box `json:"bounding_box"`
}

// ScanResult is the outcome of a single-image batch scan.
type ScanResult struct {
	// Status is the kind of the final classifier result: detected, empty
	// or invalid.
	Status string                 `json:"status"`
	Reason string                 `json:"reason,omitempty"`
	Items  []ScanItem             `json:"items"`
	Counts []session.ProductCount `json:"counts"`
	// Unresolved lists labels that matched no catalog entry.
	Unresolved []string `json:"unresolved,omitempty"`

	Diff                []reconcile.DiffResult `json:"diff,omitempty"`
	Totals              reconcile.Totals       `json:"totals"`
	Alerts              []alerts.AlertRecord   `json:"alerts,omitempty"`
	AggregateConfidence *float64               `json:"aggregate_confidence,omitempty"`
}

// governed charges every classifier call against the shared governor.
// Each call also gets its own timeout.
type governed struct {
	inner    classifier.Classifier
	governor *ratelimit.Governor
	metrics  *monitoring.Metrics
	timeout  time.Duration
}

func (g governed) Classify(ctx context.Context, image []byte, products []catalog.Entry, effort classifier.Effort) (classifier.Result, error) {
	if !g.governor.TryAcquire() {
		return classifier.Result{}, ErrRateLimited
	}
	g.metrics.ClassifierCalls.Add(1)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.inner.Classify(ctx, image, products, effort)
}

// Scan counts the products in a single image. Unlike SubmitFrame it blocks
// on retries: transient classifier failures and invalid output are retried
// with backoff and escalating effort. Every product box in the image counts
// once; there is no tracking and no ledger. When manifest is non-nil the
// counts are reconciled against it.
//
// A spent rate budget returns ErrRateLimited. Exhausted transient failures
// return an error wrapping classifier.ErrTransient. Output that stays
// invalid is reported in the result's Status, not as an error.
func (e *Engine) Scan(ctx context.Context, image []byte, manifest []reconcile.ManifestLine) (ScanResult, error) {
	if e.classifier == nil {
		return ScanResult{}, ErrNoClassifier
	}
	products, err := e.catalog.Products(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("scan: load catalog: %w", err)
	}

	r := classifier.NewRetrying(
		governed{inner: e.classifier, governor: e.governor, metrics: e.metrics, timeout: e.cfg.GetClassifierTimeout()},
		e.cfg.GetBatchMaxAttempts(), e.cfg.GetBatchBackoffBase(), e.clock)
	r.OnRetry = func(attempt int, err error) {
		e.metrics.ClassifierRetries.Add(1)
		monitoring.Warnf("scan: retry %d after: %v", attempt, err)
	}

	res, err := r.Classify(ctx, image, products, classifier.EffortLow)
	if err != nil {
		return ScanResult{}, fmt.Errorf("scan: %w", err)
	}

	out := ScanResult{Status: res.Kind.String(), Reason: res.Reason, Items: []ScanItem{}}
	if res.Kind == classifier.Invalid {
		e.metrics.RecordDrop(monitoring.DropInvalidOutput)
		monitoring.Warnf("scan: classifier output invalid: %s", res.Reason)
	}

	valid, _ := nms.FilterValid(res.Items, e.cfg.GetMinDetectionConfidence())
	kept := nms.Suppress(valid, e.cfg.GetNMSIoUThreshold())
	e.metrics.BoxesSuppressed.Add(uint64(len(valid) - len(kept)))

	resolver := catalog.NewResolver(products, e.cfg.GetResolverMinScore())
	counts := map[string]int{}
	var order []string
	var confidences []float64
	for _, it := range kept {
		item := ScanItem{Label: it.Label, Brand: it.Brand, Confidence: it.Confidence, Box: it.Box}
		if m, ok := resolver.Resolve(it.Label, it.Brand); ok {
			item.ProductID = m.ProductID
			item.MatchScore = m.Score
			if counts[m.ProductID] == 0 {
				order = append(order, m.ProductID)
			}
			counts[m.ProductID]++
			confidences = append(confidences, it.Confidence)
		} else {
			e.metrics.LabelsUnresolved.Add(1)
			out.Unresolved = append(out.Unresolved, it.Label)
		}
		out.Items = append(out.Items, item)
	}

	out.Counts = make([]session.ProductCount, len(order))
	observed := make([]reconcile.Observed, len(order))
	for i, id := range order {
		out.Counts[i] = session.ProductCount{ProductID: id, Quantity: counts[id]}
		observed[i] = reconcile.Observed{ProductID: id, Quantity: counts[id]}
	}

	out.AggregateConfidence = alerts.AggregateConfidence(confidences)
	if manifest != nil {
		out.Diff = reconcile.Diff(manifest, observed)
		out.Totals = reconcile.Summarize(out.Diff)
	}
	out.Alerts = alerts.Classify(out.Diff, out.AggregateConfidence, alerts.ThresholdsFromEngine(e.cfg))
	return out, nil
}
