// Package alerts grades reconciliation results and detection confidence
// into alert records.
package alerts

import (
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cartvision/internal/config"
	"github.com/banshee-data/cartvision/internal/reconcile"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind names what an alert is about.
type Kind string

const (
	KindLowConfidence  Kind = "low_confidence"
	KindMissingItems   Kind = "missing_items"
	KindExtraItems     Kind = "extra_items"
	KindUnexpectedItem Kind = "unexpected_item"
)

// AlertRecord is one generated alert.
type AlertRecord struct {
	ID               string   `json:"id"`
	Kind             Kind     `json:"kind"`
	Severity         Severity `json:"severity"`
	Message          string   `json:"message"`
	RelatedProductID string   `json:"related_product_id,omitempty"`
}

// Thresholds configures severity grading.
type Thresholds struct {
	ConfidenceCriticalBelow float64
	ConfidenceWarningBelow  float64
	// CriticalDelta is the absolute quantity difference at which missing,
	// extra and unexpected lines become critical.
	CriticalDelta int
}

// DefaultThresholds returns the built-in grading thresholds.
func DefaultThresholds() Thresholds {
	return ThresholdsFromEngine(config.EmptyEngineConfig())
}

// ThresholdsFromEngine reads the thresholds from a loaded EngineConfig.
func ThresholdsFromEngine(cfg *config.EngineConfig) Thresholds {
	return Thresholds{
		ConfidenceCriticalBelow: cfg.GetConfidenceCriticalBelow(),
		ConfidenceWarningBelow:  cfg.GetConfidenceWarningBelow(),
		CriticalDelta:           cfg.GetAlertCriticalDelta(),
	}
}

// AggregateConfidence is the mean confidence of a session's accepted
// detections. It returns nil when there were none, since an empty session
// says nothing about classifier quality.
func AggregateConfidence(confidences []float64) *float64 {
	if len(confidences) == 0 {
		return nil
	}
	m := stat.Mean(confidences, nil)
	return &m
}

// Classify produces alerts for a session. The confidence alert, if any,
// comes first, followed by line alerts in diff order. A nil aggregate
// raises no confidence alert.
func Classify(lines []reconcile.DiffResult, aggregate *float64, th Thresholds) []AlertRecord {
	var out []AlertRecord

	if aggregate != nil {
		conf := *aggregate
		switch {
		case conf < th.ConfidenceCriticalBelow:
			out = append(out, newAlert(KindLowConfidence, SeverityCritical, "",
				fmt.Sprintf("aggregate detection confidence %.2f is below %.2f", conf, th.ConfidenceCriticalBelow)))
		case conf < th.ConfidenceWarningBelow:
			out = append(out, newAlert(KindLowConfidence, SeverityWarning, "",
				fmt.Sprintf("aggregate detection confidence %.2f is below %.2f", conf, th.ConfidenceWarningBelow)))
		}
	}

	for _, l := range lines {
		abs := l.Delta
		if abs < 0 {
			abs = -abs
		}
		switch l.Kind {
		case reconcile.KindMissing:
			sev := SeverityWarning
			if l.Priority == reconcile.PriorityCritical || abs >= th.CriticalDelta {
				sev = SeverityCritical
			}
			out = append(out, newAlert(KindMissingItems, sev, l.ProductID,
				fmt.Sprintf("%d of %d expected %s missing", abs, l.Expected, l.ProductID)))
		case reconcile.KindExtra:
			sev := SeverityWarning
			if abs >= th.CriticalDelta {
				sev = SeverityCritical
			}
			out = append(out, newAlert(KindExtraItems, sev, l.ProductID,
				fmt.Sprintf("%d more %s than the %d expected", abs, l.ProductID, l.Expected)))
		case reconcile.KindMismatch:
			sev := SeverityWarning
			if l.Detected >= th.CriticalDelta {
				sev = SeverityCritical
			}
			out = append(out, newAlert(KindUnexpectedItem, sev, l.ProductID,
				fmt.Sprintf("%d %s detected but not on the manifest", l.Detected, l.ProductID)))
		}
	}
	return out
}

func newAlert(kind Kind, sev Severity, productID, msg string) AlertRecord {
	return AlertRecord{
		ID:               uuid.NewString(),
		Kind:             kind,
		Severity:         sev,
		Message:          msg,
		RelatedProductID: productID,
	}
}

// Highest returns the most severe level present, or "" for no alerts.
func Highest(records []AlertRecord) Severity {
	var out Severity
	for _, r := range records {
		if r.Severity == SeverityCritical {
			return SeverityCritical
		}
		out = SeverityWarning
	}
	return out
}
