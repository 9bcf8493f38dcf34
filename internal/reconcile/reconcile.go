// Package reconcile compares the quantities observed in a session against
// the expected manifest.
package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// Priority marks how much a manifest line matters.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

// ParsePriority accepts the priority names case-insensitively; empty means
// normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PriorityNormal):
		return PriorityNormal, nil
	case string(PriorityCritical):
		return PriorityCritical, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// ErrInvalidManifest wraps every NormalizeManifest failure.
var ErrInvalidManifest = errors.New("invalid manifest")

// NormalizeManifest returns a copy of lines with priorities canonicalised.
// Lines without a product id, with a negative quantity or an unknown
// priority are rejected.
func NormalizeManifest(lines []ManifestLine) ([]ManifestLine, error) {
	if lines == nil {
		return nil, nil
	}
	out := make([]ManifestLine, len(lines))
	for i, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return nil, fmt.Errorf("%w: line %d: missing product_id", ErrInvalidManifest, i)
		}
		if l.ExpectedQuantity < 0 {
			return nil, fmt.Errorf("%w: line %d: negative expected_quantity %d", ErrInvalidManifest, i, l.ExpectedQuantity)
		}
		p, err := ParsePriority(string(l.Priority))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidManifest, i, err)
		}
		l.Priority = p
		out[i] = l
	}
	return out, nil
}

// Kind classifies a diff line.
type Kind string

const (
	KindMatch    Kind = "match"
	KindMissing  Kind = "missing"
	KindExtra    Kind = "extra"
	KindMismatch Kind = "mismatch"
)

// ManifestLine is one expected product and quantity.
type ManifestLine struct {
	ProductID        string   `json:"product_id"`
	ExpectedQuantity int      `json:"expected_quantity"`
	Priority         Priority `json:"priority,omitempty"`
}

// Observed is the detected quantity for one product.
type Observed struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// DiffResult is one reconciliation line.
type DiffResult struct {
	ProductID string   `json:"product_id"`
	Expected  int      `json:"expected"`
	Detected  int      `json:"detected"`
	Delta     int      `json:"delta"`
	Kind      Kind     `json:"kind"`
	Priority  Priority `json:"priority,omitempty"`
}

// Diff reconciles observed quantities against manifest. Output holds every
// manifest line in manifest order, followed by one mismatch line per
// observed product absent from the manifest, in observed order. Duplicate
// ids on either side are summed into their first occurrence.
func Diff(manifest []ManifestLine, observed []Observed) []DiffResult {
	detected := make(map[string]int, len(observed))
	var observedOrder []string
	for _, o := range observed {
		if _, ok := detected[o.ProductID]; !ok {
			observedOrder = append(observedOrder, o.ProductID)
		}
		detected[o.ProductID] += o.Quantity
	}

	out := make([]DiffResult, 0, len(manifest)+len(observedOrder))
	index := make(map[string]int, len(manifest))
	for _, m := range manifest {
		if i, ok := index[m.ProductID]; ok {
			line := &out[i]
			line.Expected += m.ExpectedQuantity
			if m.Priority == PriorityCritical {
				line.Priority = PriorityCritical
			}
			line.Delta = line.Detected - line.Expected
			line.Kind = kindFor(line.Delta)
			continue
		}
		priority := m.Priority
		if priority == "" {
			priority = PriorityNormal
		}
		d := detected[m.ProductID]
		line := DiffResult{
			ProductID: m.ProductID,
			Expected:  m.ExpectedQuantity,
			Detected:  d,
			Delta:     d - m.ExpectedQuantity,
			Priority:  priority,
		}
		line.Kind = kindFor(line.Delta)
		index[m.ProductID] = len(out)
		out = append(out, line)
	}

	for _, id := range observedOrder {
		if _, ok := index[id]; ok {
			continue
		}
		d := detected[id]
		out = append(out, DiffResult{
			ProductID: id,
			Expected:  0,
			Detected:  d,
			Delta:     d,
			Kind:      KindMismatch,
		})
	}
	return out
}

func kindFor(delta int) Kind {
	switch {
	case delta < 0:
		return KindMissing
	case delta > 0:
		return KindExtra
	}
	return KindMatch
}

// Totals summarises a diff.
type Totals struct {
	Expected   int `json:"expected"`
	Detected   int `json:"detected"`
	Delta      int `json:"delta"`
	Matched    int `json:"matched"`
	Missing    int `json:"missing"`
	Extra      int `json:"extra"`
	Mismatched int `json:"mismatched"`
}

// Summarize totals quantities and counts lines by kind.
func Summarize(lines []DiffResult) Totals {
	var t Totals
	for _, l := range lines {
		t.Expected += l.Expected
		t.Detected += l.Detected
		t.Delta += l.Delta
		switch l.Kind {
		case KindMatch:
			t.Matched++
		case KindMissing:
			t.Missing++
		case KindExtra:
			t.Extra++
		case KindMismatch:
			t.Mismatched++
		}
	}
	return t
}

// AllMatch reports whether every line is a match.
func AllMatch(lines []DiffResult) bool {
	for _, l := range lines {
		if l.Kind != KindMatch {
			return false
		}
	}
	return true
}
