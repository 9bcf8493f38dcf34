// Package classifier talks to the external image classifier and turns its
// loosely shaped output into a validated, tagged Result.
package classifier

import (
	"context"
	"errors"

	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/vision"
)

// ErrTransient marks failures worth retrying: network errors, timeouts,
// 5xx and 429 responses.
var ErrTransient = errors.New("transient classifier failure")

// Effort hints how hard the classifier should look. Retries escalate it.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// efforts is the escalation ladder used by Retrying.
var efforts = []Effort{EffortLow, EffortMedium, EffortHigh}

// Kind tags a classifier Result.
type Kind int

const (
	// Invalid means the response failed the schema check.
	Invalid Kind = iota
	// Empty means a well-formed response with no items.
	Empty
	// Detected means at least one well-formed item.
	Detected
)

func (k Kind) String() string {
	switch k {
	case Detected:
		return "detected"
	case Empty:
		return "empty"
	default:
		return "invalid"
	}
}

// Result is a classifier response after validation. Items is only
// populated for Detected; Reason only for Invalid.
type Result struct {
	Kind   Kind
	Items  []vision.DetectedItem
	Reason string
}

// Classifier identifies catalog items in one image. A returned error means
// the call itself failed; malformed output is reported as an Invalid
// Result with a nil error.
type Classifier interface {
	Classify(ctx context.Context, image []byte, products []catalog.Entry, effort Effort) (Result, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, image []byte, products []catalog.Entry, effort Effort) (Result, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, image []byte, products []catalog.Entry, effort Effort) (Result, error) {
	return f(ctx, image, products, effort)
}
