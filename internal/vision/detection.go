package vision

import (
	"github.com/banshee-data/cartvision/internal/vision/geometry"
)

// DetectedItem is one box reported by the classifier for one frame.
// Values are produced fresh per frame and never mutated afterwards.
type DetectedItem struct {
	Label      string       `json:"label"`
	Box        geometry.Box `json:"box"`
	Confidence float64      `json:"confidence"`
	Brand      string       `json:"brand,omitempty"`
	Color      string       `json:"color,omitempty"`
}

// Valid reports whether the item has usable geometry, a label and a
// confidence in [0, 1].
func (d DetectedItem) Valid() bool {
	return d.Label != "" && d.Box.Valid() && d.Confidence >= 0 && d.Confidence <= 1
}
