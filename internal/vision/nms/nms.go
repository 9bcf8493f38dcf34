// Package nms removes duplicate boxes that describe the same physical item
// within a single frame.
package nms

import (
	"sort"

	"github.com/banshee-data/cartvision/internal/vision"
	"github.com/banshee-data/cartvision/internal/vision/geometry"
)

// DefaultIoUThreshold is the overlap at which two boxes count as one item.
const DefaultIoUThreshold = 0.5

// Suppress performs greedy non-maximum suppression. Items are ordered by
// descending confidence (stable, so equal confidences keep input order);
// each kept item discards every remaining item whose IoU with it reaches
// threshold. Labels are ignored: the classifier may name the same box twice.
//
// The input slice is not modified.
func Suppress(items []vision.DetectedItem, threshold float64) []vision.DetectedItem {
	if len(items) == 0 {
		return nil
	}

	sorted := make([]vision.DetectedItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]vision.DetectedItem, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && geometry.IoU(sorted[i].Box, sorted[j].Box) >= threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// FilterValid drops items with degenerate geometry, an empty label, or a
// confidence below minConfidence. It returns the survivors and the number
// of items dropped.
func FilterValid(items []vision.DetectedItem, minConfidence float64) ([]vision.DetectedItem, int) {
	out := make([]vision.DetectedItem, 0, len(items))
	for _, it := range items {
		if !it.Valid() || it.Confidence < minConfidence {
			continue
		}
		out = append(out, it)
	}
	return out, len(items) - len(out)
}

// FilterROI keeps the items whose centroid lies inside roi.
func FilterROI(items []vision.DetectedItem, roi geometry.Box) []vision.DetectedItem {
	out := make([]vision.DetectedItem, 0, len(items))
	for _, it := range items {
		if geometry.ContainsCenter(it.Box, roi) {
			out = append(out, it)
		}
	}
	return out
}
