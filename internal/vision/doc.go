// Package vision groups the per-frame stages of the detection pipeline.
//
// Layers, leaf first:
//
//   - geometry: normalised boxes, IoU, ROI containment.
//   - nms: duplicate suppression inside one frame.
//   - tracks: identity continuity across frames within one session.
//
// Dependency rule: a layer may import the layers listed above it, never
// below. No catalog, ledger or persistence code lives here.
package vision
