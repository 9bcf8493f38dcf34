// Package tracks assigns short-lived identities to detections across the
// consecutive frames of one session.
//
// Responsibilities: same-label IoU association, track creation, ageing out
// of stale tracks, and the "new entry" window that filters single-frame
// classifier noise. There is no motion model; identity only needs to survive
// the few seconds an item spends crossing the camera.
//
// A Tracker is owned by exactly one session loop and is not safe for
// concurrent use.
package tracks
