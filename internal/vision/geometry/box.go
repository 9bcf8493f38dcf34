// Package geometry implements the box arithmetic shared by suppression and
// tracking. Coordinates are normalised to a fixed 0–1000 scale in
// (top, left, bottom, right) order.
package geometry

import "fmt"

// Scale is the upper bound of every normalised coordinate.
const Scale = 1000.0

// Box is an axis-aligned rectangle on the normalised scale.
type Box struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

// ParseBox builds a Box from the classifier's [top, left, bottom, right] array.
func ParseBox(coords []float64) (Box, error) {
	if len(coords) != 4 {
		return Box{}, fmt.Errorf("box needs 4 coordinates, got %d", len(coords))
	}
	b := Box{Top: coords[0], Left: coords[1], Bottom: coords[2], Right: coords[3]}
	if !b.Valid() {
		return Box{}, fmt.Errorf("degenerate or out of range box %v", coords)
	}
	return b, nil
}

// Valid reports whether the box has positive area and lies inside the scale.
func (b Box) Valid() bool {
	if b.Top < 0 || b.Left < 0 || b.Bottom > Scale || b.Right > Scale {
		return false
	}
	return b.Top < b.Bottom && b.Left < b.Right
}

// Width returns the horizontal extent, or 0 for inverted boxes.
func (b Box) Width() float64 {
	if b.Right <= b.Left {
		return 0
	}
	return b.Right - b.Left
}

// Height returns the vertical extent, or 0 for inverted boxes.
func (b Box) Height() float64 {
	if b.Bottom <= b.Top {
		return 0
	}
	return b.Bottom - b.Top
}

// Area returns Width*Height.
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the centroid as (x, y).
func (b Box) Center() (x, y float64) {
	return (b.Left + b.Right) / 2, (b.Top + b.Bottom) / 2
}

func (b Box) String() string {
	return fmt.Sprintf("[t=%.0f l=%.0f b=%.0f r=%.0f]", b.Top, b.Left, b.Bottom, b.Right)
}

// IoU returns the intersection area divided by the union area. It returns 0
// when the boxes do not overlap or either has non-positive area.
func IoU(a, b Box) float64 {
	areaA, areaB := a.Area(), b.Area()
	if areaA <= 0 || areaB <= 0 {
		return 0
	}

	inter := Box{
		Top:    max(a.Top, b.Top),
		Left:   max(a.Left, b.Left),
		Bottom: min(a.Bottom, b.Bottom),
		Right:  min(a.Right, b.Right),
	}.Area()
	if inter <= 0 {
		return 0
	}

	return inter / (areaA + areaB - inter)
}

// ContainsCenter reports whether the centroid of box lies inside roi, edges
// included. Partially clipped boxes near the ROI border therefore still count.
func ContainsCenter(box, roi Box) bool {
	x, y := box.Center()
	return x >= roi.Left && x <= roi.Right && y >= roi.Top && y <= roi.Bottom
}
