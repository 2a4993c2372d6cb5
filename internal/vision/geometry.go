package vision

import (
	"errors"
	"math"
)

// Point is an image coordinate in pixels.
type Point struct {
	X, Y float64
}

// Corner order used throughout: top-left, top-right, bottom-right, bottom-left.
const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

// Layout assigns a marker id to each corner, in corner order.
type Layout [4]int

var errDegenerate = errors.New("marker centroids span an empty region")

// Centroid is the arithmetic mean of a marker's corner points.
func Centroid(corners []Point) Point {
	var c Point
	if len(corners) == 0 {
		return c
	}
	for _, p := range corners {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(corners))
	return Point{X: c.X / n, Y: c.Y / n}
}

// Locate maps detected markers onto the layout. It returns the corner
// centroids and the layout ids that were not found. When an id is detected
// more than once the first detection wins.
func Locate(layout Layout, ids []int, corners [][]Point) ([4]Point, []int) {
	var out [4]Point
	var found [4]bool

	for i, id := range ids {
		if i >= len(corners) {
			break
		}
		for slot, want := range layout {
			if id == want && !found[slot] {
				out[slot] = Centroid(corners[i])
				found[slot] = true
			}
		}
	}

	var missing []int
	for slot, ok := range found {
		if !ok {
			missing = append(missing, layout[slot])
		}
	}
	return out, missing
}

// CropPlan describes the perspective warp from four source centroids into a
// padded, axis-aligned output rectangle.
type CropPlan struct {
	Source [4]Point
	Dest   [4]Point
	Width  int
	Height int
	PadX   int
	PadY   int
}

// PlanCrop computes the bounding box of the centroids, pads it by
// paddingPercent of its width and height on every side, and places the
// centroids at the inner corners of the padded output.
func PlanCrop(src [4]Point, paddingPercent float64) (CropPlan, error) {
	minX, maxX := src[0].X, src[0].X
	minY, maxY := src[0].Y, src[0].Y
	for _, p := range src[1:] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}

	w := int(maxX - minX)
	h := int(maxY - minY)
	if w <= 0 || h <= 0 {
		return CropPlan{}, errDegenerate
	}

	frac := paddingPercent / 100.0
	padX := int(float64(w) * frac)
	padY := int(float64(h) * frac)

	// Centroids land at (pad, pad) so the margin is equal on all four sides.
	// Mapping them to (-pad, -pad) instead would push the markers outside
	// the output and leave the whole margin on the bottom-right.
	px, py := float64(padX), float64(padY)
	fw, fh := float64(w), float64(h)

	return CropPlan{
		Source: src,
		Dest: [4]Point{
			TopLeft:     {X: px, Y: py},
			TopRight:    {X: fw + px, Y: py},
			BottomRight: {X: fw + px, Y: fh + py},
			BottomLeft:  {X: px, Y: fh + py},
		},
		Width:  w + 2*padX,
		Height: h + 2*padY,
		PadX:   padX,
		PadY:   padY,
	}, nil
}
