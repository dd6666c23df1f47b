package perception

import (
	"fmt"
	"image"
)

type Point struct {
	X, Y int
}

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Region is an axis-aligned rectangle in monitor-local pixels.
// The zero Region means the whole monitor.
type Region struct {
	X, Y, W, H int
}

// Span builds a region from its left, top, right and bottom edges.
func Span(left, top, right, bottom int) Region {
	return Region{X: left, Y: top, W: right - left, H: bottom - top}
}

func (r Region) Empty() bool { return r.W <= 0 || r.H <= 0 }

func (r Region) Origin() Point { return Point{X: r.X, Y: r.Y} }

func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Clip restricts r to bounds. An empty r selects all of bounds.
func (r Region) Clip(bounds Region) Region {
	if r.Empty() {
		return Region{W: bounds.W, H: bounds.H}
	}
	rect := r.Rect().Intersect(image.Rect(0, 0, bounds.W, bounds.H))
	return Region{X: rect.Min.X, Y: rect.Min.Y, W: rect.Dx(), H: rect.Dy()}
}

func (r Region) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// MatchResult is a located element. Point is the absolute screen position of its
// centre, Box the monitor-local bounds.
type MatchResult struct {
	Point Point
	Box   image.Rectangle
	Score float64
}

func center(r image.Rectangle) Point {
	return Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}
