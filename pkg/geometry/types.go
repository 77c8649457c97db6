// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"fmt"
	"image"
	"math"
	"sort"
)

// Point2D represents a 2D point with floating-point coordinates.
// It is used both for VR screen-space and video pixel-space coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Sub returns the difference of two points.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

// Pixel rounds the point to the nearest integer pixel.
func (p Point2D) Pixel() image.Point {
	return image.Point{X: int(math.Round(p.X)), Y: int(math.Round(p.Y))}
}

// Array returns the point as a 2-vector, the persisted form of a coordinate.
func (p Point2D) Array() [2]float64 {
	return [2]float64{p.X, p.Y}
}

// FromArray converts a persisted 2-vector back to a point.
func FromArray(a [2]float64) Point2D {
	return Point2D{X: a[0], Y: a[1]}
}

func (p Point2D) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.X, p.Y)
}

// PointInt represents a 2D point with integer coordinates.
type PointInt struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ToFloat converts to Point2D.
func (p PointInt) ToFloat() Point2D {
	return Point2D{X: float64(p.X), Y: float64(p.Y)}
}

// Region is a pixel rectangle given by two corner points, as produced by an
// interactive selection. Min is the top-left corner and Max the bottom-right
// (exclusive) corner once normalized.
type Region struct {
	Min PointInt `json:"min"`
	Max PointInt `json:"max"`
}

// NewRegion builds a normalized region from two arbitrary corners.
func NewRegion(a, b PointInt) Region {
	return Region{
		Min: PointInt{X: min(a.X, b.X), Y: min(a.Y, b.Y)},
		Max: PointInt{X: max(a.X, b.X), Y: max(a.Y, b.Y)},
	}
}

// RegionFromRect converts an image.Rectangle.
func RegionFromRect(r image.Rectangle) Region {
	return NewRegion(PointInt{X: r.Min.X, Y: r.Min.Y}, PointInt{X: r.Max.X, Y: r.Max.Y})
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool {
	return r.Max.X <= r.Min.X || r.Max.Y <= r.Min.Y
}

// Clip returns the part of the region that lies inside a width x height image.
func (r Region) Clip(width, height int) Region {
	return Region{
		Min: PointInt{X: max(0, r.Min.X), Y: max(0, r.Min.Y)},
		Max: PointInt{X: min(width, r.Max.X), Y: min(height, r.Max.Y)},
	}
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
}

// Centroid computes the coordinate-wise mean of a set of points.
func Centroid(points []Point2D) Point2D {
	if len(points) == 0 {
		return Point2D{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point2D{X: sumX / n, Y: sumY / n}
}

// Median computes the coordinate-wise median of a set of points.
// For an even count the two middle values are averaged.
func Median(points []Point2D) Point2D {
	if len(points) == 0 {
		return Point2D{}
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	return Point2D{X: median(xs), Y: median(ys)}
}

func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}
