// Package detect locates the calibration anchor in video frames with
// multi-scale masked template matching.
package detect

import (
	"errors"
	"fmt"
	"image"
	"math"

	"vr-screenmap/internal/monitoring"
	"vr-screenmap/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Errors returned by centroid aggregation.
var (
	ErrNoDetections    = errors.New("no anchor detections")
	ErrMultipleMarkers = errors.New("detections spread beyond a single marker")
)

// Default search parameters.
const (
	DefaultMinSize   = 10
	DefaultMaxSize   = 50
	DefaultDeltaSize = 5
	DefaultThreshold = 0.9
)

// Params controls the scale sweep. Sizes are template edge lengths in pixels;
// the sweep covers [MinSize, MaxSize) in steps of DeltaSize.
type Params struct {
	MinSize   int
	MaxSize   int
	DeltaSize int
	Threshold float64

	// ClusterRadius, when positive, bounds the distance of every detection
	// centre from the median. Detections farther out mean more than one
	// marker is visible and the centroid would be meaningless.
	ClusterRadius float64
}

// DefaultParams returns the default sweep.
func DefaultParams() Params {
	return Params{
		MinSize:   DefaultMinSize,
		MaxSize:   DefaultMaxSize,
		DeltaSize: DefaultDeltaSize,
		Threshold: DefaultThreshold,
	}
}

// Validate checks the sweep is non-empty and terminates.
func (p Params) Validate() error {
	if p.MinSize < 1 {
		return fmt.Errorf("min size must be positive, got %d", p.MinSize)
	}
	if p.MaxSize <= p.MinSize {
		return fmt.Errorf("max size %d must exceed min size %d", p.MaxSize, p.MinSize)
	}
	if p.DeltaSize < 1 {
		return fmt.Errorf("delta size must be positive, got %d", p.DeltaSize)
	}
	if p.Threshold <= 0 || p.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %g", p.Threshold)
	}
	if p.ClusterRadius < 0 {
		return fmt.Errorf("cluster radius must not be negative, got %g", p.ClusterRadius)
	}
	return nil
}

// BoundingBox is one template match: top-left, bottom-right and centre.
type BoundingBox struct {
	X1, Y1 int
	X2, Y2 int
	CX, CY float64
}

// Center returns the box centre.
func (b BoundingBox) Center() geometry.Point2D {
	return geometry.Point2D{X: b.CX, Y: b.CY}
}

// Size returns the template edge length that produced the box.
func (b BoundingBox) Size() int {
	return b.X2 - b.X1
}

// Detector matches one anchor template against frames.
type Detector struct {
	anchor gocv.Mat
	params Params
}

// NewDetector creates a detector for a BGRA anchor Mat. The detector does not
// take ownership of anchor.
func NewDetector(anchor gocv.Mat, params Params) (*Detector, error) {
	if anchor.Empty() {
		return nil, errors.New("empty anchor template")
	}
	if anchor.Channels() != 4 {
		return nil, fmt.Errorf("anchor template must have 4 channels (BGRA), got %d", anchor.Channels())
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector params: %w", err)
	}
	return &Detector{anchor: anchor, params: params}, nil
}

// Params returns the detector's sweep parameters.
func (d *Detector) Params() Params {
	return d.params
}

// Detect returns every location, at every scale, whose masked normalized
// cross-correlation with the anchor meets the threshold. Overlapping boxes
// are all kept; Aggregate reduces them with a median.
func (d *Detector) Detect(frame gocv.Mat) ([]BoundingBox, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}
	if frame.Channels() != 3 {
		return nil, fmt.Errorf("frame must have 3 channels (BGR), got %d", frame.Channels())
	}

	var boxes []BoundingBox
	for p := d.params.MinSize; p < d.params.MaxSize; p += d.params.DeltaSize {
		if p > frame.Cols() || p > frame.Rows() {
			monitoring.Logf("[detect] template size %d exceeds %dx%d frame, skipping", p, frame.Cols(), frame.Rows())
			continue
		}
		boxes = append(boxes, d.matchScale(frame, p)...)
	}
	return boxes, nil
}

// matchScale runs one masked match with the anchor resized to p x p.
func (d *Detector) matchScale(frame gocv.Mat, p int) []BoundingBox {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(d.anchor, &resized, image.Pt(p, p), 0, 0, gocv.InterpolationLinear)

	channels := gocv.Split(resized)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	templ := gocv.NewMat()
	defer templ.Close()
	gocv.Merge(channels[:3], &templ)

	mask := gocv.NewMat()
	defer mask.Close()
	alpha := channels[3]
	gocv.Merge([]gocv.Mat{alpha, alpha, alpha}, &mask)

	result := gocv.NewMat()
	defer result.Close()
	gocv.MatchTemplate(frame, templ, &result, gocv.TmCcorrNormed, mask)

	half := float64(p) / 2
	var boxes []BoundingBox
	for y := 0; y < result.Rows(); y++ {
		for x := 0; x < result.Cols(); x++ {
			score := float64(result.GetFloatAt(y, x))
			if math.IsNaN(score) || math.IsInf(score, 0) || score < d.params.Threshold {
				continue
			}
			boxes = append(boxes, BoundingBox{
				X1: x, Y1: y,
				X2: x + p, Y2: y + p,
				CX: float64(x) + half, CY: float64(y) + half,
			})
		}
	}
	return boxes
}

// Centroids summarizes a detection set. Median is the authoritative image
// coordinate; Mean and Spread are diagnostics.
type Centroids struct {
	Mean   geometry.Point2D
	Median geometry.Point2D
	Spread float64 // largest centre distance from Median
	Count  int
}

// Aggregate computes the mean and median centres of boxes. An empty set is
// an error since no coordinate can be derived. A positive clusterRadius
// rejects sets whose centres stray farther than that from the median.
func Aggregate(boxes []BoundingBox, clusterRadius float64) (Centroids, error) {
	if len(boxes) == 0 {
		return Centroids{}, ErrNoDetections
	}
	xs := make([]float64, len(boxes))
	ys := make([]float64, len(boxes))
	centres := make([]geometry.Point2D, len(boxes))
	for i, b := range boxes {
		xs[i], ys[i] = b.CX, b.CY
		centres[i] = b.Center()
	}

	c := Centroids{
		Mean:   geometry.Point2D{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)},
		Median: geometry.Median(centres),
		Count:  len(boxes),
	}
	for _, p := range centres {
		c.Spread = math.Max(c.Spread, p.Distance(c.Median))
	}
	if clusterRadius > 0 && c.Spread > clusterRadius {
		return c, fmt.Errorf("%w: spread %.1fpx exceeds %.1fpx", ErrMultipleMarkers, c.Spread, clusterRadius)
	}
	return c, nil
}

// Locate runs Detect and Aggregate with the detector's cluster radius.
func (d *Detector) Locate(frame gocv.Mat) ([]BoundingBox, Centroids, error) {
	boxes, err := d.Detect(frame)
	if err != nil {
		return nil, Centroids{}, err
	}
	c, err := Aggregate(boxes, d.params.ClusterRadius)
	return boxes, c, err
}
