// Package frame holds decoded video frames together with optional
// calibration metadata, and draws overlay markers on copies of them.
package frame

import (
	"fmt"
	"image"
	"image/color"

	"vr-screenmap/internal/detect"
	"vr-screenmap/pkg/geometry"

	"gocv.io/x/gocv"
)

// Frame is one decoded frame. Calib is nil for plain frames and set for
// frames used as calibration observations.
type Frame struct {
	Index int
	Name  string
	Image gocv.Mat
	Calib *Calibration
}

// Calibration is the per-frame calibration payload.
type Calibration struct {
	TargetID int
	VR       geometry.Point2D
	Img      geometry.Point2D
	Mean     geometry.Point2D
	Boxes    []detect.BoundingBox
}

// New wraps img. The frame takes ownership of the Mat.
func New(index int, img gocv.Mat) *Frame {
	return &Frame{Index: index, Name: fmt.Sprintf("frame_%06d", index), Image: img}
}

// NewCalibration wraps img as the observation frame for a target.
func NewCalibration(index, targetID int, vr geometry.Point2D, img gocv.Mat) *Frame {
	return &Frame{
		Index: index,
		Name:  fmt.Sprintf("target_%d", targetID),
		Image: img,
		Calib: &Calibration{TargetID: targetID, VR: vr},
	}
}

// SetDetections records the detector output and takes the median centroid
// as the image coordinate.
func (f *Frame) SetDetections(boxes []detect.BoundingBox, c detect.Centroids) {
	if f.Calib == nil {
		f.Calib = &Calibration{}
	}
	f.Calib.Boxes = boxes
	f.Calib.Mean = c.Mean
	f.Calib.Img = c.Median
}

// Close releases the frame's pixels.
func (f *Frame) Close() error {
	return f.Image.Close()
}

// MarkerStyle selects the marker glyph.
type MarkerStyle int

const (
	MarkerCross       MarkerStyle = iota // +
	MarkerTiltedCross                    // x
	MarkerDiamond
)

// DefaultMarkerSize is the marker edge length in pixels.
const DefaultMarkerSize = 20

// Annotated returns a copy of the frame's image for drawing on.
func (f *Frame) Annotated() gocv.Mat {
	return f.Image.Clone()
}

// DrawMarker draws a marker centred at p on img in place.
func DrawMarker(img *gocv.Mat, p geometry.Point2D, c color.RGBA, style MarkerStyle, size int) {
	if size <= 0 {
		size = DefaultMarkerSize
	}
	h := size / 2
	pt := p.Pixel()
	switch style {
	case MarkerCross:
		gocv.Line(img, image.Pt(pt.X-h, pt.Y), image.Pt(pt.X+h, pt.Y), c, 1)
		gocv.Line(img, image.Pt(pt.X, pt.Y-h), image.Pt(pt.X, pt.Y+h), c, 1)
	case MarkerTiltedCross:
		gocv.Line(img, image.Pt(pt.X-h, pt.Y-h), image.Pt(pt.X+h, pt.Y+h), c, 1)
		gocv.Line(img, image.Pt(pt.X-h, pt.Y+h), image.Pt(pt.X+h, pt.Y-h), c, 1)
	case MarkerDiamond:
		top := image.Pt(pt.X, pt.Y-h)
		right := image.Pt(pt.X+h, pt.Y)
		bottom := image.Pt(pt.X, pt.Y+h)
		left := image.Pt(pt.X-h, pt.Y)
		gocv.Line(img, top, right, c, 1)
		gocv.Line(img, right, bottom, c, 1)
		gocv.Line(img, bottom, left, c, 1)
		gocv.Line(img, left, top, c, 1)
	}
}

// DrawBoxes outlines detection boxes on img in place.
func DrawBoxes(img *gocv.Mat, boxes []detect.BoundingBox, c color.RGBA) {
	for _, b := range boxes {
		gocv.Rectangle(img, image.Rect(b.X1, b.Y1, b.X2, b.Y2), c, 1)
	}
}

// DrawLabel writes text at p on img in place.
func DrawLabel(img *gocv.Mat, text string, p image.Point, c color.RGBA) {
	gocv.PutText(img, text, p, gocv.FontHersheySimplex, 0.5, c, 1)
}
