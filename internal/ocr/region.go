package ocr

import (
	"errors"
	"fmt"
	"image"

	"vr-screenmap/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrNoRegion is returned when the user cancels or selects nothing.
var ErrNoRegion = errors.New("no region selected")

// RegionInput is a user-input capability that returns a rectangle drawn on
// a frame. A zero rectangle means the selection was cancelled.
type RegionInput interface {
	SelectRectangle(frame gocv.Mat) (image.Rectangle, error)
}

// SelectRegion asks in for the frame-counter rectangle on frame and returns
// its normalized top-left and bottom-right corners, clipped to the frame.
func SelectRegion(frame gocv.Mat, in RegionInput) (topLeft, bottomRight geometry.PointInt, err error) {
	rect, err := in.SelectRectangle(frame)
	if err != nil {
		return topLeft, bottomRight, fmt.Errorf("region selection failed: %w", err)
	}
	r := geometry.RegionFromRect(rect).Clip(frame.Cols(), frame.Rows())
	if r.Empty() {
		return topLeft, bottomRight, ErrNoRegion
	}
	return r.Min, r.Max, nil
}

// WindowInput implements RegionInput with an OpenCV highgui window: drag a
// rectangle, confirm with ENTER or SPACE, cancel with c.
type WindowInput struct {
	Title string
}

// SelectRectangle opens the window, blocks until the selection is confirmed,
// and closes the window.
func (w WindowInput) SelectRectangle(frame gocv.Mat) (image.Rectangle, error) {
	title := w.Title
	if title == "" {
		title = "Select ROI"
	}
	win := gocv.NewWindow(title)
	defer win.Close()

	return win.SelectROI(frame), nil
}

// FixedRegion is a RegionInput that returns a precomputed rectangle, for
// non-interactive runs.
type FixedRegion image.Rectangle

// SelectRectangle returns the stored rectangle.
func (f FixedRegion) SelectRectangle(gocv.Mat) (image.Rectangle, error) {
	return image.Rectangle(f), nil
}
