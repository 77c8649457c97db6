// Package colorutil provides shared overlay colors for annotated frames.
package colorutil

import (
	"image/color"
)

// Common overlay colors used throughout the application.
var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Cyan   = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	Green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Marker colors for calibration and repositioning overlays.
var (
	Detected   = color.RGBA{R: 0, G: 255, B: 225, A: 255} // median anchor centroid
	VRInput    = Cyan                                     // raw VR coordinate
	Estimated  = Black                                    // transform output
	Reposition = color.RGBA{R: 0, G: 225, B: 255, A: 255} // repositioned gaze sample
	ROI        = Green
)
