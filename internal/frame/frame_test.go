package frame

import (
	"testing"

	"vr-screenmap/internal/detect"
	"vr-screenmap/pkg/colorutil"
	"vr-screenmap/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestCalibrationPayload(t *testing.T) {
	f := NewCalibration(12, 3, geometry.Point2D{X: 0.5, Y: 0.25}, gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC3))
	defer f.Close()

	assert.Equal(t, "target_3", f.Name)
	require.NotNil(t, f.Calib)

	boxes := []detect.BoundingBox{{X1: 1, Y1: 1, X2: 5, Y2: 5, CX: 3, CY: 3}}
	f.SetDetections(boxes, detect.Centroids{Mean: geometry.Point2D{X: 3.5, Y: 3}, Median: geometry.Point2D{X: 3, Y: 3}})
	assert.Equal(t, geometry.Point2D{X: 3, Y: 3}, f.Calib.Img)
	assert.Equal(t, geometry.Point2D{X: 3.5, Y: 3}, f.Calib.Mean)
	assert.Equal(t, 3, f.Calib.TargetID)

	plain := New(7, gocv.NewMat())
	defer plain.Close()
	assert.Nil(t, plain.Calib)
	assert.Equal(t, "frame_000007", plain.Name)
}

func TestDrawMarkerOnCopy(t *testing.T) {
	f := New(0, gocv.NewMatWithSize(40, 40, gocv.MatTypeCV8UC3))
	defer f.Close()

	out := f.Annotated()
	defer out.Close()
	DrawMarker(&out, geometry.Point2D{X: 20, Y: 20}, colorutil.White, MarkerCross, 10)

	// Centre of the cross is painted on the copy only.
	assert.Equal(t, []uint8{255, 255, 255}, []uint8(out.GetVecbAt(20, 20)))
	assert.Equal(t, []uint8{0, 0, 0}, []uint8(f.Image.GetVecbAt(20, 20)))
}
