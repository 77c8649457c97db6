package detect

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"vr-screenmap/internal/monitoring"
	"vr-screenmap/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var (
	blue  = color.NRGBA{B: 255, A: 255}
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
)

// paintTarget draws a red disk inside a blue disk (radii r/2 and r) centred
// at (cx, cy) in continuous pixel coordinates.
func paintTarget(img *image.NRGBA, cx, cy, r float64) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			d2 := dx*dx + dy*dy
			switch {
			case d2 <= (r/2)*(r/2):
				img.SetNRGBA(x, y, red)
			case d2 <= r*r:
				img.SetNRGBA(x, y, blue)
			}
		}
	}
}

// anchorImage is a 40x40 target with transparent corners.
func anchorImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	paintTarget(img, 20, 20, 20)
	return img
}

// frameWithTarget returns a green 200x150 BGR frame containing one 20px
// target whose box starts at (50, 40), so its centre is (60, 50).
func frameWithTarget(t *testing.T) gocv.Mat {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 200, 150))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = green.R, green.G, green.B, 255
	}
	paintTarget(img, 60, 50, 10)
	m, err := gocv.ImageToMatRGB(img)
	require.NoError(t, err)
	return m
}

func newTestDetector(t *testing.T, params Params) (*Detector, func()) {
	t.Helper()
	anchor, err := AnchorFromImage(anchorImage())
	require.NoError(t, err)
	d, err := NewDetector(anchor, params)
	require.NoError(t, err)
	return d, func() { anchor.Close() }
}

func TestDetectSingleEmbeddedAnchor(t *testing.T) {
	monitoring.SetLogger(nil)
	d, done := newTestDetector(t, Params{MinSize: 18, MaxSize: 23, DeltaSize: 1, Threshold: 0.9})
	defer done()

	frame := frameWithTarget(t)
	defer frame.Close()

	boxes, c, err := d.Locate(frame)
	require.NoError(t, err)
	require.NotEmpty(t, boxes)

	sizes := map[int]bool{}
	for _, b := range boxes {
		sizes[b.Size()] = true
		assert.Equal(t, b.X2-b.X1, b.Y2-b.Y1)
	}
	assert.GreaterOrEqual(t, len(sizes), 2, "expected matches at two or more scales, got %v", sizes)

	want := geometry.Point2D{X: 60, Y: 50}
	assert.LessOrEqual(t, c.Median.Distance(want), 2.0, "median %v", c.Median)
	assert.Equal(t, len(boxes), c.Count)
}

func TestDetectNoAnchor(t *testing.T) {
	monitoring.SetLogger(nil)
	d, done := newTestDetector(t, Params{MinSize: 18, MaxSize: 23, DeltaSize: 1, Threshold: 0.9})
	defer done()

	img := image.NewNRGBA(image.Rect(0, 0, 80, 60))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+1], img.Pix[i+3] = 255, 255
	}
	frame, err := gocv.ImageToMatRGB(img)
	require.NoError(t, err)
	defer frame.Close()

	boxes, _, err := d.Locate(frame)
	assert.Empty(t, boxes)
	assert.ErrorIs(t, err, ErrNoDetections)
}

func TestDetectSkipsOversizedScales(t *testing.T) {
	monitoring.SetLogger(nil)
	d, done := newTestDetector(t, Params{MinSize: 30, MaxSize: 60, DeltaSize: 10, Threshold: 0.9})
	defer done()

	frame := gocv.NewMatWithSize(25, 25, gocv.MatTypeCV8UC3)
	defer frame.Close()

	boxes, err := d.Detect(frame)
	require.NoError(t, err)
	assert.Empty(t, boxes)
}

func TestAggregate(t *testing.T) {
	boxes := []BoundingBox{
		{X1: 0, Y1: 0, X2: 10, Y2: 10, CX: 5, CY: 5},
		{X1: 1, Y1: 0, X2: 11, Y2: 10, CX: 6, CY: 5},
		{X1: 0, Y1: 1, X2: 10, Y2: 11, CX: 5, CY: 6},
		{X1: 90, Y1: 90, X2: 100, Y2: 100, CX: 95, CY: 95},
	}

	c, err := Aggregate(boxes, 0)
	require.NoError(t, err)
	assert.Equal(t, geometry.Point2D{X: 27.75, Y: 27.75}, c.Mean)
	assert.Equal(t, geometry.Point2D{X: 5.5, Y: 5.5}, c.Median)
	assert.InDelta(t, geometry.Point2D{X: 95, Y: 95}.Distance(c.Median), c.Spread, 1e-12)

	_, err = Aggregate(boxes, 20)
	assert.ErrorIs(t, err, ErrMultipleMarkers)

	c, err = Aggregate(boxes[:3], 20)
	require.NoError(t, err)
	assert.Equal(t, geometry.Point2D{X: 5, Y: 5}, c.Median)

	_, err = Aggregate(nil, 0)
	assert.ErrorIs(t, err, ErrNoDetections)
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
	assert.Error(t, Params{MinSize: 10, MaxSize: 10, DeltaSize: 1, Threshold: 0.9}.Validate())
	assert.Error(t, Params{MinSize: 10, MaxSize: 20, DeltaSize: 0, Threshold: 0.9}.Validate())
	assert.Error(t, Params{MinSize: 10, MaxSize: 20, DeltaSize: 1, Threshold: 1.5}.Validate())
	assert.Error(t, Params{MinSize: 10, MaxSize: 20, DeltaSize: 1, Threshold: 0.9, ClusterRadius: -1}.Validate())
}

func TestLoadAnchor(t *testing.T) {
	dir := t.TempDir()

	t.Run("transparent png", func(t *testing.T) {
		path := filepath.Join(dir, "anchor.png")
		writePNG(t, path, anchorImage())
		m, err := LoadAnchor(path)
		require.NoError(t, err)
		defer m.Close()
		assert.Equal(t, 4, m.Channels())
		assert.Equal(t, 40, m.Rows())
		// Corner pixel is transparent, centre is opaque red (BGRA).
		assert.Equal(t, uint8(0), m.GetVecbAt(0, 0)[3])
		assert.Equal(t, []uint8{0, 0, 255, 255}, []uint8(m.GetVecbAt(20, 20)))
	})

	t.Run("opaque image rejected", func(t *testing.T) {
		path := filepath.Join(dir, "opaque.png")
		img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
		for i := range img.Pix {
			img.Pix[i] = 255
		}
		writePNG(t, path, img)
		_, err := LoadAnchor(path)
		assert.ErrorIs(t, err, ErrNoAlpha)
	})

	t.Run("missing file names path", func(t *testing.T) {
		_, err := LoadAnchor(filepath.Join(dir, "none.png"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "none.png")
	})
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}
