package detect

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gocv.io/x/gocv"
)

// ErrNoAlpha is returned for anchor images without transparency.
var ErrNoAlpha = errors.New("anchor image has no alpha channel")

// LoadAnchor reads the anchor template from disk. The image must carry an
// alpha channel; it is returned as a 4-channel BGRA Mat.
func LoadAnchor(path string) (gocv.Mat, error) {
	file, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("anchor image %s: %w", path, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to decode anchor image %s: %w", path, err)
	}
	if !hasAlpha(img) {
		return gocv.NewMat(), fmt.Errorf("%s: %w", path, ErrNoAlpha)
	}
	return AnchorFromImage(img)
}

// AnchorFromImage converts a decoded image with transparency into the
// BGRA Mat the detector expects. Colors are un-premultiplied first.
func AnchorFromImage(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)

	data := make([]byte, 0, b.Dx()*b.Dy()*4)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := nrgba.NRGBAAt(x, y)
			data = append(data, c.B, c.G, c.R, c.A)
		}
	}
	m, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to convert anchor image: %w", err)
	}
	defer m.Close()
	// Clone so the Mat owns its pixels instead of aliasing data.
	return m.Clone(), nil
}

// hasAlpha reports whether the image has any non-opaque pixel. Decoders
// return RGBA-family images for opaque files too, so the color model alone
// is not enough.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}
