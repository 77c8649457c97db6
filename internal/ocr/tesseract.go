// Package ocr reads the on-screen frame counter rendered by the VR
// application, and selects the region it is drawn in.
package ocr

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"vr-screenmap/pkg/geometry"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// DigitChars is the character set of the frame counter.
const DigitChars = "0123456789"

// Engine provides frame counter recognition using Tesseract.
type Engine struct {
	client *gosseract.Client
}

// NewEngine creates a new OCR engine. lang defaults to "eng".
func NewEngine(lang string) (*Engine, error) {
	if lang == "" {
		lang = "eng"
	}
	client := gosseract.NewClient()

	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// The counter is a bare number; dictionary correction only hurts.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := client.SetWhitelist(DigitChars); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set whitelist: %w", err)
	}

	return &Engine{client: client}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// RecognizeRegion performs OCR on a region of a frame.
func (e *Engine) RecognizeRegion(img gocv.Mat, roi geometry.Region) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("empty image")
	}

	r := roi.Clip(img.Cols(), img.Rows())
	if r.Empty() {
		return "", fmt.Errorf("invalid region bounds %s for %dx%d frame", roi, img.Cols(), img.Rows())
	}

	region := img.Region(r.Rect())
	defer region.Close()

	processed := preprocessForOCR(region)
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// FrameNumber recognizes the counter inside roi. The boolean is false when
// recognition failed or the text is not an integer.
func (e *Engine) FrameNumber(img gocv.Mat, roi geometry.Region) (int, bool) {
	text, err := e.RecognizeRegion(img, roi)
	if err != nil {
		return 0, false
	}
	return ParseCounter(text)
}

// ParseCounter interprets recognized text as a frame counter. Only a run of
// ASCII digits (surrounding whitespace allowed) is accepted.
func ParseCounter(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return n, true
}

// preprocessForOCR prepares a counter crop for OCR: upscaled, grayscale,
// Otsu-binarized, dark text on light background.
func preprocessForOCR(region gocv.Mat) gocv.Mat {
	h, w := region.Rows(), region.Cols()

	// Upscale small crops (target ~150px minimum dimension)
	var scaled gocv.Mat
	minDim := min(h, w)
	if minDim < 150 {
		scale := 150.0 / float64(minDim)
		scaled = gocv.NewMat()
		gocv.Resize(region, &scaled, image.Point{}, scale, scale, gocv.InterpolationCubic)
	} else {
		scaled = region.Clone()
	}

	gray := gocv.NewMat()
	if scaled.Channels() == 1 {
		scaled.CopyTo(&gray)
	} else {
		gocv.CvtColor(scaled, &gray, gocv.ColorBGRToGray)
	}
	scaled.Close()

	binary := gocv.NewMat()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	gray.Close()

	// Tesseract expects dark text on a light background.
	whiteCount := gocv.CountNonZero(binary)
	totalPixels := binary.Rows() * binary.Cols()
	if float64(whiteCount)/float64(totalPixels) < 0.5 {
		gocv.BitwiseNot(binary, &binary)
	}

	result := gocv.NewMat()
	gocv.CvtColor(binary, &result, gocv.ColorGrayToBGR)
	binary.Close()

	return result
}
