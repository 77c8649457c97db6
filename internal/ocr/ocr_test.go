package ocr

import (
	"errors"
	"image"
	"testing"

	"vr-screenmap/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestParseCounter(t *testing.T) {
	tests := []struct {
		text string
		want int
		ok   bool
	}{
		{"1234", 1234, true},
		{"  42\n", 42, true},
		{"007", 7, true},
		{"", 0, false},
		{"12a", 0, false},
		{"1 2", 0, false},
		{"-5", 0, false},
		{"3.0", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseCounter(tt.text)
		assert.Equal(t, tt.ok, ok, "ParseCounter(%q)", tt.text)
		assert.Equal(t, tt.want, got, "ParseCounter(%q)", tt.text)
	}
}

type errInput struct{}

func (errInput) SelectRectangle(gocv.Mat) (image.Rectangle, error) {
	return image.Rectangle{}, errors.New("window closed")
}

func TestSelectRegion(t *testing.T) {
	frame := gocv.NewMatWithSize(100, 200, gocv.MatTypeCV8UC3)
	defer frame.Close()

	t.Run("normalizes and clips", func(t *testing.T) {
		// Corners given bottom-right first, extending past the frame.
		in := FixedRegion(image.Rectangle{Min: image.Pt(180, 90), Max: image.Pt(150, 120)})
		tl, br, err := SelectRegion(frame, in)
		require.NoError(t, err)
		assert.Equal(t, geometry.PointInt{X: 150, Y: 90}, tl)
		assert.Equal(t, geometry.PointInt{X: 180, Y: 100}, br)
	})

	t.Run("cancelled", func(t *testing.T) {
		_, _, err := SelectRegion(frame, FixedRegion(image.Rectangle{}))
		assert.ErrorIs(t, err, ErrNoRegion)
	})

	t.Run("input failure", func(t *testing.T) {
		_, _, err := SelectRegion(frame, errInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "window closed")
	})
}
