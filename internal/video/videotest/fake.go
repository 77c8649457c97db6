// Package videotest provides in-memory frame sources and a counter oracle
// for tests. The frame counter is encoded in the first channel of pixel
// (0, 0); the value NoCounter marks a frame whose counter is unreadable.
package videotest

import (
	"fmt"

	"vr-screenmap/internal/video"
	"vr-screenmap/pkg/geometry"

	"gocv.io/x/gocv"
)

// NoCounter is the pixel value the Oracle reports as unrecognized.
const NoCounter = 255

// Source is a video.Source over a fixed list of frames.
type Source struct {
	Frames    []gocv.Mat
	FrameRate float64
	pos       int
	closed    bool
}

var _ video.Source = (*Source)(nil)

// NewSource takes ownership of frames.
func NewSource(fps float64, frames ...gocv.Mat) *Source {
	return &Source{Frames: frames, FrameRate: fps}
}

// CounterSource returns a source of 1x1 frames carrying counters.
func CounterSource(fps float64, counters ...int) *Source {
	frames := make([]gocv.Mat, len(counters))
	for i, c := range counters {
		frames[i] = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c), 0, 0, 0), 1, 1, gocv.MatTypeCV8UC3)
	}
	return NewSource(fps, frames...)
}

// Stamp writes counter into pixel (0, 0) of a BGR frame.
func Stamp(frame *gocv.Mat, counter int) {
	frame.SetUCharAt(0, 0, uint8(counter))
}

func (s *Source) Read(dst *gocv.Mat) bool {
	if s.closed || s.pos >= len(s.Frames) {
		return false
	}
	s.Frames[s.pos].CopyTo(dst)
	s.pos++
	return true
}

func (s *Source) Seek(idx int) error {
	if idx < 0 || idx >= len(s.Frames) {
		return fmt.Errorf("%w to frame %d: source has %d frames", video.ErrSeek, idx, len(s.Frames))
	}
	s.pos = idx
	return nil
}

func (s *Source) FPS() float64 {
	return s.FrameRate
}

func (s *Source) Size() (int, int) {
	if len(s.Frames) == 0 {
		return 0, 0
	}
	return s.Frames[0].Cols(), s.Frames[0].Rows()
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	return s.closed
}

func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, f := range s.Frames {
		f.Close()
	}
	return nil
}

// Oracle reads the counter stamped by CounterSource or Stamp.
type Oracle struct {
	Calls int
}

func (o *Oracle) FrameNumber(frame gocv.Mat, _ geometry.Region) (int, bool) {
	o.Calls++
	v := int(frame.GetUCharAt(0, 0))
	if v == NoCounter {
		return 0, false
	}
	return v, true
}
