// Package video wraps gocv video decoding and encoding behind small
// interfaces so the pipeline can run against synthetic frame sources.
package video

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// ErrSeek is returned when a frame index cannot be positioned.
var ErrSeek = errors.New("cannot seek")

// Source is a decoded frame stream. Read fills dst with the next frame and
// returns false once frames are exhausted or unreadable.
type Source interface {
	Read(dst *gocv.Mat) bool
	Seek(frame int) error
	FPS() float64
	Size() (width, height int)
	Close() error
}

// Capture is a Source backed by a gocv.VideoCapture.
type Capture struct {
	path string
	cap  *gocv.VideoCapture
}

// Open opens a video file for decoding.
func Open(path string) (*Capture, error) {
	c, err := gocv.VideoCaptureFile(path)
	if err != nil {
		if c != nil {
			c.Close()
		}
		return nil, fmt.Errorf("could not open video %s: %w", path, err)
	}
	if !c.IsOpened() {
		c.Close()
		return nil, fmt.Errorf("could not open video %s", path)
	}
	return &Capture{path: path, cap: c}, nil
}

// OpenSource is Open with the Source return type, for dependency injection.
func OpenSource(path string) (Source, error) {
	return Open(path)
}

// Read decodes the next frame.
func (c *Capture) Read(dst *gocv.Mat) bool {
	return c.cap.Read(dst) && !dst.Empty()
}

// Seek positions the decoder so the next Read returns frame index idx.
func (c *Capture) Seek(idx int) error {
	if idx < 0 {
		return fmt.Errorf("%w to frame %d of %s", ErrSeek, idx, c.path)
	}
	if n := int(c.cap.Get(gocv.VideoCaptureFrameCount)); n > 0 && idx >= n {
		return fmt.Errorf("%w to frame %d of %s: video has %d frames", ErrSeek, idx, c.path, n)
	}
	c.cap.Set(gocv.VideoCapturePosFrames, float64(idx))
	return nil
}

// FPS returns the container frame rate.
func (c *Capture) FPS() float64 {
	return c.cap.Get(gocv.VideoCaptureFPS)
}

// Size returns the frame dimensions.
func (c *Capture) Size() (int, int) {
	return int(c.cap.Get(gocv.VideoCaptureFrameWidth)), int(c.cap.Get(gocv.VideoCaptureFrameHeight))
}

// Path returns the file the capture reads.
func (c *Capture) Path() string {
	return c.path
}

// Close releases the decoder.
func (c *Capture) Close() error {
	return c.cap.Close()
}

// Codec picks a fourcc and output extension for re-encoding frames read from
// inputPath. Containers OpenCV cannot write natively fall back to mp4v/.mp4.
func Codec(inputPath string) (fourcc, ext string) {
	switch strings.ToLower(filepath.Ext(inputPath)) {
	case ".avi":
		return "MJPG", ".avi"
	case ".mkv":
		return "XVID", ".mkv"
	case ".mov":
		return "mp4v", ".mov"
	default:
		return "mp4v", ".mp4"
	}
}

// Writer encodes annotated frames to a video file.
type Writer struct {
	path string
	w    *gocv.VideoWriter
}

// Create opens an encoder with the same geometry and rate as src.
func Create(path, fourcc string, fps float64, width, height int) (*Writer, error) {
	w, err := gocv.VideoWriterFile(path, fourcc, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("could not create video %s: %w", path, err)
	}
	return &Writer{path: path, w: w}, nil
}

// Write appends one frame.
func (w *Writer) Write(frame gocv.Mat) error {
	if err := w.w.Write(frame); err != nil {
		return fmt.Errorf("could not write frame to %s: %w", w.path, err)
	}
	return nil
}

// Close flushes and releases the encoder.
func (w *Writer) Close() error {
	return w.w.Close()
}
