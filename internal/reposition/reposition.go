// Package reposition maps a positions time series from VR screen space into
// video pixels using a trial's fitted transform.
package reposition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vr-screenmap/internal/frame"
	"vr-screenmap/internal/framesync"
	"vr-screenmap/internal/monitoring"
	"vr-screenmap/internal/table"
	"vr-screenmap/internal/transform"
	"vr-screenmap/internal/trial"
	"vr-screenmap/internal/video"
	"vr-screenmap/pkg/colorutil"
	"vr-screenmap/pkg/geometry"

	"gocv.io/x/gocv"
)

// OutputFile is the repositioned table written under the estimations directory.
const OutputFile = "repositions.csv"

// Sink receives every decoded frame with the repositioned samples drawn on it.
type Sink interface {
	Write(img gocv.Mat) error
	Close() error
}

// Options configure Apply.
type Options struct {
	Transformer *transform.Transformer
	Source      video.Source
	Oracle      framesync.FrameNumberer
	ROI         geometry.Region
	Positions   []table.PositionRecord
	Sinks       []Sink
}

// Stats count decoded frames.
type Stats struct {
	Decoded      int
	Unrecognized int
	Repeated     int // frames whose counter was already consumed
}

// Result holds the repositioned rows in decode order. Rows whose frame
// number never appeared in the video are dropped and counted.
type Result struct {
	Rows          []table.PositionRecord
	Dropped       int
	DroppedFrames []int
	Stats         Stats
}

// Apply decodes every frame of opts.Source, recognizes its counter and maps
// the position rows keyed by that counter through the transform. Rows for a
// counter are emitted once, on the first frame that shows it.
func Apply(ctx context.Context, opts Options) (*Result, error) {
	if opts.Transformer == nil || !opts.Transformer.Fitted() {
		return nil, transform.ErrNotFitted
	}
	if opts.Oracle == nil {
		return nil, errors.New("repositioning requires a frame number oracle")
	}
	if opts.ROI.Empty() {
		return nil, errors.New("repositioning requires a non-empty counter region")
	}

	index := make(map[int][]int)
	for i, rec := range opts.Positions {
		index[rec.Frame] = append(index[rec.Frame], i)
	}
	consumed := make(map[int][]geometry.Point2D, len(index))

	res := &Result{}
	img := gocv.NewMat()
	defer img.Close()

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.Source.Read(&img) {
			monitoring.Logf("[reposition] ending frame analysis after %d frames", idx)
			break
		}
		res.Stats.Decoded++

		counter, ok := opts.Oracle.FrameNumber(img, opts.ROI)
		var marks []geometry.Point2D
		switch {
		case !ok:
			res.Stats.Unrecognized++
		case consumed[counter] != nil:
			res.Stats.Repeated++
			marks = consumed[counter]
		default:
			rows, found := index[counter]
			if !found {
				break
			}
			marks = make([]geometry.Point2D, 0, len(rows))
			for _, i := range rows {
				rec := opts.Positions[i]
				v, err := opts.Transformer.ScreenToFrame(rec.VR)
				if err != nil {
					return nil, err
				}
				rec.Video = v
				res.Rows = append(res.Rows, rec)
				marks = append(marks, v)
			}
			consumed[counter] = marks
		}

		if len(opts.Sinks) > 0 {
			if err := writeSinks(opts.Sinks, idx, img, marks); err != nil {
				return nil, err
			}
		}
	}

	for f, rows := range index {
		if consumed[f] == nil {
			res.Dropped += len(rows)
			res.DroppedFrames = append(res.DroppedFrames, f)
		}
	}
	sort.Ints(res.DroppedFrames)
	if res.Dropped > 0 {
		monitoring.Logf("[reposition] dropped %d rows for %d frame numbers never recognized: %s",
			res.Dropped, len(res.DroppedFrames), summarizeFrames(res.DroppedFrames, 10))
	}
	return res, nil
}

func writeSinks(sinks []Sink, idx int, img gocv.Mat, marks []geometry.Point2D) error {
	out := frame.New(idx, img.Clone())
	defer out.Close()
	for _, p := range marks {
		frame.DrawMarker(&out.Image, p, colorutil.Reposition, frame.MarkerCross, frame.DefaultMarkerSize)
	}
	for _, s := range sinks {
		if err := s.Write(out.Image); err != nil {
			return err
		}
	}
	return nil
}

func summarizeFrames(frames []int, limit int) string {
	parts := make([]string, 0, min(len(frames), limit)+1)
	for i, f := range frames {
		if i == limit {
			parts = append(parts, fmt.Sprintf("... (%d more)", len(frames)-limit))
			break
		}
		parts = append(parts, fmt.Sprint(f))
	}
	return strings.Join(parts, ", ")
}

// RunOptions configure a trial-level repositioning run.
type RunOptions struct {
	PositionsFilename string
	VideoFilename     string
	Columns           table.Columns
	ROI               geometry.Region
	OutputVideo       bool
	Preview           bool
}

// Deps are the pluggable collaborators of Run.
type Deps struct {
	Open   func(path string) (video.Source, error)
	Oracle framesync.FrameNumberer
}

// Run repositions a positions table of t against a video and writes the
// result to estimations/repositions.csv, plus an annotated video when asked.
func Run(ctx context.Context, t *trial.Trial, opts RunOptions, deps Deps) (*Result, error) {
	if t.Transformer == nil || !t.Transformer.Fitted() {
		return nil, fmt.Errorf("trial %s: %w", t.Name, transform.ErrNotFitted)
	}
	positionsPath := t.Path(opts.PositionsFilename)
	videoPath := t.Path(opts.VideoFilename)
	for _, p := range []string{positionsPath, videoPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("required input %s: %w", p, err)
		}
	}
	if deps.Open == nil {
		deps.Open = video.OpenSource
	}

	positions, err := table.LoadPositions(positionsPath, opts.Columns)
	if err != nil {
		return nil, err
	}
	outDir, err := t.ResetDir(trial.EstimationsDir)
	if err != nil {
		return nil, err
	}

	src, err := deps.Open(videoPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var sinks []Sink
	defer func() {
		for _, s := range sinks {
			s.Close()
		}
	}()
	if opts.OutputVideo {
		fourcc, ext := video.Codec(videoPath)
		base := strings.TrimSuffix(filepath.Base(opts.VideoFilename), filepath.Ext(opts.VideoFilename))
		w, h := src.Size()
		vw, err := video.Create(filepath.Join(outDir, base+ext), fourcc, src.FPS(), w, h)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, vw)
	}
	if opts.Preview {
		sinks = append(sinks, NewPreview("Position Estimation"))
	}

	res, err := Apply(ctx, Options{
		Transformer: t.Transformer,
		Source:      src,
		Oracle:      deps.Oracle,
		ROI:         opts.ROI,
		Positions:   positions.Records,
		Sinks:       sinks,
	})
	if err != nil {
		return nil, err
	}

	outPath := filepath.Join(outDir, OutputFile)
	if err := table.WritePositions(outPath, positions.Header, res.Rows); err != nil {
		return nil, err
	}
	monitoring.Logf("[reposition] wrote %d of %d rows to %s (%d dropped)",
		len(res.Rows), len(positions.Records), outPath, res.Dropped)
	return res, nil
}

// Preview shows annotated frames in a highgui window.
type Preview struct {
	win *gocv.Window
}

// NewPreview opens a preview window.
func NewPreview(title string) *Preview {
	return &Preview{win: gocv.NewWindow(title)}
}

func (p *Preview) Write(img gocv.Mat) error {
	p.win.IMShow(img)
	p.win.WaitKey(1)
	return nil
}

func (p *Preview) Close() error {
	return p.win.Close()
}
