// Package calibrate runs the calibration pipeline for a trial: pair target
// records with video frames, locate the anchor in each, fit the transform
// and optionally write validation output.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"vr-screenmap/internal/detect"
	"vr-screenmap/internal/frame"
	"vr-screenmap/internal/framesync"
	"vr-screenmap/internal/monitoring"
	"vr-screenmap/internal/table"
	"vr-screenmap/internal/transform"
	"vr-screenmap/internal/trial"
	"vr-screenmap/internal/validate"
	"vr-screenmap/internal/video"
	"vr-screenmap/pkg/geometry"
)

// ErrMissingInput is returned when a required input file does not exist.
var ErrMissingInput = errors.New("missing input")

// TransformerName is the name given to fitted transformers.
const TransformerName = "transformer"

// Options configure one calibration run. File names are relative to the
// trial root; Anchor is used as given.
type Options struct {
	Anchor          string
	VideoFilename   string
	TargetsFilename string
	Columns         table.Columns

	Policy        framesync.Policy
	OffsetSeconds float64
	ROI           geometry.Region

	Detector detect.Params
	Validate bool
}

// Deps are the pluggable collaborators of a run.
type Deps struct {
	Open   func(path string) (video.Source, error)
	Oracle framesync.FrameNumberer
}

// Report summarizes a completed run.
type Report struct {
	CalibrationID string
	Sync          framesync.Stats
	Observations  int
	Residuals     []validate.Record
	ValidationDir string
}

// Run calibrates t and saves it. On success t.Transformer holds the fitted
// transform.
func Run(ctx context.Context, t *trial.Trial, opts Options, deps Deps) (*Report, error) {
	videoPath := t.Path(opts.VideoFilename)
	targetsPath := t.Path(opts.TargetsFilename)
	for _, in := range []struct{ what, path string }{
		{"anchor image", opts.Anchor},
		{"video", videoPath},
		{"targets table", targetsPath},
	} {
		if _, err := os.Stat(in.path); err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrMissingInput, in.what, in.path, err)
		}
	}
	if deps.Open == nil {
		deps.Open = video.OpenSource
	}

	targets, err := table.LoadTargets(targetsPath, opts.Columns)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("targets table %s has no target rows", targetsPath)
	}
	monitoring.Logf("[calibrate] %d target records from %s", len(targets), filepath.Base(targetsPath))

	anchor, err := detect.LoadAnchor(opts.Anchor)
	if err != nil {
		return nil, err
	}
	defer anchor.Close()
	detector, err := detect.NewDetector(anchor, opts.Detector)
	if err != nil {
		return nil, err
	}

	frames, stats, err := extractFrames(ctx, videoPath, opts, deps, targets)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, f := range frames {
			f.Close()
		}
	}()

	tr := transform.New(TransformerName)
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		boxes, c, err := detector.Locate(f.Image)
		if err != nil {
			return nil, fmt.Errorf("target %d (frame %d): %w", f.Calib.TargetID, f.Index, err)
		}
		f.SetDetections(boxes, c)
		monitoring.Logf("[calibrate] target %d at frame %d: %d detections, median %s, spread %.1fpx",
			f.Calib.TargetID, f.Index, c.Count, c.Median, c.Spread)
		tr.AddVRCoords(f.Calib.VR)
		tr.AddImgCoords(f.Calib.Img)
	}
	if err := tr.Fit(); err != nil {
		return nil, fmt.Errorf("failed to fit transform for trial %s: %w", t.Name, err)
	}

	report := &Report{Sync: stats, Observations: len(frames)}

	// Residuals are computed before Save compacts the observations.
	var records []validate.Record
	if opts.Validate {
		if records, err = validate.Residuals(tr, frames); err != nil {
			return nil, err
		}
	}

	t.Transformer = tr
	t.VideoFilename = opts.VideoFilename
	report.CalibrationID = t.NewCalibrationID()
	if err := t.Save(); err != nil {
		return nil, err
	}
	monitoring.Logf("[calibrate] trial %s saved (calibration %s, %d observations)", t.Name, report.CalibrationID, len(frames))

	if opts.Validate {
		dir, err := t.ResetDir(trial.CalibrationsDir)
		if err != nil {
			return nil, err
		}
		if err := (validate.Writer{Dir: dir}).Write(frames, records); err != nil {
			return nil, err
		}
		mean, worst := validate.Summary(records)
		monitoring.Logf("[calibrate] residuals: mean %.2fpx, max %.2fpx", mean, worst)
		report.Residuals = records
		report.ValidationDir = dir
	}
	return report, nil
}

// extractFrames synchronizes targets with the video and wraps each match as
// a calibration frame. The video is closed before returning.
func extractFrames(ctx context.Context, videoPath string, opts Options, deps Deps, targets []table.TargetRecord) ([]*frame.Frame, framesync.Stats, error) {
	src, err := deps.Open(videoPath)
	if err != nil {
		return nil, framesync.Stats{}, err
	}
	defer src.Close()

	res, err := framesync.Sync(ctx, opts.Policy, src, deps.Oracle, opts.ROI, opts.OffsetSeconds, targets)
	if err != nil {
		res.Close()
		return nil, res.Stats, fmt.Errorf("%s: %w", videoPath, err)
	}
	monitoring.Logf("[calibrate] %s sync: %d matched, %d unmatched, %d dropped, %d unrecognized of %d decoded",
		opts.Policy, len(res.Matches), res.Stats.Unmatched, res.Stats.Dropped, res.Stats.Unrecognized, res.Stats.Decoded)

	frames := make([]*frame.Frame, len(res.Matches))
	for i, m := range res.Matches {
		frames[i] = frame.NewCalibration(m.FrameIndex, m.Target.TargetID, m.Target.VR, m.Image)
	}
	return frames, res.Stats, nil
}
