// Package validate measures how well a fitted transform reproduces the
// observed calibration coordinates and writes diagnostic output.
package validate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"vr-screenmap/internal/frame"
	"vr-screenmap/internal/monitoring"
	"vr-screenmap/internal/table"
	"vr-screenmap/internal/transform"
	"vr-screenmap/pkg/colorutil"
	"vr-screenmap/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Output file names inside the validation directory.
const (
	ErrorsCSV   = "calibration_errors.csv"
	ErrorsChart = "calibration_errors.png"
)

// ErrNoCalibration is returned for frames without calibration metadata.
var ErrNoCalibration = errors.New("frame has no calibration data")

// Record is the residual for one calibration observation.
type Record struct {
	Frame    string
	TargetID int
	Estimate geometry.Point2D
	Observed geometry.Point2D
	Error    float64
}

// Residuals maps every frame's VR coordinate through t and measures the
// Euclidean distance to the observed image coordinate.
func Residuals(t *transform.Transformer, frames []*frame.Frame) ([]Record, error) {
	records := make([]Record, 0, len(frames))
	for _, f := range frames {
		if f.Calib == nil {
			return nil, fmt.Errorf("%s: %w", f.Name, ErrNoCalibration)
		}
		est, err := t.ScreenToFrame(f.Calib.VR)
		if err != nil {
			return nil, err
		}
		records = append(records, Record{
			Frame:    f.Name,
			TargetID: f.Calib.TargetID,
			Estimate: est,
			Observed: f.Calib.Img,
			Error:    est.Distance(f.Calib.Img),
		})
	}
	return records, nil
}

// Summary returns the mean and largest residual.
func Summary(records []Record) (mean, worst float64) {
	if len(records) == 0 {
		return 0, 0
	}
	errs := make([]float64, len(records))
	for i, r := range records {
		errs[i] = r.Error
		worst = max(worst, r.Error)
	}
	return stat.Mean(errs, nil), worst
}

// Annotate returns a copy of f's image with the detected coordinate
// (diamond), the raw VR coordinate (cross) and the estimate (tilted cross).
func Annotate(f *frame.Frame, r Record) gocv.Mat {
	out := f.Annotated()
	frame.DrawMarker(&out, r.Observed, colorutil.Detected, frame.MarkerDiamond, frame.DefaultMarkerSize)
	if f.Calib != nil {
		frame.DrawMarker(&out, f.Calib.VR, colorutil.VRInput, frame.MarkerCross, frame.DefaultMarkerSize)
	}
	frame.DrawMarker(&out, r.Estimate, colorutil.Estimated, frame.MarkerTiltedCross, frame.DefaultMarkerSize)
	return out
}

// Writer writes validation output into Dir.
type Writer struct {
	Dir string
}

// Write saves one annotated image per frame, the residual table and a
// residual chart. frames and records are paired by index.
func (w Writer) Write(frames []*frame.Frame, records []Record) error {
	if len(frames) != len(records) {
		return fmt.Errorf("%d frames vs %d residual records", len(frames), len(records))
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create validation directory: %w", err)
	}

	for i, f := range frames {
		img := Annotate(f, records[i])
		path := filepath.Join(w.Dir, f.Name+".jpg")
		ok := gocv.IMWrite(path, img)
		img.Close()
		if !ok {
			return fmt.Errorf("failed to write %s", path)
		}
	}

	if err := WriteCSV(filepath.Join(w.Dir, ErrorsCSV), records); err != nil {
		return err
	}
	if err := WriteChart(filepath.Join(w.Dir, ErrorsChart), records); err != nil {
		// The chart is diagnostic only.
		monitoring.Logf("[calibrate] residual chart: %v", err)
	}
	return nil
}

// WriteCSV writes one row per record: frame and error first.
func WriteCSV(path string, records []Record) error {
	hdr := []string{"frame", "error", "target_id", "est_x", "est_y", "img_x", "img_y"}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			r.Frame,
			table.FormatFloat(r.Error),
			strconv.Itoa(r.TargetID),
			table.FormatFloat(r.Estimate.X),
			table.FormatFloat(r.Estimate.Y),
			table.FormatFloat(r.Observed.X),
			table.FormatFloat(r.Observed.Y),
		}
	}
	return table.WriteRows(path, hdr, rows)
}

// WriteChart saves a bar chart of residuals per frame.
func WriteChart(path string, records []Record) error {
	if len(records) == 0 {
		return errors.New("no residuals to plot")
	}
	values := make(plotter.Values, len(records))
	names := make([]string, len(records))
	for i, r := range records {
		values[i] = r.Error
		names[i] = r.Frame
	}

	mean, worst := Summary(records)
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Calibration residuals (mean %.2fpx, max %.2fpx)", mean, worst)
	p.Y.Label.Text = "error (px)"
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return fmt.Errorf("failed to build bar chart: %w", err)
	}
	bars.Color = colorutil.Reposition
	p.Add(bars)
	p.NominalX(names...)

	width := vg.Length(len(records))*0.4*vg.Inch + 3*vg.Inch
	if err := p.Save(width, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
