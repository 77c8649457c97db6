// Package table loads the targets and positions CSV tables and writes the
// tabular outputs of a run.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"vr-screenmap/pkg/geometry"
)

// ErrMissingColumn is returned when a required column is absent from a header.
var ErrMissingColumn = errors.New("missing column")

// Default column names, as written by the VR recorder.
const (
	DefaultFrameColumn  = "frame"
	DefaultTargetColumn = "target_number"
	DefaultEventColumn  = "event"
	DefaultXColumn      = "left_screen_pos_x"
	DefaultYColumn      = "left_screen_pos_y"
	DefaultTimeColumn   = "timestamp"

	VideoXColumn = "video_x"
	VideoYColumn = "video_y"
)

// Columns names the CSV columns the loaders read. Zero values fall back to
// the defaults above.
type Columns struct {
	Frame     string
	Target    string
	Event     string
	X         string
	Y         string
	Timestamp string

	// TimestampScale converts the timestamp column to seconds (0.001 for
	// millisecond columns). Zero means 1.
	TimestampScale float64
}

func (c Columns) withDefaults() Columns {
	if c.Frame == "" {
		c.Frame = DefaultFrameColumn
	}
	if c.Target == "" {
		c.Target = DefaultTargetColumn
	}
	if c.Event == "" {
		c.Event = DefaultEventColumn
	}
	if c.X == "" {
		c.X = DefaultXColumn
	}
	if c.Y == "" {
		c.Y = DefaultYColumn
	}
	if c.Timestamp == "" {
		c.Timestamp = DefaultTimeColumn
	}
	if c.TimestampScale == 0 {
		c.TimestampScale = 1
	}
	return c
}

// TargetRecord is one calibration event: a marker shown at a known VR
// screen position, keyed by frame number and/or timestamp.
type TargetRecord struct {
	TargetID     int
	VR           geometry.Point2D
	Frame        int
	HasFrame     bool
	Timestamp    float64 // seconds
	HasTimestamp bool
}

// PositionRecord is one row of a positions time series. Fields holds the
// original cells so the output keeps every input column.
type PositionRecord struct {
	Row    int
	Frame  int
	VR     geometry.Point2D
	Fields []string

	Video geometry.Point2D
}

// skippedEvents are marker rows written around a calibration sequence.
var skippedEvents = map[string]bool{"Start": true, "End": true}

type header map[string]int

func readHeader(r *csv.Reader, source string) (header, []string, error) {
	names, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: cannot read header: %w", source, err)
	}
	h := make(header, len(names))
	for i, n := range names {
		h[strings.TrimSpace(n)] = i
	}
	return h, names, nil
}

func (h header) require(source string, names ...string) error {
	for _, n := range names {
		if _, ok := h[n]; !ok {
			return fmt.Errorf("%s: %w %q", source, ErrMissingColumn, n)
		}
	}
	return nil
}

func (h header) has(name string) bool {
	_, ok := h[name]
	return ok
}

func (h header) get(row []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseInt accepts integer cells written as floats ("12.0"), as pandas
// casts them.
func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int(f), nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// LoadTargets reads a targets/events table. Rows whose event column is
// Start or End are excluded. At least one of the frame and timestamp
// columns must be present.
func LoadTargets(path string, cols Columns) ([]TargetRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open targets table: %w", err)
	}
	defer f.Close()
	return ReadTargets(f, path, cols)
}

// ReadTargets is LoadTargets over an arbitrary reader; source names it in errors.
func ReadTargets(in io.Reader, source string, cols Columns) ([]TargetRecord, error) {
	cols = cols.withDefaults()
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	h, _, err := readHeader(r, source)
	if err != nil {
		return nil, err
	}
	if err := h.require(source, cols.Target, cols.X, cols.Y); err != nil {
		return nil, err
	}
	hasFrame, hasTime := h.has(cols.Frame), h.has(cols.Timestamp)
	if !hasFrame && !hasTime {
		return nil, fmt.Errorf("%s: %w: need %q or %q", source, ErrMissingColumn, cols.Frame, cols.Timestamp)
	}

	var out []TargetRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", source, line, err)
		}
		if skippedEvents[h.get(row, cols.Event)] {
			continue
		}

		rec := TargetRecord{}
		if rec.TargetID, err = parseInt(h.get(row, cols.Target)); err != nil {
			return nil, fmt.Errorf("%s:%d: %s: %w", source, line, cols.Target, err)
		}
		if rec.VR.X, err = parseFloat(h.get(row, cols.X)); err != nil {
			return nil, fmt.Errorf("%s:%d: %s: %w", source, line, cols.X, err)
		}
		if rec.VR.Y, err = parseFloat(h.get(row, cols.Y)); err != nil {
			return nil, fmt.Errorf("%s:%d: %s: %w", source, line, cols.Y, err)
		}
		if hasFrame {
			if v := h.get(row, cols.Frame); v != "" {
				if rec.Frame, err = parseInt(v); err != nil {
					return nil, fmt.Errorf("%s:%d: %s: %w", source, line, cols.Frame, err)
				}
				rec.HasFrame = true
			}
		}
		if hasTime {
			if v := h.get(row, cols.Timestamp); v != "" {
				ts, err := parseFloat(v)
				if err != nil {
					return nil, fmt.Errorf("%s:%d: %s: %w", source, line, cols.Timestamp, err)
				}
				rec.Timestamp = ts * cols.TimestampScale
				rec.HasTimestamp = true
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Positions is a loaded positions table.
type Positions struct {
	Header  []string
	Records []PositionRecord
}

// LoadPositions reads a positions table. The frame column must be castable
// to an integer.
func LoadPositions(path string, cols Columns) (*Positions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open positions table: %w", err)
	}
	defer f.Close()
	return ReadPositions(f, path, cols)
}

// ReadPositions is LoadPositions over an arbitrary reader.
func ReadPositions(in io.Reader, source string, cols Columns) (*Positions, error) {
	cols = cols.withDefaults()
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	h, names, err := readHeader(r, source)
	if err != nil {
		return nil, err
	}
	if err := h.require(source, cols.Frame, cols.X, cols.Y); err != nil {
		return nil, err
	}

	p := &Positions{Header: names}
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", source, line, err)
		}
		rec := PositionRecord{Row: line - 2, Fields: row}
		if rec.Frame, err = parseInt(h.get(row, cols.Frame)); err != nil {
			return nil, fmt.Errorf("%s:%d: %s: %w", source, line, cols.Frame, err)
		}
		if rec.VR.X, err = parseFloat(h.get(row, cols.X)); err != nil {
			return nil, fmt.Errorf("%s:%d: %s: %w", source, line, cols.X, err)
		}
		if rec.VR.Y, err = parseFloat(h.get(row, cols.Y)); err != nil {
			return nil, fmt.Errorf("%s:%d: %s: %w", source, line, cols.Y, err)
		}
		p.Records = append(p.Records, rec)
	}
	return p, nil
}

// WritePositions writes repositioned rows with video_x and video_y appended
// to the original columns.
func WritePositions(path string, hdr []string, rows []PositionRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	out := append(append([]string{}, hdr...), VideoXColumn, VideoYColumn)
	if err := w.Write(out); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	for _, r := range rows {
		line := append(append([]string{}, r.Fields...),
			FormatFloat(r.Video.X), FormatFloat(r.Video.Y))
		if err := w.Write(line); err != nil {
			return fmt.Errorf("cannot write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return f.Close()
}

// WriteRows writes a header and pre-formatted rows.
func WriteRows(path string, hdr []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(hdr); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return f.Close()
}

// FormatFloat formats a value the way the CSV writers do.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
