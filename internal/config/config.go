// Package config loads run configuration for calibration and repositioning.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"vr-screenmap/internal/detect"
	"vr-screenmap/internal/framesync"
	"vr-screenmap/internal/table"
	"vr-screenmap/pkg/geometry"
)

// Defaults for fields omitted from the config file.
const (
	DefaultAnchor          = "anchor.png"
	DefaultVideoFilename   = "calibration.mp4"
	DefaultTargetsFilename = "calibration.csv"
	DefaultTesseractLang   = "eng"
)

// Config is the run configuration. Every field is optional in the file; the
// Get* methods supply defaults. CLI flags override loaded values.
type Config struct {
	// Synchronization
	Policy        *string  `json:"policy,omitempty"` // "counter" or "offset"
	OffsetSeconds *float64 `json:"offset_seconds,omitempty"`
	ROI           *[4]int  `json:"roi,omitempty"` // x1, y1, x2, y2 of the frame counter

	// Inputs
	Anchor          *string `json:"anchor,omitempty"`
	VideoFilename   *string `json:"video_filename,omitempty"`
	TargetsFilename *string `json:"targets_filename,omitempty"`

	// Detector
	MinSize       *int     `json:"min_size,omitempty"`
	MaxSize       *int     `json:"max_size,omitempty"`
	DeltaSize     *int     `json:"delta_size,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
	ClusterRadius *float64 `json:"cluster_radius,omitempty"`

	// Table columns
	FrameColumn     *string  `json:"frame_column,omitempty"`
	TargetColumn    *string  `json:"target_column,omitempty"`
	EventColumn     *string  `json:"event_column,omitempty"`
	XColumn         *string  `json:"x_column,omitempty"`
	YColumn         *string  `json:"y_column,omitempty"`
	TimestampColumn *string  `json:"timestamp_column,omitempty"`
	TimestampScale  *float64 `json:"timestamp_scale,omitempty"`

	// Output
	WriteValidation *bool   `json:"validate,omitempty"`
	OutputVideo     *bool   `json:"output_video,omitempty"`
	Preview         *bool   `json:"preview,omitempty"`
	TesseractLang   *string `json:"tesseract_lang,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }

// Load reads a Config from a JSON file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and that the chosen policy has what it needs.
func (c *Config) Validate() error {
	if c.Policy != nil {
		p, err := framesync.ParsePolicy(*c.Policy)
		if err != nil {
			return err
		}
		if p == framesync.PolicyCounter && c.ROI != nil && c.GetROI().Empty() {
			return fmt.Errorf("roi %v has no area", *c.ROI)
		}
	}
	if err := c.DetectorParams().Validate(); err != nil {
		return err
	}
	if c.TimestampScale != nil && *c.TimestampScale <= 0 {
		return fmt.Errorf("timestamp_scale must be positive, got %g", *c.TimestampScale)
	}
	return nil
}

// SetPolicy overrides the sync policy.
func (c *Config) SetPolicy(s string) { c.Policy = ptrString(s) }

// SetOffsetSeconds overrides the clock offset.
func (c *Config) SetOffsetSeconds(v float64) { c.OffsetSeconds = ptrFloat64(v) }

// SetROI overrides the counter region.
func (c *Config) SetROI(r geometry.Region) {
	c.ROI = &[4]int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
}

// SetAnchor overrides the anchor path.
func (c *Config) SetAnchor(path string) { c.Anchor = ptrString(path) }

// SetThreshold overrides the detector threshold.
func (c *Config) SetThreshold(v float64) { c.Threshold = ptrFloat64(v) }

// SetClusterRadius overrides the single-marker radius.
func (c *Config) SetClusterRadius(v float64) { c.ClusterRadius = ptrFloat64(v) }

// SetSizes overrides the detector scale sweep.
func (c *Config) SetSizes(minSize, maxSize, deltaSize int) {
	c.MinSize, c.MaxSize, c.DeltaSize = ptrInt(minSize), ptrInt(maxSize), ptrInt(deltaSize)
}

// SetValidate overrides whether validation output is written.
func (c *Config) SetValidate(v bool) { c.WriteValidation = ptrBool(v) }

// SetOutputVideo overrides whether an annotated video is written.
func (c *Config) SetOutputVideo(v bool) { c.OutputVideo = ptrBool(v) }

// SetPreview overrides whether a live preview window is shown.
func (c *Config) SetPreview(v bool) { c.Preview = ptrBool(v) }

// GetPolicy parses the configured policy. A missing policy is an error.
func (c *Config) GetPolicy() (framesync.Policy, error) {
	if c.Policy == nil {
		return framesync.ParsePolicy("")
	}
	return framesync.ParsePolicy(*c.Policy)
}

// GetOffsetSeconds returns offset_seconds or 0.
func (c *Config) GetOffsetSeconds() float64 {
	if c.OffsetSeconds == nil {
		return 0
	}
	return *c.OffsetSeconds
}

// HasROI reports whether a counter region is configured.
func (c *Config) HasROI() bool {
	return c.ROI != nil
}

// GetROI returns the normalized counter region, or an empty region.
func (c *Config) GetROI() geometry.Region {
	if c.ROI == nil {
		return geometry.Region{}
	}
	r := *c.ROI
	return geometry.NewRegion(geometry.PointInt{X: r[0], Y: r[1]}, geometry.PointInt{X: r[2], Y: r[3]})
}

// GetAnchor returns the anchor path or DefaultAnchor.
func (c *Config) GetAnchor() string {
	if c.Anchor == nil || *c.Anchor == "" {
		return DefaultAnchor
	}
	return *c.Anchor
}

// GetVideoFilename returns video_filename or DefaultVideoFilename.
func (c *Config) GetVideoFilename() string {
	if c.VideoFilename == nil || *c.VideoFilename == "" {
		return DefaultVideoFilename
	}
	return *c.VideoFilename
}

// GetTargetsFilename returns targets_filename or DefaultTargetsFilename.
func (c *Config) GetTargetsFilename() string {
	if c.TargetsFilename == nil || *c.TargetsFilename == "" {
		return DefaultTargetsFilename
	}
	return *c.TargetsFilename
}

// DetectorParams returns the detector sweep with defaults filled in.
func (c *Config) DetectorParams() detect.Params {
	p := detect.DefaultParams()
	if c.MinSize != nil {
		p.MinSize = *c.MinSize
	}
	if c.MaxSize != nil {
		p.MaxSize = *c.MaxSize
	}
	if c.DeltaSize != nil {
		p.DeltaSize = *c.DeltaSize
	}
	if c.Threshold != nil {
		p.Threshold = *c.Threshold
	}
	if c.ClusterRadius != nil {
		p.ClusterRadius = *c.ClusterRadius
	}
	return p
}

// Columns returns the configured table column names. Unset names fall back
// to the table defaults.
func (c *Config) Columns() table.Columns {
	var cols table.Columns
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cols.Frame, c.FrameColumn)
	set(&cols.Target, c.TargetColumn)
	set(&cols.Event, c.EventColumn)
	set(&cols.X, c.XColumn)
	set(&cols.Y, c.YColumn)
	set(&cols.Timestamp, c.TimestampColumn)
	if c.TimestampScale != nil {
		cols.TimestampScale = *c.TimestampScale
	}
	return cols
}

// GetValidate returns validate or true.
func (c *Config) GetValidate() bool {
	if c.WriteValidation == nil {
		return true
	}
	return *c.WriteValidation
}

// GetOutputVideo returns output_video or false.
func (c *Config) GetOutputVideo() bool {
	if c.OutputVideo == nil {
		return false
	}
	return *c.OutputVideo
}

// GetPreview returns preview or false.
func (c *Config) GetPreview() bool {
	if c.Preview == nil {
		return false
	}
	return *c.Preview
}

// GetTesseractLang returns tesseract_lang or DefaultTesseractLang.
func (c *Config) GetTesseractLang() string {
	if c.TesseractLang == nil || *c.TesseractLang == "" {
		return DefaultTesseractLang
	}
	return *c.TesseractLang
}
