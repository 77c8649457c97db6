// Package trial provides trial directory handling and persistence.
package trial

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vr-screenmap/internal/transform"
	"vr-screenmap/internal/version"

	"github.com/google/uuid"
)

// FileName is the persisted trial record inside the trial directory.
const FileName = "trial.json"

// Output directories created under the trial root.
const (
	CalibrationsDir = "calibrations"
	EstimationsDir  = "estimations"
)

// Trial is one recording session: a directory holding the video, the event
// tables and, after calibration, the fitted transform.
type Trial struct {
	RootDir       string                 `json:"-"`
	Name          string                 `json:"trial_name"`
	VideoFilename string                 `json:"video_filename,omitempty"`
	CalibrationID string                 `json:"calibration_id,omitempty"`
	Version       string                 `json:"version,omitempty"`
	Created       time.Time              `json:"created"`
	Modified      time.Time              `json:"modified"`
	Transformer   *transform.Transformer `json:"transform,omitempty"`
}

// New creates a trial rooted at rootDir.
func New(rootDir, name, videoFilename string) *Trial {
	now := time.Now()
	return &Trial{
		RootDir:       rootDir,
		Name:          name,
		VideoFilename: videoFilename,
		Created:       now,
		Modified:      now,
	}
}

// Path resolves rel against the trial root. Absolute paths are returned as-is.
func (t *Trial) Path(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(t.RootDir, rel)
}

// NewCalibrationID stamps a fresh run id and returns it.
func (t *Trial) NewCalibrationID() string {
	t.CalibrationID = uuid.NewString()
	return t.CalibrationID
}

// Save writes the trial record to FileName under the root. A fitted
// transformer is stored without its observation lists.
func (t *Trial) Save() error {
	t.Modified = time.Now()
	t.Version = version.Version
	if t.Transformer != nil && t.Transformer.Fitted() {
		t.Transformer.Compact()
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trial %s: %w", t.Name, err)
	}
	path := t.Path(FileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trial %s: %w", path, err)
	}
	return nil
}

// Load reads a trial record from rootDir. An empty filename means FileName.
func Load(rootDir, filename string) (*Trial, error) {
	if filename == "" {
		filename = FileName
	}
	path := filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootDir, filename)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trial %s: %w", path, err)
	}

	var t Trial
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse trial %s: %w", path, err)
	}
	t.RootDir = rootDir
	return &t, nil
}

// ResetDir deletes and recreates an output directory under the root.
func (t *Trial) ResetDir(rel string) (string, error) {
	dir := t.Path(rel)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}
