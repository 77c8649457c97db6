package config

import (
	"os"
	"path/filepath"
	"testing"

	"vr-screenmap/internal/detect"
	"vr-screenmap/internal/framesync"
	"vr-screenmap/internal/table"
	"vr-screenmap/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	_, err := cfg.GetPolicy()
	assert.Error(t, err, "policy must be chosen explicitly")
	assert.Equal(t, detect.DefaultParams(), cfg.DetectorParams())
	assert.Equal(t, table.Columns{}, cfg.Columns())
	assert.Equal(t, DefaultAnchor, cfg.GetAnchor())
	assert.Equal(t, DefaultVideoFilename, cfg.GetVideoFilename())
	assert.Equal(t, DefaultTargetsFilename, cfg.GetTargetsFilename())
	assert.Equal(t, DefaultTesseractLang, cfg.GetTesseractLang())
	assert.True(t, cfg.GetValidate())
	assert.False(t, cfg.GetOutputVideo())
	assert.False(t, cfg.GetPreview())
	assert.False(t, cfg.HasROI())
	assert.True(t, cfg.GetROI().Empty())
	assert.Zero(t, cfg.GetOffsetSeconds())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "run.json", `{
		"policy": "counter",
		"roi": [120, 40, 20, 10],
		"anchor": "markers/anchor.png",
		"min_size": 16,
		"threshold": 0.85,
		"cluster_radius": 25,
		"timestamp_column": "unix_ms",
		"timestamp_scale": 0.001,
		"validate": false
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	policy, err := cfg.GetPolicy()
	require.NoError(t, err)
	assert.Equal(t, framesync.PolicyCounter, policy)
	assert.Equal(t, geometry.Region{Min: geometry.PointInt{X: 20, Y: 10}, Max: geometry.PointInt{X: 120, Y: 40}}, cfg.GetROI())
	assert.Equal(t, "markers/anchor.png", cfg.GetAnchor())

	p := cfg.DetectorParams()
	assert.Equal(t, 16, p.MinSize)
	assert.Equal(t, detect.DefaultMaxSize, p.MaxSize)
	assert.Equal(t, 0.85, p.Threshold)
	assert.Equal(t, 25.0, p.ClusterRadius)

	cols := cfg.Columns()
	assert.Equal(t, "unix_ms", cols.Timestamp)
	assert.Equal(t, 0.001, cols.TimestampScale)
	assert.False(t, cfg.GetValidate())
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"unknown policy":   `{"policy": "ocr"}`,
		"empty roi":        `{"policy": "counter", "roi": [5, 5, 5, 30]}`,
		"bad sweep":        `{"min_size": 60}`,
		"bad threshold":    `{"threshold": 1.5}`,
		"bad scale":        `{"timestamp_scale": 0}`,
		"malformed json":   `{"policy": `,
		"negative cluster": `{"cluster_radius": -3}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "run.json", body))
			assert.Error(t, err)
		})
	}

	_, err := Load(writeConfig(t, "run.yaml", `{}`))
	assert.ErrorContains(t, err, ".json")
}

func TestOverrides(t *testing.T) {
	cfg := &Config{}
	cfg.SetPolicy("offset")
	cfg.SetOffsetSeconds(-0.25)
	cfg.SetROI(geometry.NewRegion(geometry.PointInt{X: 1, Y: 2}, geometry.PointInt{X: 30, Y: 40}))
	cfg.SetSizes(12, 30, 3)
	cfg.SetThreshold(0.8)
	cfg.SetClusterRadius(10)
	cfg.SetAnchor("a.png")
	cfg.SetValidate(false)
	cfg.SetOutputVideo(true)
	cfg.SetPreview(true)
	require.NoError(t, cfg.Validate())

	policy, err := cfg.GetPolicy()
	require.NoError(t, err)
	assert.Equal(t, framesync.PolicyOffset, policy)
	assert.Equal(t, -0.25, cfg.GetOffsetSeconds())
	assert.Equal(t, [4]int{1, 2, 30, 40}, *cfg.ROI)
	assert.Equal(t, detect.Params{MinSize: 12, MaxSize: 30, DeltaSize: 3, Threshold: 0.8, ClusterRadius: 10}, cfg.DetectorParams())
	assert.Equal(t, "a.png", cfg.GetAnchor())
	assert.False(t, cfg.GetValidate())
	assert.True(t, cfg.GetOutputVideo())
	assert.True(t, cfg.GetPreview())
}
