package transform

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"vr-screenmap/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// knownAffine is x' = 1.5x - 0.2y + 40, y' = 0.1x + 2y - 12.
func knownAffine(p geometry.Point2D) geometry.Point2D {
	return geometry.Point2D{
		X: 1.5*p.X - 0.2*p.Y + 40,
		Y: 0.1*p.X + 2*p.Y - 12,
	}
}

func fitted(t *testing.T, vr []geometry.Point2D, f func(geometry.Point2D) geometry.Point2D) *Transformer {
	t.Helper()
	tr := New("transformer")
	for _, p := range vr {
		tr.AddVRCoords(p)
		tr.AddImgCoords(f(p))
	}
	require.NoError(t, tr.Fit())
	return tr
}

var calibrationPoints = []geometry.Point2D{
	{X: 0.5, Y: 0.5},
	{X: 0.1, Y: 0.1},
	{X: 0.9, Y: 0.1},
	{X: 0.1, Y: 0.9},
	{X: 0.9, Y: 0.9},
}

func TestFitRecoversKnownAffine(t *testing.T) {
	tr := fitted(t, calibrationPoints, knownAffine)

	m, err := tr.Matrix()
	require.NoError(t, err)
	want := [3][2]float64{{1.5, 0.1}, {-0.2, 2}, {40, -12}}
	for i := range want {
		for j := range want[i] {
			assert.InDelta(t, want[i][j], m[i][j], 1e-9, "m[%d][%d]", i, j)
		}
	}

	for _, p := range calibrationPoints {
		got, err := tr.ScreenToFrame(p)
		require.NoError(t, err)
		assert.InDelta(t, 0, got.Distance(knownAffine(p)), 1e-9)
	}
	// Off the training set too.
	got, err := tr.ScreenToFrame(geometry.Point2D{X: 3, Y: -7})
	require.NoError(t, err)
	assert.InDelta(t, 0, got.Distance(knownAffine(geometry.Point2D{X: 3, Y: -7})), 1e-9)
}

func TestFitExactlyThreePoints(t *testing.T) {
	pts := []geometry.Point2D{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 0, Y: 50}}
	tr := fitted(t, pts, knownAffine)
	got, err := tr.ScreenToFrame(geometry.Point2D{X: 100, Y: 50})
	require.NoError(t, err)
	assert.InDelta(t, 0, got.Distance(knownAffine(geometry.Point2D{X: 100, Y: 50})), 1e-8)
}

func TestFitPreconditions(t *testing.T) {
	t.Run("no observations", func(t *testing.T) {
		tr := New("empty")
		err := tr.Fit()
		require.ErrorIs(t, err, ErrNoObservations)
		assert.False(t, tr.Fitted())
		_, err = tr.ScreenToFrame(geometry.Point2D{})
		assert.ErrorIs(t, err, ErrNotFitted)
	})

	t.Run("fewer than three", func(t *testing.T) {
		tr := New("two")
		for _, p := range calibrationPoints[:2] {
			tr.AddVRCoords(p)
			tr.AddImgCoords(knownAffine(p))
		}
		require.ErrorIs(t, tr.Fit(), ErrUnderdetermined)
		_, err := tr.ScreenToFrame(geometry.Point2D{X: 1, Y: 1})
		assert.ErrorIs(t, err, ErrNotFitted)
	})

	t.Run("mismatched pairing", func(t *testing.T) {
		tr := New("mismatch")
		for _, p := range calibrationPoints[:3] {
			tr.AddVRCoords(p)
		}
		for _, p := range calibrationPoints[:2] {
			tr.AddImgCoords(knownAffine(p))
		}
		err := tr.Fit()
		require.ErrorIs(t, err, ErrCountMismatch)
		assert.Contains(t, err.Error(), "3 vr coords vs 2 img coords")
		assert.False(t, tr.Fitted())
	})

	t.Run("refit requires reset", func(t *testing.T) {
		tr := fitted(t, calibrationPoints, knownAffine)
		require.ErrorIs(t, tr.Fit(), ErrAlreadyFitted)
		tr.Reset()
		assert.False(t, tr.Fitted())
		assert.Empty(t, tr.VRCoords)
	})
}

func TestFitCollinearIsFailSoft(t *testing.T) {
	// All points on y = x: the design matrix has rank 2.
	pts := []geometry.Point2D{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	tr := New("collinear")
	for _, p := range pts {
		tr.AddVRCoords(p)
		tr.AddImgCoords(knownAffine(p))
	}
	require.NoError(t, tr.Fit())

	// Points on the line are still reproduced.
	for _, p := range pts {
		got, err := tr.ScreenToFrame(p)
		require.NoError(t, err)
		assert.InDelta(t, 0, got.Distance(knownAffine(p)), 1e-8)
	}

	// Minimum norm: the x and y weights are split evenly along the line.
	m, err := tr.Matrix()
	require.NoError(t, err)
	assert.InDelta(t, m[0][0], m[1][0], 1e-9)
	assert.InDelta(t, m[0][1], m[1][1], 1e-9)
}

func TestJSONRoundTripIsExact(t *testing.T) {
	tr := fitted(t, calibrationPoints, knownAffine)
	path := filepath.Join(t.TempDir(), "transformer.json")
	require.NoError(t, tr.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "transformer", loaded.Name)
	assert.Equal(t, tr.VRCoords, loaded.VRCoords)
	assert.Equal(t, tr.ImgCoords, loaded.ImgCoords)

	want, _ := tr.Matrix()
	got, err := loaded.Matrix()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	for _, p := range []geometry.Point2D{{X: 0.123456789, Y: 0.987654321}, {X: -4, Y: 1e6}} {
		a, _ := tr.ScreenToFrame(p)
		b, _ := loaded.ScreenToFrame(p)
		assert.Equal(t, a, b)
	}
}

func TestCompactKeepsCoefficientsOnly(t *testing.T) {
	tr := fitted(t, calibrationPoints, knownAffine)
	tr.Compact()

	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "transform")
	assert.NotContains(t, raw, "vr_coords")
	assert.NotContains(t, raw, "img_coords")

	var back Transformer
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Fitted())
}

func TestUnfittedRecordOmitsTransform(t *testing.T) {
	tr := New("pending")
	tr.AddVRCoords(geometry.Point2D{X: 1, Y: 2})
	tr.AddImgCoords(geometry.Point2D{X: 3, Y: 4})

	data, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"pending","vr_coords":[[1,2]],"img_coords":[[3,4]]}`, string(data))
}

func TestFromMatrix(t *testing.T) {
	tr := FromMatrix("persisted", [3][2]float64{{2, 0}, {0, 3}, {10, 20}})
	got, err := tr.ScreenToFrame(geometry.Point2D{X: 1, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, geometry.Point2D{X: 12, Y: 23}, got)
}
