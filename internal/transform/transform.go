// Package transform fits and applies the affine mapping from VR screen space
// to video pixel space.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"vr-screenmap/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// Errors returned by the fitter. They are wrapped with context, so compare
// with errors.Is.
var (
	ErrNoObservations  = errors.New("no observations")
	ErrCountMismatch   = errors.New("observation count mismatch")
	ErrUnderdetermined = errors.New("affine fit needs at least 3 observations")
	ErrNotFitted       = errors.New("transform has not been computed")
	ErrAlreadyFitted   = errors.New("transform already computed")
)

// MinObservations is the number of point pairs that determines an affine map.
const MinObservations = 3

// Transformer accumulates paired VR/image observations and holds the fitted
// 3x2 matrix M with [x' y'] = [x y 1] * M.
//
// Observations are append-only until Fit; after that the instance is
// immutable until Reset. A Transformer has a single writer.
type Transformer struct {
	Name      string
	VRCoords  []geometry.Point2D
	ImgCoords []geometry.Point2D

	matrix *[3][2]float64
}

// New creates an empty transformer.
func New(name string) *Transformer {
	return &Transformer{Name: name}
}

// FromMatrix creates a fitted transformer from persisted coefficients.
func FromMatrix(name string, m [3][2]float64) *Transformer {
	return &Transformer{Name: name, matrix: &m}
}

// AddVRCoords appends one VR screen-space observation. Callers pair it with
// the AddImgCoords call of the same index.
func (t *Transformer) AddVRCoords(p geometry.Point2D) {
	t.VRCoords = append(t.VRCoords, p)
}

// AddImgCoords appends one image-space observation.
func (t *Transformer) AddImgCoords(p geometry.Point2D) {
	t.ImgCoords = append(t.ImgCoords, p)
}

// Fitted reports whether coefficients are available.
func (t *Transformer) Fitted() bool {
	return t.matrix != nil
}

// Matrix returns a copy of the fitted coefficients.
func (t *Transformer) Matrix() ([3][2]float64, error) {
	if t.matrix == nil {
		return [3][2]float64{}, fmt.Errorf("%s: %w", t.Name, ErrNotFitted)
	}
	return *t.matrix, nil
}

// Reset clears observations and coefficients so the instance can be re-fit.
func (t *Transformer) Reset() {
	t.VRCoords = nil
	t.ImgCoords = nil
	t.matrix = nil
}

// Compact drops the observation lists, keeping only the coefficients.
func (t *Transformer) Compact() {
	t.VRCoords = nil
	t.ImgCoords = nil
}

// Fit solves the least-squares problem A*M ~= B where A is the N x 3
// homogeneous VR design matrix and B the N x 2 image coordinates.
//
// Rank-deficient input (collinear points) is not rejected: the SVD solve
// returns the minimum-norm solution, as numpy's lstsq does.
func (t *Transformer) Fit() error {
	if t.matrix != nil {
		return fmt.Errorf("%s: %w", t.Name, ErrAlreadyFitted)
	}
	n := len(t.VRCoords)
	if n == 0 || len(t.ImgCoords) == 0 {
		return fmt.Errorf("%s: %w (vr=%d, img=%d)", t.Name, ErrNoObservations, n, len(t.ImgCoords))
	}
	if n != len(t.ImgCoords) {
		return fmt.Errorf("%s: %w: %d vr coords vs %d img coords", t.Name, ErrCountMismatch, n, len(t.ImgCoords))
	}
	if n < MinObservations {
		return fmt.Errorf("%s: %w, got %d", t.Name, ErrUnderdetermined, n)
	}

	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		a.Set(i, 0, t.VRCoords[i].X)
		a.Set(i, 1, t.VRCoords[i].Y)
		a.Set(i, 2, 1)
		b.Set(i, 0, t.ImgCoords[i].X)
		b.Set(i, 1, t.ImgCoords[i].Y)
	}

	m, err := solveLeastSquares(a, b)
	if err != nil {
		return fmt.Errorf("%s: %w", t.Name, err)
	}
	t.matrix = &m
	return nil
}

// solveLeastSquares returns the minimum-norm least-squares solution using a
// thin SVD. Singular values below eps*max(rows, cols)*s_max are treated as
// zero, matching numpy's default rcond.
func solveLeastSquares(a, b *mat.Dense) ([3][2]float64, error) {
	var out [3][2]float64

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return out, errors.New("SVD factorization failed")
	}
	rows, cols := a.Dims()
	rcond := math.Nextafter(1, 2) - 1
	rcond *= float64(max(rows, cols))
	rank := svd.Rank(rcond)
	if rank == 0 {
		return out, errors.New("design matrix has rank 0")
	}

	var x mat.Dense
	svd.SolveTo(&x, b, rank)
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			out[i][j] = x.At(i, j)
		}
	}
	return out, nil
}

// ScreenToFrame maps a VR screen-space coordinate into video pixel space.
func (t *Transformer) ScreenToFrame(p geometry.Point2D) (geometry.Point2D, error) {
	if t.matrix == nil {
		return geometry.Point2D{}, fmt.Errorf("%s: %w", t.Name, ErrNotFitted)
	}
	m := t.matrix
	return geometry.Point2D{
		X: p.X*m[0][0] + p.Y*m[1][0] + m[2][0],
		Y: p.X*m[0][1] + p.Y*m[1][1] + m[2][1],
	}, nil
}

// record is the persisted form. transform is omitted until fitted.
type record struct {
	Name      string         `json:"name"`
	VRCoords  [][2]float64   `json:"vr_coords,omitempty"`
	ImgCoords [][2]float64   `json:"img_coords,omitempty"`
	Transform *[3][2]float64 `json:"transform,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t *Transformer) MarshalJSON() ([]byte, error) {
	r := record{Name: t.Name, Transform: t.matrix}
	for _, p := range t.VRCoords {
		r.VRCoords = append(r.VRCoords, p.Array())
	}
	for _, p := range t.ImgCoords {
		r.ImgCoords = append(r.ImgCoords, p.Array())
	}
	return json.Marshal(r)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Transformer) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	t.Reset()
	t.Name = r.Name
	for _, a := range r.VRCoords {
		t.VRCoords = append(t.VRCoords, geometry.FromArray(a))
	}
	for _, a := range r.ImgCoords {
		t.ImgCoords = append(t.ImgCoords, geometry.FromArray(a))
	}
	t.matrix = r.Transform
	return nil
}

// Save writes the transformer as indented JSON.
func (t *Transformer) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot serialize transform %s: %w", t.Name, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write transform %s: %w", path, err)
	}
	return nil
}

// Load reads a transformer saved with Save.
func Load(path string) (*Transformer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read transform: %w", err)
	}
	var t Transformer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("cannot parse transform %s: %w", path, err)
	}
	return &t, nil
}
