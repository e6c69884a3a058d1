package geo

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tabletrack/tracker/pkg/core"
)

var (
	// ErrDegenerate means the reference points cannot anchor a perspective
	// transform: collinear, coincident, or non-convex.
	ErrDegenerate = errors.New("geo: degenerate reference points")

	// ErrUninvertible means the forward transform exists but cannot be
	// inverted for surface-to-pixel lookups.
	ErrUninvertible = errors.New("geo: uninvertible transform")
)

// Mapper converts between camera pixel coordinates and the rectified
// surface rectangle via a perspective (projective) transform. A Mapper is
// immutable once built; recalibration builds a new one.
type Mapper struct {
	fwd [9]float64 // row-major 3x3, pixel -> surface
	inv [9]float64 // surface -> pixel
	w   float64
	h   float64
}

// NewMapper solves the perspective transform taking the four pixel-space
// reference points, in TL, TR, BR, BL order, onto the corners of a
// width x height surface rectangle. The reference points must form a
// strictly convex quadrilateral.
func NewMapper(ref [4]core.PixelPoint, width, height float64) (*Mapper, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrDegenerate
	}
	if !IsConvex(core.Quad(ref)) {
		return nil, ErrDegenerate
	}

	dst := [4]core.SurfacePoint{
		{X: 0, Y: 0},
		{X: width, Y: 0},
		{X: width, Y: height},
		{X: 0, Y: height},
	}

	// Each correspondence contributes two rows of the standard 8x8 DLT
	// system for a homography with h33 fixed to 1.
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := ref[i].X, ref[i].Y
		u, v := dst[i].X, dst[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return nil, ErrDegenerate
	}

	m := &Mapper{w: width, h: height}
	for i := 0; i < 8; i++ {
		m.fwd[i] = h.AtVec(i)
	}
	m.fwd[8] = 1

	fwd := mat.NewDense(3, 3, m.fwd[:])
	var inv mat.Dense
	if err := inv.Inverse(fwd); err != nil {
		return nil, ErrUninvertible
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.inv[3*i+j] = inv.At(i, j)
		}
	}
	return m, nil
}

// SurfaceSize returns the target rectangle dimensions the mapper was
// built for.
func (m *Mapper) SurfaceSize() (width, height float64) {
	return m.w, m.h
}

func apply(h *[9]float64, x, y float64) (float64, float64, float64) {
	den := h[6]*x + h[7]*y + h[8]
	return (h[0]*x + h[1]*y + h[2]) / den,
		(h[3]*x + h[4]*y + h[5]) / den,
		den
}

// ToSurface maps a camera pixel to surface coordinates. Points inside the
// reference quad land inside the surface rectangle; points outside map
// outside it without clamping.
func (m *Mapper) ToSurface(p core.PixelPoint) core.SurfacePoint {
	x, y, _ := apply(&m.fwd, p.X, p.Y)
	return core.SurfacePoint{X: x, Y: y}
}

// ToPixel maps a surface coordinate back to camera pixels. It fails with
// ErrUninvertible for points on the transform's horizon line, where the
// projective denominator vanishes.
func (m *Mapper) ToPixel(p core.SurfacePoint) (core.PixelPoint, error) {
	x, y, den := apply(&m.inv, p.X, p.Y)
	if math.Abs(den) < 1e-12 || math.IsInf(x, 0) || math.IsInf(y, 0) || math.IsNaN(x) || math.IsNaN(y) {
		return core.PixelPoint{}, ErrUninvertible
	}
	return core.PixelPoint{X: x, Y: y}, nil
}
