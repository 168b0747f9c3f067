// Package vne selects the diffusion depth automatically: it traces the
// von Neumann entropy of the powered diffusion operator over increasing
// depths and picks the knee of that curve.
package vne

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultTMax is the default number of diffusion depths scanned.
const DefaultTMax = 100

var (
	ErrEmptyCurve  = errors.New("vne: entropy curve is empty")
	ErrInvalidTMax = errors.New("vne: t_max must be >= 1")
)

// Point is one sample of the entropy curve.
type Point struct {
	T int
	H float64
}

// Curve is the spectral entropy at depths t = 0 … tMax-1. For a
// well-formed row-stochastic operator H is non-increasing in t.
type Curve []Point

// Entropy computes the von Neumann entropy curve of P for depths
// 0 … tMax-1. The spectrum is obtained once from an SVD of P and then
// powered cumulatively: the singular values of Pᵗ are the t-th powers
// of those of P up to the operator's non-normality, which is the same
// shortcut the affinity literature uses. At each depth the powered
// spectrum is normalized to a probability vector p and
// H = -Σ p·log p, with the 0·log 0 = 0 convention handled by a
// machine-epsilon floor.
func Entropy(P *mat.Dense, tMax int) (Curve, error) {
	if tMax < 1 {
		return nil, ErrInvalidTMax
	}
	r, c := P.Dims()
	if r != c {
		return nil, errors.New("vne: diffusion operator must be square")
	}

	var svd mat.SVD
	if ok := svd.Factorize(P, mat.SVDNone); !ok {
		return nil, errors.New("vne: SVD of diffusion operator failed")
	}
	spectrum := svd.Values(nil)

	curve := make(Curve, 0, tMax)
	powered := make([]float64, len(spectrum))
	prob := make([]float64, len(spectrum))
	copy(powered, spectrum)

	for t := 0; t < tMax; t++ {
		var total float64
		for _, v := range powered {
			total += v
		}

		var h float64
		if total > 0 {
			for i, v := range powered {
				prob[i] = v/total + epsilon
				h -= prob[i] * math.Log(prob[i])
			}
		}
		curve = append(curve, Point{T: t, H: h})

		for i := range powered {
			powered[i] *= spectrum[i]
		}
	}
	return curve, nil
}

// epsilon floors normalized spectrum entries so that vanished
// eigenvalues contribute 0·log 0 = 0 instead of NaN.
var epsilon = math.Nextafter(1, 2) - 1

// KneePoint locates the knee of an entropy curve by discrete elbow
// detection: both axes are normalized to [0,1], a chord is drawn from
// the first to the last point, and the depth with maximum perpendicular
// distance from the curve to that chord wins. Ties break toward the
// smallest t. Degenerate (flat or single-point) curves return the first
// depth.
func KneePoint(curve Curve) (int, error) {
	if len(curve) == 0 {
		return 0, ErrEmptyCurve
	}
	if len(curve) < 3 {
		return curve[0].T, nil
	}

	first, last := curve[0], curve[len(curve)-1]
	tSpan := float64(last.T - first.T)
	hSpan := last.H - first.H
	if tSpan == 0 || hSpan == 0 {
		return first.T, nil
	}

	// Chord through the normalized endpoints (0,0) → (1,1); the
	// perpendicular distance to it is |x - y| / √2, so comparing x - y
	// directly preserves the argmax.
	bestT := first.T
	bestDist := math.Inf(-1)
	for _, p := range curve {
		x := float64(p.T-first.T) / tSpan
		y := (p.H - first.H) / hSpan
		if d := math.Abs(x - y); d > bestDist {
			bestDist = d
			bestT = p.T
		}
	}
	return bestT, nil
}

// OptimalT is the composition used by the pipeline: trace the entropy
// curve and return its knee.
func OptimalT(P *mat.Dense, tMax int) (int, Curve, error) {
	curve, err := Entropy(P, tMax)
	if err != nil {
		return 0, nil, err
	}
	t, err := KneePoint(curve)
	if err != nil {
		return 0, nil, err
	}
	return t, curve, nil
}
