// Package mds embeds a dissimilarity surface into low-dimensional
// coordinates. Classic MDS is the closed-form eigendecomposition of the
// double-centered Gram matrix; metric and nonmetric MDS run SMACOF
// stress majorization seeded by the classic solution.
package mds

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/diffuse/core/metric"
)

// Method selects the MDS variant.
type Method string

const (
	Classic   Method = "classic"
	MetricMDS Method = "metric"
	Nonmetric Method = "nonmetric"
)

const (
	// SMACOF iteration budget and relative-stress stopping threshold.
	defaultMaxIter = 3000
	defaultEps     = 1e-6
)

var (
	ErrInvalidMethod = errors.New("mds: unknown MDS method")
	ErrInvalidNDim   = errors.New("mds: n_components must be >= 1")
)

// Options configures one embedding run.
type Options struct {
	NDim   int
	Method Method
	Metric metric.Metric
	Jobs   int

	// Seed fixes the fallback random initialization used when the
	// classic seed is degenerate. Zero means time-based. Classic MDS
	// ignores it entirely; metric/nonmetric runs are deterministic
	// given the same seed.
	Seed int64
}

// Embed treats each row of the potential matrix as a feature vector,
// re-derives pairwise distances between rows under o.Metric, and embeds
// the resulting distance matrix. Output shape is n × o.NDim.
//
// Unsupported methods are rejected at configuration time by the
// pipeline; the guard here is a backstop for direct callers.
func Embed(pot *mat.Dense, o Options) (*mat.Dense, error) {
	if o.NDim < 1 {
		return nil, ErrInvalidNDim
	}
	switch o.Method {
	case Classic, MetricMDS, Nonmetric:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, string(o.Method))
	}

	D := metric.Pairwise(pot, o.Metric, o.Jobs)

	coords := classicMDS(D, o.NDim)
	if o.Method == Classic {
		return coords, nil
	}

	ensureUsableInit(coords, o.Seed)
	coords, _ = smacof(D, coords, defaultMaxIter, defaultEps, false)
	if o.Method == MetricMDS {
		return coords, nil
	}

	// Nonmetric is seeded with the metric solution.
	coords, _ = smacof(D, coords, defaultMaxIter, defaultEps, true)
	return coords, nil
}

// classicMDS double-centers the squared distance matrix,
// B = -½·J·D²·J, and reads coordinates off the top eigenpairs of B.
// Eigenvalues that are not positive contribute zero coordinates.
func classicMDS(D *mat.Dense, ndim int) *mat.Dense {
	n, _ := D.Dims()

	// Row, column and grand means of D².
	sq := make([]float64, n*n)
	rowMean := make([]float64, n)
	var grand float64
	for i := 0; i < n; i++ {
		row := D.RawRowView(i)
		var sum float64
		for j, d := range row {
			v := d * d
			sq[i*n+j] = v
			sum += v
		}
		rowMean[i] = sum / float64(n)
		grand += sum
	}
	grand /= float64(n * n)

	// D is symmetric, so column means equal row means.
	B := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			B.SetSym(i, j, -0.5*(sq[i*n+j]-rowMean[i]-rowMean[j]+grand))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(B, true); !ok {
		return mat.NewDense(n, ndim, nil)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// gonum returns eigenvalues in ascending order; take from the top.
	coords := mat.NewDense(n, ndim, nil)
	for k := 0; k < ndim; k++ {
		idx := n - 1 - k
		if idx < 0 || vals[idx] <= 0 {
			continue
		}
		scale := math.Sqrt(vals[idx])
		for i := 0; i < n; i++ {
			coords.Set(i, k, vecs.At(i, idx)*scale)
		}
	}
	return coords
}

// ensureUsableInit replaces an all-zero classic seed with small random
// coordinates so SMACOF has a gradient to follow.
func ensureUsableInit(coords *mat.Dense, seed int64) {
	n, d := coords.Dims()
	var norm float64
	for i := 0; i < n; i++ {
		row := coords.RawRowView(i)
		for _, v := range row {
			norm += v * v
		}
	}
	if norm > 0 {
		return
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			coords.Set(i, j, rng.NormFloat64()*1e-3)
		}
	}
}

// smacof minimizes stress by iterated Guttman transforms. With
// nonmetric set, target dissimilarities are replaced each iteration by
// monotone disparities fitted with pool-adjacent-violators regression.
// Returns the final coordinates and raw stress.
func smacof(D, init *mat.Dense, maxIter int, eps float64, nonmetric bool) (*mat.Dense, float64) {
	n, ndim := init.Dims()
	X := mat.DenseCopyOf(init)
	next := mat.NewDense(n, ndim, nil)
	dist := mat.NewDense(n, n, nil)
	B := mat.NewDense(n, n, nil)

	var iso *isotonic
	if nonmetric {
		iso = newIsotonic(D)
	}

	target := D
	prevStress := math.Inf(1)
	stress := prevStress

	for iter := 0; iter < maxIter; iter++ {
		currentDistances(X, dist)

		if nonmetric {
			target = iso.disparities(dist)
		}

		stress = rawStress(target, dist)
		if prevStress < math.Inf(1) && prevStress > 0 {
			if (prevStress-stress)/prevStress < eps {
				break
			}
		}
		prevStress = stress

		guttman(target, dist, B)
		next.Mul(B, X)
		next.Scale(1/float64(n), next)
		X, next = next, X
	}
	return X, stress
}

// currentDistances fills dst with Euclidean distances between rows of X.
func currentDistances(X, dst *mat.Dense) {
	n, _ := X.Dims()
	for i := 0; i < n; i++ {
		ri := X.RawRowView(i)
		dst.Set(i, i, 0)
		for j := i + 1; j < n; j++ {
			rj := X.RawRowView(j)
			var sum float64
			for k := range ri {
				diff := ri[k] - rj[k]
				sum += diff * diff
			}
			d := math.Sqrt(sum)
			dst.Set(i, j, d)
			dst.Set(j, i, d)
		}
	}
}

func rawStress(target, dist *mat.Dense) float64 {
	n, _ := target.Dims()
	var s float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			diff := target.At(i, j) - dist.At(i, j)
			s += diff * diff
		}
	}
	return s
}

// guttman builds the majorization matrix B(X) for the transform
// X ← (1/n)·B·X.
func guttman(target, dist, B *mat.Dense) {
	n, _ := target.Dims()
	for i := 0; i < n; i++ {
		var diag float64
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			var b float64
			if d := dist.At(i, j); d > 0 {
				b = -target.At(i, j) / d
			}
			B.Set(i, j, b)
			diag -= b
		}
		B.Set(i, i, diag)
	}
}
