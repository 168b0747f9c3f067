// Package graph builds the neighborhood graph and its row-stochastic
// diffusion operator: adaptive-bandwidth alpha-decay kernels over kNN
// distances, optional PCA reduction, landmark reduction for large
// sample counts, and out-of-sample extension back onto the fitted
// graph.
package graph

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/diffuse/core/metric"
)

// DefaultThresh zeroes kernel entries below this value, keeping the
// kernel effectively sparse without a sparse representation.
const DefaultThresh = 1e-4

var (
	// ErrNotExtendable is returned when extension to new samples is
	// requested on a graph built from a precomputed pairwise matrix.
	ErrNotExtendable = errors.New("graph: precomputed graphs cannot extend to new data")

	// ErrRebuildRequired signals that an in-place parameter update is
	// incompatible with the existing graph structure and the caller
	// must rebuild.
	ErrRebuildRequired = errors.New("graph: parameter change requires rebuilding the graph")

	ErrNotSquare    = errors.New("graph: precomputed input must be a square matrix")
	ErrTooFewPoints = errors.New("graph: need more samples than neighbors")
)

// Options configures graph construction. KNN counts the point itself,
// so callers building a k-neighbor kernel pass k+1.
type Options struct {
	Metric    metric.Metric
	KNN       int
	Decay     *int // nil disables the alpha-decay kernel
	NPCA      *int // nil disables PCA reduction
	NLandmark *int // nil disables landmark reduction
	Thresh    float64
	Jobs      int
	Seed      int64
	Verbose   int
}

// Graph is the fitted neighborhood graph. It is immutable after Build
// apart from the cross-cutting options SetOptions may update; the
// matrices it exposes must not be modified by callers.
type Graph struct {
	opts Options
	n    int

	// Working feature matrix after optional PCA. Nil for precomputed
	// input, which has no feature space to extend from.
	data *mat.Dense
	pca  *pcaProjection

	// Per-sample adaptive bandwidths (decay kernel only).
	bandwidth []float64

	kernel *mat.Dense // n×n symmetrized affinity
	diffOp *mat.Dense // row-stochastic; landmark operator when reduced

	// Landmark state, nil for flat graphs.
	clusters []int
	pnm      *mat.Dense // n×m sample→landmark transitions
}

// Build constructs the graph. With Metric == Precomputed the input is
// interpreted as a pairwise matrix: a zero upper-left entry marks a
// distance matrix, anything else an affinity matrix, mirroring how the
// fitted data is classified upstream.
func Build(X *mat.Dense, opts Options) (*Graph, error) {
	if opts.KNN < 1 {
		return nil, fmt.Errorf("graph: KNN must be >= 1, got %d", opts.KNN)
	}
	if opts.Thresh == 0 {
		opts.Thresh = DefaultThresh
	}

	n, cols := X.Dims()
	if n <= opts.KNN {
		return nil, fmt.Errorf("%w: %d samples, %d neighbors", ErrTooFewPoints, n, opts.KNN)
	}

	g := &Graph{opts: opts, n: n}

	var dist *mat.Dense
	switch {
	case opts.Metric == metric.Precomputed:
		if n != cols {
			return nil, ErrNotSquare
		}
		if X.At(0, 0) != 0 {
			// Affinity matrix: use directly as the kernel.
			g.kernel = symmetrize(mat.DenseCopyOf(X))
		} else {
			dist = X
		}
	default:
		g.data = X
		if p := fitPCA(X, opts.NPCA); p != nil {
			g.pca = p
			g.data = p.project(X)
		}
		dist = metric.Pairwise(g.data, opts.Metric, opts.Jobs)
	}

	if g.kernel == nil {
		kern, bw := kernelFromDistances(dist, opts)
		g.kernel = kern
		g.bandwidth = bw
	}

	g.diffOp = rowNormalize(mat.DenseCopyOf(g.kernel))

	if opts.NLandmark != nil && n > *opts.NLandmark && opts.Metric != metric.Precomputed {
		if err := g.reduceToLandmarks(*opts.NLandmark); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// NumSamples returns the fitted sample count (before landmark
// reduction).
func (g *Graph) NumSamples() int { return g.n }

// Landmarked reports whether the diffusion operator lives in landmark
// space.
func (g *Graph) Landmarked() bool { return g.pnm != nil }

// Extendable reports whether the graph can compute transitions for
// samples outside the fitted set.
func (g *Graph) Extendable() bool { return g.data != nil }

// DiffOp returns the dense diffusion operator: the landmark operator
// for landmark-reduced graphs, the full operator otherwise. The matrix
// is owned by the graph and must not be modified.
func (g *Graph) DiffOp() *mat.Dense { return g.diffOp }

// SetOptions applies a parameter update in place. Only the
// cross-cutting options (Jobs, Seed, Verbose) can change on a built
// graph; any kernel-affecting or structural difference returns
// ErrRebuildRequired so the caller rebuilds instead.
func (g *Graph) SetOptions(next Options) error {
	if next.Thresh == 0 {
		next.Thresh = DefaultThresh
	}
	cur := g.opts
	if cur.Metric != next.Metric ||
		cur.KNN != next.KNN ||
		!intPtrEq(cur.Decay, next.Decay) ||
		!intPtrEq(cur.NPCA, next.NPCA) ||
		!intPtrEq(cur.NLandmark, next.NLandmark) ||
		cur.Thresh != next.Thresh {
		return ErrRebuildRequired
	}
	g.opts.Jobs = next.Jobs
	g.opts.Seed = next.Seed
	g.opts.Verbose = next.Verbose
	return nil
}

// rowNormalize scales each row to sum to 1, producing a row-stochastic
// operator. Rows with zero mass are left untouched rather than divided
// by zero; a symmetrized kNN kernel never produces one.
func rowNormalize(m *mat.Dense) *mat.Dense {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		var sum float64
		for _, v := range row {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for j := range row {
			row[j] /= sum
		}
	}
	return m
}

// symmetrize replaces m with (m + mᵀ)/2 in place.
func symmetrize(m *mat.Dense) *mat.Dense {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			v := (m.At(i, j) + m.At(j, i)) / 2
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
	return m
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
