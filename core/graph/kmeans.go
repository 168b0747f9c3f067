package graph

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// k-means for landmark assignment. Distances are computed in bulk via
// BLAS GEMM (all dot products X·Cᵀ in one call, then
// ‖x‖² + ‖c‖² − 2·x·c), with k-means++ seeding, convergence detection
// on the objective, and empty-cluster reinitialization from the
// farthest point. The caller only needs the final assignment of
// samples to clusters, not the centroids.

const kmeansConvergence = 1e-6

// kmeansSafetyIterations bounds a run that fails to converge; the
// algorithm normally stops on objective improvement long before this.
const kmeansSafetyIterations = 300

type kmeansState struct {
	n, k, dim int

	vectors   []float64 // n × dim, row-major
	centroids []float64 // k × dim

	vectorNorms   []float64
	centroidNorms []float64
	dots          []float64 // n × k

	assignments []int
	counts      []int

	newCentroids []float64
}

// kmeansAssign clusters the rows of X into k groups and returns the
// per-row cluster index. Every cluster in the result is non-empty.
// Seed 0 means time-based seeding.
func kmeansAssign(X *mat.Dense, k int, seed int64) ([]int, error) {
	n, dim := X.Dims()
	if k < 1 {
		return nil, errors.New("kmeans: k must be >= 1")
	}
	if n < k {
		return nil, errors.New("kmeans: fewer samples than clusters")
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &kmeansState{
		n: n, k: k, dim: dim,
		vectors:       make([]float64, n*dim),
		centroids:     make([]float64, k*dim),
		vectorNorms:   make([]float64, n),
		centroidNorms: make([]float64, k),
		dots:          make([]float64, n*k),
		assignments:   make([]int, n),
		counts:        make([]int, k),
		newCentroids:  make([]float64, k*dim),
	}
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		copy(s.vectors[i*dim:(i+1)*dim], row)
		v := blas64.Vector{N: dim, Inc: 1, Data: row}
		s.vectorNorms[i] = blas64.Dot(v, v)
	}

	rng := rand.New(rand.NewSource(seed))
	s.initPlusPlus(rng)
	s.computeCentroidNorms()

	prevObjective := math.MaxFloat64
	for iter := 0; iter < kmeansSafetyIterations; iter++ {
		s.computeDots()
		objective := s.assign()

		if prevObjective < math.MaxFloat64 && objective > 0 {
			if improvement := (prevObjective - objective) / objective; improvement >= 0 && improvement < kmeansConvergence {
				break
			}
		}
		prevObjective = objective

		s.updateCentroids()
		s.reseedEmpty(rng)
		s.computeCentroidNorms()
	}

	// The final assignment pass above may still have left a cluster
	// empty right at convergence; patch by stealing farthest points.
	s.ensureNonEmpty()
	return s.assignments, nil
}

// initPlusPlus seeds centroids with k-means++: each next centroid is
// sampled proportionally to squared distance from the nearest chosen
// one.
func (s *kmeansState) initPlusPlus(rng *rand.Rand) {
	first := rng.Intn(s.n)
	copy(s.centroids[:s.dim], s.vectors[first*s.dim:(first+1)*s.dim])

	distances := make([]float64, s.n)
	for i := range distances {
		distances[i] = math.MaxFloat64
	}
	dots := make([]float64, s.n)

	for c := 1; c < s.k; c++ {
		prev := s.centroids[(c-1)*s.dim : c*s.dim]
		prevVec := blas64.Vector{N: s.dim, Inc: 1, Data: prev}
		prevNorm := blas64.Dot(prevVec, prevVec)

		blas64.Gemv(blas.NoTrans, 1.0,
			blas64.General{Rows: s.n, Cols: s.dim, Stride: s.dim, Data: s.vectors},
			prevVec, 0.0,
			blas64.Vector{N: s.n, Inc: 1, Data: dots})

		var total float64
		for i := 0; i < s.n; i++ {
			d := s.vectorNorms[i] + prevNorm - 2*dots[i]
			if d < 0 {
				d = 0
			}
			if d < distances[i] {
				distances[i] = d
			}
			total += distances[i]
		}

		if total == 0 {
			idx := rng.Intn(s.n)
			copy(s.centroids[c*s.dim:(c+1)*s.dim], s.vectors[idx*s.dim:(idx+1)*s.dim])
			continue
		}

		target := rng.Float64() * total
		var cumulative float64
		selected := s.n - 1
		for i, d := range distances {
			cumulative += d
			if cumulative >= target {
				selected = i
				break
			}
		}
		copy(s.centroids[c*s.dim:(c+1)*s.dim], s.vectors[selected*s.dim:(selected+1)*s.dim])
	}
}

func (s *kmeansState) computeCentroidNorms() {
	for j := 0; j < s.k; j++ {
		v := blas64.Vector{N: s.dim, Inc: 1, Data: s.centroids[j*s.dim : (j+1)*s.dim]}
		s.centroidNorms[j] = blas64.Dot(v, v)
	}
}

// computeDots fills dots = X · Cᵀ with a single GEMM.
func (s *kmeansState) computeDots() {
	blas64.Gemm(blas.NoTrans, blas.Trans, 1.0,
		blas64.General{Rows: s.n, Cols: s.dim, Stride: s.dim, Data: s.vectors},
		blas64.General{Rows: s.k, Cols: s.dim, Stride: s.dim, Data: s.centroids},
		0.0,
		blas64.General{Rows: s.n, Cols: s.k, Stride: s.k, Data: s.dots})
}

// assign labels each vector with its nearest centroid and returns the
// total squared-distance objective.
func (s *kmeansState) assign() float64 {
	for j := range s.counts {
		s.counts[j] = 0
	}

	var objective float64
	for i := 0; i < s.n; i++ {
		xNorm := s.vectorNorms[i]
		minDist := math.MaxFloat64
		minJ := 0
		row := i * s.k
		for j := 0; j < s.k; j++ {
			d := xNorm + s.centroidNorms[j] - 2*s.dots[row+j]
			if d < 0 {
				d = 0
			}
			if d < minDist {
				minDist = d
				minJ = j
			}
		}
		s.assignments[i] = minJ
		s.counts[minJ]++
		objective += minDist
	}
	return objective
}

func (s *kmeansState) updateCentroids() {
	for i := range s.newCentroids {
		s.newCentroids[i] = 0
	}
	for i := 0; i < s.n; i++ {
		c := s.assignments[i]
		blas64.Axpy(1.0,
			blas64.Vector{N: s.dim, Inc: 1, Data: s.vectors[i*s.dim : (i+1)*s.dim]},
			blas64.Vector{N: s.dim, Inc: 1, Data: s.newCentroids[c*s.dim : (c+1)*s.dim]})
	}
	for j := 0; j < s.k; j++ {
		if s.counts[j] > 0 {
			blas64.Scal(1/float64(s.counts[j]),
				blas64.Vector{N: s.dim, Inc: 1, Data: s.newCentroids[j*s.dim : (j+1)*s.dim]})
		}
	}
	s.centroids, s.newCentroids = s.newCentroids, s.centroids
}

// reseedEmpty reinitializes centroids that lost all members from the
// point farthest from its own centroid.
func (s *kmeansState) reseedEmpty(rng *rand.Rand) {
	for j := 0; j < s.k; j++ {
		if s.counts[j] != 0 {
			continue
		}
		maxDist := -1.0
		maxIdx := -1
		for i := 0; i < s.n; i++ {
			c := s.assignments[i]
			d := s.vectorNorms[i] + s.centroidNorms[c] - 2*s.dots[i*s.k+c]
			if d > maxDist {
				maxDist = d
				maxIdx = i
			}
		}
		if maxIdx < 0 {
			maxIdx = rng.Intn(s.n)
		}
		copy(s.centroids[j*s.dim:(j+1)*s.dim], s.vectors[maxIdx*s.dim:(maxIdx+1)*s.dim])
	}
}

// ensureNonEmpty guarantees every cluster label appears at least once
// by reassigning the point farthest from its centroid into each empty
// cluster, largest donors first.
func (s *kmeansState) ensureNonEmpty() {
	for j := range s.counts {
		s.counts[j] = 0
	}
	for _, c := range s.assignments {
		s.counts[c]++
	}

	for j := 0; j < s.k; j++ {
		if s.counts[j] != 0 {
			continue
		}
		maxDist := -1.0
		maxIdx := -1
		for i := 0; i < s.n; i++ {
			c := s.assignments[i]
			if s.counts[c] <= 1 {
				continue
			}
			d := s.vectorNorms[i] + s.centroidNorms[c] - 2*s.dots[i*s.k+c]
			if d > maxDist {
				maxDist = d
				maxIdx = i
			}
		}
		if maxIdx < 0 {
			continue
		}
		s.counts[s.assignments[maxIdx]]--
		s.assignments[maxIdx] = j
		s.counts[j]++
	}
}
