package metric

import (
	"math"
	"runtime"
	"sync"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// Workers converts a job-count hint into a concrete worker count.
// Positive values are used as-is, -1 means all CPUs, and values below
// -1 are relative to the CPU count (-2 leaves one CPU free). The result
// is always at least 1.
func Workers(jobs int) int {
	cpus := runtime.NumCPU()
	n := jobs
	switch {
	case jobs > 0:
		n = jobs
	case jobs == -1:
		n = cpus
	case jobs < -1:
		n = cpus + 1 + jobs
	default: // jobs == 0
		n = 1
	}
	if n < 1 {
		n = 1
	}
	if n > cpus {
		n = cpus
	}
	return n
}

// Pairwise computes the symmetric n×n distance matrix over the rows of
// X. Euclidean distances go through a single BLAS-backed Gram product
// (‖x‖² + ‖y‖² − 2·x·y); other metrics are chunked across a worker pool
// sized by the jobs hint.
func Pairwise(X *mat.Dense, m Metric, jobs int) *mat.Dense {
	n, _ := X.Dims()
	switch m {
	case Euclidean, SqEuclidean:
		D := gramDistances(X, X)
		if m == Euclidean {
			sqrtInPlace(D)
		}
		return D
	}

	D := mat.NewDense(n, n, nil)
	parallelRows(n, jobs, func(i int) {
		ri := X.RawRowView(i)
		for j := i + 1; j < n; j++ {
			d := m.Distance(ri, X.RawRowView(j))
			D.Set(i, j, d)
			D.Set(j, i, d)
		}
	})
	return D
}

// PairwiseCross computes the nY×nX matrix of distances from each row of
// Y to each row of X.
func PairwiseCross(Y, X *mat.Dense, m Metric, jobs int) *mat.Dense {
	ny, _ := Y.Dims()
	nx, _ := X.Dims()
	switch m {
	case Euclidean, SqEuclidean:
		D := gramDistances(Y, X)
		if m == Euclidean {
			sqrtInPlace(D)
		}
		return D
	}

	D := mat.NewDense(ny, nx, nil)
	parallelRows(ny, jobs, func(i int) {
		ri := Y.RawRowView(i)
		for j := 0; j < nx; j++ {
			D.Set(i, j, m.Distance(ri, X.RawRowView(j)))
		}
	})
	return D
}

// gramDistances returns squared Euclidean distances between the rows of
// A and the rows of B via D² = ‖a‖² + ‖b‖² − 2·A·Bᵀ. Negative values
// from cancellation are clamped to zero.
func gramDistances(A, B *mat.Dense) *mat.Dense {
	na, _ := A.Dims()
	nb, _ := B.Dims()

	aNorms := rowNorms(A)
	bNorms := rowNorms(B)

	D := mat.NewDense(na, nb, nil)
	D.Mul(A, B.T())

	for i := 0; i < na; i++ {
		row := D.RawRowView(i)
		for j := range row {
			d := aNorms[i] + bNorms[j] - 2*row[j]
			if d < 0 {
				d = 0
			}
			row[j] = d
		}
	}
	return D
}

func rowNorms(X *mat.Dense) []float64 {
	n, _ := X.Dims()
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		r := X.RawRowView(i)
		norms[i] = vek.Dot(r, r)
	}
	return norms
}

func sqrtInPlace(D *mat.Dense) {
	n, c := D.Dims()
	for i := 0; i < n; i++ {
		row := D.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] = math.Sqrt(row[j])
		}
	}
}

// parallelRows runs fn for every row index, fanning out across workers
// when the hint asks for more than one.
func parallelRows(n, jobs int, fn func(i int)) {
	workers := Workers(jobs)
	if workers == 1 || n < 2*workers {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	rows := make(chan int, n)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rows {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		rows <- i
	}
	close(rows)
	wg.Wait()
}
