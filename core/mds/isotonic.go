package mds

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// isotonic performs the monotone regression step of nonmetric SMACOF.
// The ordering of dissimilarity pairs is fixed by the input matrix, so
// it is precomputed once; each iteration fits nondecreasing disparities
// to the current configuration distances in that order.
type isotonic struct {
	n     int
	order []pairIndex // upper-triangle pairs sorted by dissimilarity

	// scratch reused across iterations
	fitted []float64
	out    *mat.Dense
}

type pairIndex struct {
	i, j int
}

func newIsotonic(D *mat.Dense) *isotonic {
	n, _ := D.Dims()
	pairs := make([]pairIndex, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, pairIndex{i, j})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		return D.At(pa.i, pa.j) < D.At(pb.i, pb.j)
	})
	return &isotonic{
		n:      n,
		order:  pairs,
		fitted: make([]float64, len(pairs)),
		out:    mat.NewDense(n, n, nil),
	}
}

// disparities fits nondecreasing values to the current distances taken
// in dissimilarity order (pool-adjacent-violators), then rescales them
// to preserve the total squared distance so the Guttman step keeps its
// scale. The returned matrix is owned by the receiver and overwritten
// on the next call.
func (iso *isotonic) disparities(dist *mat.Dense) *mat.Dense {
	values := iso.fitted
	for k, p := range iso.order {
		values[k] = dist.At(p.i, p.j)
	}
	poolAdjacentViolators(values)

	var distSq, fitSq float64
	for k, p := range iso.order {
		d := dist.At(p.i, p.j)
		distSq += d * d
		fitSq += values[k] * values[k]
	}
	scale := 1.0
	if fitSq > 0 {
		scale = math.Sqrt(distSq / fitSq)
	}

	for k, p := range iso.order {
		v := values[k] * scale
		iso.out.Set(p.i, p.j, v)
		iso.out.Set(p.j, p.i, v)
	}
	return iso.out
}

// poolAdjacentViolators replaces values with the best nondecreasing fit
// in place, merging adjacent blocks whose means are out of order.
func poolAdjacentViolators(values []float64) {
	n := len(values)
	if n < 2 {
		return
	}

	sums := make([]float64, 0, n)
	counts := make([]int, 0, n)
	for _, v := range values {
		sums = append(sums, v)
		counts = append(counts, 1)
		for len(sums) > 1 {
			last := len(sums) - 1
			if sums[last]/float64(counts[last]) >= sums[last-1]/float64(counts[last-1]) {
				break
			}
			sums[last-1] += sums[last]
			counts[last-1] += counts[last]
			sums = sums[:last]
			counts = counts[:last]
		}
	}

	idx := 0
	for b := range sums {
		mean := sums[b] / float64(counts[b])
		for c := 0; c < counts[b]; c++ {
			values[idx] = mean
			idx++
		}
	}
}
