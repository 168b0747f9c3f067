package graph

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// kernelFromDistances builds the symmetrized affinity kernel from a
// pairwise distance matrix. With decay set it is the adaptive-bandwidth
// alpha-decay kernel K(i,j) = exp(-(d(i,j)/ε_i)^a) where ε_i is the
// distance from i to its KNN-th nearest neighbor (self included);
// entries below the threshold are zeroed. Without decay it is the plain
// kNN indicator kernel. Either way the result is symmetrized as
// (K + Kᵀ)/2 so every edge is kept from whichever side saw it.
func kernelFromDistances(dist *mat.Dense, opts Options) (*mat.Dense, []float64) {
	n, _ := dist.Dims()
	bw := bandwidths(dist, opts.KNN)
	K := mat.NewDense(n, n, nil)

	if opts.Decay != nil {
		a := float64(*opts.Decay)
		for i := 0; i < n; i++ {
			drow := dist.RawRowView(i)
			krow := K.RawRowView(i)
			for j, d := range drow {
				v := math.Exp(-math.Pow(d/bw[i], a))
				if v < opts.Thresh {
					v = 0
				}
				krow[j] = v
			}
		}
		return symmetrize(K), bw
	}

	for i := 0; i < n; i++ {
		for _, j := range nearestIndices(dist.RawRowView(i), opts.KNN) {
			K.Set(i, j, 1)
		}
	}
	return symmetrize(K), bw
}

// bandwidths returns the distance from each point to its knn-th nearest
// neighbor, counting the point itself. A zero bandwidth (duplicated
// points) falls back to the nearest strictly positive distance so the
// decay kernel stays finite.
func bandwidths(dist *mat.Dense, knn int) []float64 {
	n, _ := dist.Dims()
	bw := make([]float64, n)
	sorted := make([]float64, n)
	for i := 0; i < n; i++ {
		copy(sorted, dist.RawRowView(i))
		sort.Float64s(sorted)
		bw[i] = sorted[knn-1]
		if bw[i] == 0 {
			bw[i] = firstPositive(sorted)
		}
	}
	return bw
}

func firstPositive(sorted []float64) float64 {
	for _, v := range sorted {
		if v > 0 {
			return v
		}
	}
	return 1
}

// nearestIndices returns the indices of the knn smallest entries of the
// distance row, self included.
func nearestIndices(drow []float64, knn int) []int {
	idx := make([]int, len(drow))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return drow[idx[a]] < drow[idx[b]]
	})
	if knn > len(idx) {
		knn = len(idx)
	}
	return idx[:knn]
}
