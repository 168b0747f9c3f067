// Package metric provides the distance metrics used to build
// neighborhood kernels and to re-derive pairwise distances for MDS.
package metric

import (
	"fmt"
	"math"

	"github.com/viterin/vek"
)

// Metric names a pairwise distance function. The zero value is invalid;
// resolve user-supplied names through Lookup.
type Metric string

const (
	Euclidean   Metric = "euclidean"
	SqEuclidean Metric = "sqeuclidean"
	Cosine      Metric = "cosine"
	Correlation Metric = "correlation"
	Cityblock   Metric = "cityblock"
	Chebyshev   Metric = "chebyshev"
	BrayCurtis  Metric = "braycurtis"
	Canberra    Metric = "canberra"
	Hamming     Metric = "hamming"

	// Precomputed signals that the input matrix already holds pairwise
	// distances or affinities. It has no Distance function; graph
	// construction handles it structurally.
	Precomputed Metric = "precomputed"
)

// aliases maps accepted spellings onto canonical metrics.
var aliases = map[string]Metric{
	"euclidean":   Euclidean,
	"l2":          Euclidean,
	"sqeuclidean": SqEuclidean,
	"cosine":      Cosine,
	"correlation": Correlation,
	"cityblock":   Cityblock,
	"manhattan":   Cityblock,
	"l1":          Cityblock,
	"chebyshev":   Chebyshev,
	"braycurtis":  BrayCurtis,
	"canberra":    Canberra,
	"hamming":     Hamming,
	"precomputed": Precomputed,
}

// Lookup resolves a metric name, normalizing aliases such as
// "manhattan"/"l1" onto Cityblock. Returns an error for unknown names.
func Lookup(name string) (Metric, error) {
	if m, ok := aliases[name]; ok {
		return m, nil
	}
	return "", fmt.Errorf("unknown distance metric %q", name)
}

// Valid reports whether name resolves to a supported metric.
// allowPrecomputed admits the structural "precomputed" mode, which is
// legal for kNN graph construction but not for MDS distances.
func Valid(name string, allowPrecomputed bool) bool {
	m, err := Lookup(name)
	if err != nil {
		return false
	}
	if m == Precomputed {
		return allowPrecomputed
	}
	return true
}

// Distance computes the distance between two equal-length vectors.
// Panics on the Precomputed pseudo-metric, which has no pointwise form.
func (m Metric) Distance(a, b []float64) float64 {
	switch m {
	case Euclidean:
		return vek.Distance(a, b)
	case SqEuclidean:
		d := vek.Distance(a, b)
		return d * d
	case Cosine:
		return cosineDistance(a, b)
	case Correlation:
		return correlationDistance(a, b)
	case Cityblock:
		return cityblockDistance(a, b)
	case Chebyshev:
		return chebyshevDistance(a, b)
	case BrayCurtis:
		return brayCurtisDistance(a, b)
	case Canberra:
		return canberraDistance(a, b)
	case Hamming:
		return hammingDistance(a, b)
	}
	panic(fmt.Sprintf("metric %q has no pointwise distance", string(m)))
}

// cosineDistance is 1 - cosine similarity, in [0, 2]. Zero-magnitude
// vectors are treated as maximally distant from everything except
// another zero vector.
func cosineDistance(a, b []float64) float64 {
	dot := vek.Dot(a, b)
	na := math.Sqrt(vek.Dot(a, a))
	nb := math.Sqrt(vek.Dot(b, b))
	if na == 0 || nb == 0 {
		if na == 0 && nb == 0 {
			return 0
		}
		return 1
	}
	return 1 - dot/(na*nb)
}

// correlationDistance is 1 - Pearson correlation of the two vectors.
func correlationDistance(a, b []float64) float64 {
	ca := centered(a)
	cb := centered(b)
	return cosineDistance(ca, cb)
}

func centered(v []float64) []float64 {
	mean := vek.Sum(v) / float64(len(v))
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x - mean
	}
	return out
}

func cityblockDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

func chebyshevDistance(a, b []float64) float64 {
	var maxd float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > maxd {
			maxd = d
		}
	}
	return maxd
}

func brayCurtisDistance(a, b []float64) float64 {
	var num, den float64
	for i := range a {
		num += math.Abs(a[i] - b[i])
		den += math.Abs(a[i] + b[i])
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func canberraDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		den := math.Abs(a[i]) + math.Abs(b[i])
		if den > 0 {
			sum += math.Abs(a[i]-b[i]) / den
		}
	}
	return sum
}

func hammingDistance(a, b []float64) float64 {
	var unequal int
	for i := range a {
		if a[i] != b[i] {
			unequal++
		}
	}
	return float64(unequal) / float64(len(a))
}
