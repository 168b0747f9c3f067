package graph

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// pcaProjection holds the fitted principal-component basis so
// out-of-sample points can be projected into the same reduced space.
type pcaProjection struct {
	mean       []float64
	components *mat.Dense // d × npca
}

// fitPCA fits a principal-component reduction when npca is set and the
// data has more features than components; otherwise returns nil and
// the data is used as-is.
func fitPCA(X *mat.Dense, npca *int) *pcaProjection {
	if npca == nil {
		return nil
	}
	_, d := X.Dims()
	if d <= *npca {
		return nil
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(X, nil); !ok {
		return nil
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	components := mat.NewDense(d, *npca, nil)
	components.Copy(vecs.Slice(0, d, 0, *npca))

	return &pcaProjection{
		mean:       columnMeans(X),
		components: components,
	}
}

// project centers rows on the fitted mean and projects onto the
// component basis.
func (p *pcaProjection) project(X *mat.Dense) *mat.Dense {
	n, d := X.Dims()
	centered := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		src := X.RawRowView(i)
		dst := centered.RawRowView(i)
		for j := range src {
			dst[j] = src[j] - p.mean[j]
		}
	}

	_, npca := p.components.Dims()
	out := mat.NewDense(n, npca, nil)
	out.Mul(centered, p.components)
	return out
}

func columnMeans(X *mat.Dense) []float64 {
	n, d := X.Dims()
	means := make([]float64, d)
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}
	return means
}
