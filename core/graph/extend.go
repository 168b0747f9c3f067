package graph

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/diffuse/core/metric"
)

// ExtendToData computes transition weights from new, never-fitted
// samples onto the fitted graph. The rows of the result are
// row-stochastic weights over the diffusion operator's space: landmark
// columns for landmark graphs, fitted samples otherwise. Precomputed
// graphs have no feature space to measure new points against and
// return ErrNotExtendable.
func (g *Graph) ExtendToData(Y *mat.Dense) (*mat.Dense, error) {
	if !g.Extendable() {
		return nil, ErrNotExtendable
	}

	yp := Y
	if g.pca != nil {
		yp = g.pca.project(Y)
	}
	_, yc := yp.Dims()
	_, dc := g.data.Dims()
	if yc != dc {
		return nil, fmt.Errorf("graph: new data has %d features, fitted graph expects %d", yc, dc)
	}

	dist := metric.PairwiseCross(yp, g.data, g.opts.Metric, g.opts.Jobs)
	ny, _ := dist.Dims()
	K := mat.NewDense(ny, g.n, nil)

	if g.opts.Decay != nil {
		// Radius kernel against the fitted points' own bandwidths.
		a := float64(*g.opts.Decay)
		for i := 0; i < ny; i++ {
			drow := dist.RawRowView(i)
			krow := K.RawRowView(i)
			for j, d := range drow {
				v := math.Exp(-math.Pow(d/g.bandwidth[j], a))
				if v < g.opts.Thresh {
					v = 0
				}
				krow[j] = v
			}
		}
	} else {
		for i := 0; i < ny; i++ {
			for _, j := range nearestIndices(dist.RawRowView(i), g.opts.KNN) {
				K.Set(i, j, 1)
			}
		}
	}

	base := rowNormalize(K)
	if g.pnm == nil {
		return base, nil
	}

	m := g.pnm.RawMatrix().Cols
	trans := mat.NewDense(ny, m, nil)
	trans.Mul(base, g.pnm)
	return trans, nil
}
