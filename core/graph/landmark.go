package graph

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"
)

// reduceToLandmarks compresses the graph to m landmark clusters:
// samples are grouped by k-means over the working feature space, kernel
// mass is aggregated into sample→landmark (Pnm) and landmark→sample
// (Pmn) transition matrices, and the landmark diffusion operator is
// their product Pmn·Pnm, which stays row-stochastic.
func (g *Graph) reduceToLandmarks(m int) error {
	clusters, err := kmeansAssign(g.data, m, g.opts.Seed)
	if err != nil {
		return fmt.Errorf("landmark clustering: %w", err)
	}
	g.clusters = clusters

	if g.opts.Verbose > 1 {
		slog.Debug("landmark reduction",
			slog.Int("samples", g.n),
			slog.Int("landmarks", m))
	}

	pnm := mat.NewDense(g.n, m, nil)
	pmn := mat.NewDense(m, g.n, nil)
	for i := 0; i < g.n; i++ {
		krow := g.kernel.RawRowView(i)
		for j, v := range krow {
			if v == 0 {
				continue
			}
			pnm.Set(i, clusters[j], pnm.At(i, clusters[j])+v)
			pmn.Set(clusters[i], j, pmn.At(clusters[i], j)+v)
		}
	}
	g.pnm = rowNormalize(pnm)

	op := mat.NewDense(m, m, nil)
	op.Mul(rowNormalize(pmn), g.pnm)
	g.diffOp = op
	return nil
}

// Interpolate expands an embedding through transition weights: each
// output row is the convex combination of embedding rows given by the
// corresponding transition row. With nil transitions the fitted
// sample→landmark transitions are used, expanding a landmark embedding
// back to all fitted samples; on a flat graph this is a copy. The input
// embedding is never modified.
func (g *Graph) Interpolate(emb *mat.Dense, transitions *mat.Dense) (*mat.Dense, error) {
	if transitions == nil {
		if g.pnm == nil {
			return mat.DenseCopyOf(emb), nil
		}
		transitions = g.pnm
	}

	tr, tc := transitions.Dims()
	er, ec := emb.Dims()
	if tc != er {
		return nil, fmt.Errorf("graph: transitions are %d×%d but embedding has %d rows", tr, tc, er)
	}

	out := mat.NewDense(tr, ec, nil)
	out.Mul(transitions, emb)
	return out, nil
}
