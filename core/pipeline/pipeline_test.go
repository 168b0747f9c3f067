package pipeline

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/diffuse/core/config"
	"github.com/adalundhe/diffuse/core/graph"
	"github.com/adalundhe/diffuse/core/mds"
	"github.com/adalundhe/diffuse/core/vne"
)

func intp(v int) *int       { return &v }
func int64p(v int64) *int64 { return &v }

// blobs samples n points around each center with unit gaussian noise.
func blobs(n int, centers [][]float64, dim int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n*len(centers), dim, nil)
	row := 0
	for _, c := range centers {
		for i := 0; i < n; i++ {
			for j := 0; j < dim; j++ {
				X.Set(row, j, c[j]+rng.NormFloat64())
			}
			row++
		}
	}
	return X
}

func center(dim int, value float64) []float64 {
	c := make([]float64, dim)
	for i := range c {
		c[i] = value
	}
	return c
}

func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Verbose = 0
	cfg.RandomState = int64p(42)
	return cfg
}

// fakeGraph satisfies Grapher with a fixed diffusion operator so tests
// can observe exactly which collaborators the pipeline invokes.
type fakeGraph struct {
	op           *mat.Dense
	setOptErr    error
	setOptCalls  int
	notExtend    bool
	landmarked   bool
	interpolated int
}

func newFakeGraph(n int) *fakeGraph {
	op := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				op.Set(i, j, 0.7)
			} else {
				op.Set(i, j, 0.3/float64(n-1))
			}
		}
	}
	return &fakeGraph{op: op}
}

func (g *fakeGraph) DiffOp() *mat.Dense { return g.op }
func (g *fakeGraph) NumSamples() int    { r, _ := g.op.Dims(); return r }
func (g *fakeGraph) Landmarked() bool   { return g.landmarked }
func (g *fakeGraph) Extendable() bool   { return !g.notExtend }

func (g *fakeGraph) ExtendToData(Y *mat.Dense) (*mat.Dense, error) {
	ny, _ := Y.Dims()
	n := g.NumSamples()
	trans := mat.NewDense(ny, n, nil)
	for i := 0; i < ny; i++ {
		for j := 0; j < n; j++ {
			trans.Set(i, j, 1/float64(n))
		}
	}
	return trans, nil
}

func (g *fakeGraph) Interpolate(emb, transitions *mat.Dense) (*mat.Dense, error) {
	g.interpolated++
	if transitions == nil {
		return mat.DenseCopyOf(emb), nil
	}
	tr, _ := transitions.Dims()
	_, ec := emb.Dims()
	out := mat.NewDense(tr, ec, nil)
	out.Mul(transitions, emb)
	return out, nil
}

func (g *fakeGraph) SetOptions(graph.Options) error {
	g.setOptCalls++
	return g.setOptErr
}

// countingBuilder hands out the same fake graph and counts builds.
type countingBuilder struct {
	calls int
	graph *fakeGraph
}

func (b *countingBuilder) build(_ *mat.Dense, _ graph.Options) (Grapher, error) {
	b.calls++
	return b.graph, nil
}

// countingEmbed records calls and the potential it last saw, so tests
// can tell a recomputed potential from a reused one.
type countingEmbed struct {
	calls   int
	lastPot *mat.Dense
}

func (e *countingEmbed) embed(pot *mat.Dense, o mds.Options) (*mat.Dense, error) {
	e.calls++
	e.lastPot = pot
	r, _ := pot.Dims()
	out := mat.NewDense(r, o.NDim, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < o.NDim; j++ {
			out.Set(i, j, float64(i*o.NDim+j))
		}
	}
	return out, nil
}

func fakePipeline(t *testing.T, cfg config.Config) (*Pipeline, *countingBuilder, *countingEmbed) {
	t.Helper()
	builder := &countingBuilder{graph: newFakeGraph(6)}
	engine := &countingEmbed{}
	p, err := New(cfg,
		WithGraphBuilder(builder.build),
		WithMDSEngine(engine.embed))
	require.NoError(t, err)
	return p, builder, engine
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.K = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidParam)
}

func TestNotFittedErrors(t *testing.T) {
	p, err := New(quietConfig())
	require.NoError(t, err)

	_, err = p.Transform(nil)
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = p.DiffOp()
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = p.VonNeumannEntropy(10)
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = p.OptimalT(10)
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestFitRequiresData(t *testing.T) {
	p, err := New(quietConfig())
	require.NoError(t, err)
	assert.Error(t, p.Fit(nil))
}

func TestFitReusesGraphOnIdenticalData(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 3
	p, builder, _ := fakePipeline(t, cfg)

	X := blobs(3, [][]float64{center(4, 0)}, 4, 1)
	require.NoError(t, p.Fit(X))
	require.Equal(t, 1, builder.calls)

	// Same content through a different matrix keeps the handle.
	require.NoError(t, p.Fit(mat.DenseCopyOf(X)))
	assert.Equal(t, 1, builder.calls)
	assert.Equal(t, 1, builder.graph.setOptCalls)

	// Different content discards it.
	require.NoError(t, p.Fit(blobs(3, [][]float64{center(4, 5)}, 4, 2)))
	assert.Equal(t, 2, builder.calls)
}

func TestFitRebuildsWhenGraphDemands(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 3
	p, builder, _ := fakePipeline(t, cfg)
	builder.graph.setOptErr = graph.ErrRebuildRequired

	X := blobs(3, [][]float64{center(4, 0)}, 4, 3)
	require.NoError(t, p.Fit(X))
	require.NoError(t, p.Fit(X))
	assert.Equal(t, 2, builder.calls)
}

func TestSetParamsInvalidation(t *testing.T) {
	base := quietConfig()
	base.T = 4

	tests := []struct {
		name       string
		mutate     func(*config.Config)
		rebuilds   bool // graph rebuilt on the next run
		newPot     bool // potential recomputed
		reembedded bool // embedding recomputed
	}{
		{"k drops all tiers", func(c *config.Config) { c.K = 9 }, true, true, true},
		{"a drops all tiers", func(c *config.Config) { c.A = intp(3) }, true, true, true},
		{"knn_dist drops all tiers", func(c *config.Config) { c.KNNDist = "cosine" }, true, true, true},
		{"t drops potential and embedding", func(c *config.Config) { c.T = 9 }, false, true, true},
		{"potential_method drops potential and embedding", func(c *config.Config) { c.PotentialMethod = "sqrt" }, false, true, true},
		{"n_components drops embedding only", func(c *config.Config) { c.NComponents = 3 }, false, false, true},
		{"mds drops embedding only", func(c *config.Config) { c.MDS = "classic" }, false, false, true},
		{"mds_dist drops embedding only", func(c *config.Config) { c.MDSDist = "cityblock" }, false, false, true},
		{"verbose keeps everything", func(c *config.Config) { c.Verbose = 2 }, false, false, false},
		{"n_jobs keeps everything", func(c *config.Config) { c.NJobs = 4 }, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, builder, engine := fakePipeline(t, base)
			X := blobs(2, [][]float64{center(4, 0)}, 4, 4)
			_, err := p.FitTransform(X)
			require.NoError(t, err)
			require.Equal(t, 1, builder.calls)
			require.Equal(t, 1, engine.calls)
			potBefore := engine.lastPot

			next := base
			tt.mutate(&next)
			require.NoError(t, p.SetParams(next))

			_, err = p.FitTransform(X)
			require.NoError(t, err)

			wantBuilds := 1
			if tt.rebuilds {
				wantBuilds = 2
			}
			assert.Equal(t, wantBuilds, builder.calls, "graph builds")

			wantEmbeds := 1
			if tt.reembedded {
				wantEmbeds = 2
			}
			assert.Equal(t, wantEmbeds, engine.calls, "embedding runs")

			if tt.reembedded {
				if tt.newPot {
					assert.NotSame(t, potBefore, engine.lastPot, "potential should be recomputed")
				} else {
					assert.Same(t, potBefore, engine.lastPot, "potential should be reused")
				}
			}
		})
	}
}

func TestSetParamsForwardsCrossCutting(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 4
	p, builder, _ := fakePipeline(t, cfg)
	X := blobs(2, [][]float64{center(4, 0)}, 4, 5)
	_, err := p.FitTransform(X)
	require.NoError(t, err)
	callsBefore := builder.graph.setOptCalls

	next := cfg
	next.NJobs = 8
	require.NoError(t, p.SetParams(next))
	assert.Equal(t, callsBefore+1, builder.graph.setOptCalls)
	assert.Equal(t, 8, p.Config().NJobs)
}

func TestSetParamsRejectsInvalid(t *testing.T) {
	cfg := quietConfig()
	p, _, _ := fakePipeline(t, cfg)

	bad := cfg
	bad.MDS = "fastest"
	err := p.SetParams(bad)
	assert.ErrorIs(t, err, config.ErrInvalidParam)
	assert.Equal(t, cfg.MDS, p.Config().MDS)
}

func TestTransformCopiesAreIndependent(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 4
	p, _, _ := fakePipeline(t, cfg)
	X := blobs(2, [][]float64{center(4, 0)}, 4, 6)
	require.NoError(t, p.Fit(X))

	first, err := p.Transform(nil)
	require.NoError(t, err)
	second, err := p.Transform(nil)
	require.NoError(t, err)

	assert.True(t, mat.Equal(first, second))
	first.Set(0, 0, 999)
	assert.False(t, mat.Equal(first, second))
}

func TestExtensionRequiresEmbedding(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 4
	p, _, _ := fakePipeline(t, cfg)
	X := blobs(2, [][]float64{center(4, 0)}, 4, 7)
	require.NoError(t, p.Fit(X))

	_, err := p.Transform(blobs(1, [][]float64{center(4, 1)}, 4, 8))
	assert.ErrorIs(t, err, ErrNoEmbedding)
}

func TestExtensionRejectsPrecomputedGraph(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 4
	p, builder, _ := fakePipeline(t, cfg)
	builder.graph.notExtend = true
	X := blobs(2, [][]float64{center(4, 0)}, 4, 9)
	_, err := p.FitTransform(X)
	require.NoError(t, err)

	_, err = p.Transform(blobs(1, [][]float64{center(4, 1)}, 4, 10))
	assert.ErrorIs(t, err, graph.ErrNotExtendable)
}

func TestExtensionLeavesCachesAlone(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 4
	p, builder, engine := fakePipeline(t, cfg)
	X := blobs(2, [][]float64{center(4, 0)}, 4, 11)
	cached, err := p.FitTransform(X)
	require.NoError(t, err)

	Y := blobs(2, [][]float64{center(4, 1)}, 4, 12)
	out, err := p.Transform(Y)
	require.NoError(t, err)
	r, c := out.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)

	assert.Equal(t, 1, builder.calls)
	assert.Equal(t, 1, engine.calls)
	again, err := p.Transform(nil)
	require.NoError(t, err)
	assert.True(t, mat.Equal(cached, again))
}

func TestEndToEndSeparatesClusters(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 20
	X := blobs(50, [][]float64{center(10, 0), center(10, 10)}, 10, 42)

	p, err := New(cfg)
	require.NoError(t, err)
	emb, err := p.FitTransform(X)
	require.NoError(t, err)

	r, c := emb.Dims()
	require.Equal(t, 100, r)
	require.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			require.False(t, math.IsNaN(emb.At(i, j)))
			require.False(t, math.IsInf(emb.At(i, j), 0))
		}
	}

	// The two blobs must land far apart relative to their spread.
	inter, intra := clusterGeometry(emb, 50)
	assert.Greater(t, inter, 3*intra,
		"cluster separation %.3f vs spread %.3f", inter, intra)
}

// clusterGeometry returns the distance between the two block centroids
// and the mean distance of points to their own centroid.
func clusterGeometry(emb *mat.Dense, split int) (inter, intra float64) {
	r, c := emb.Dims()
	centroids := [2][]float64{make([]float64, c), make([]float64, c)}
	counts := [2]float64{}
	for i := 0; i < r; i++ {
		b := 0
		if i >= split {
			b = 1
		}
		counts[b]++
		for j := 0; j < c; j++ {
			centroids[b][j] += emb.At(i, j)
		}
	}
	for b := 0; b < 2; b++ {
		for j := 0; j < c; j++ {
			centroids[b][j] /= counts[b]
		}
	}
	for j := 0; j < c; j++ {
		d := centroids[0][j] - centroids[1][j]
		inter += d * d
	}
	inter = math.Sqrt(inter)

	var total float64
	for i := 0; i < r; i++ {
		b := 0
		if i >= split {
			b = 1
		}
		var d2 float64
		for j := 0; j < c; j++ {
			d := emb.At(i, j) - centroids[b][j]
			d2 += d * d
		}
		total += math.Sqrt(d2)
	}
	return inter, total / float64(r)
}

func TestEndToEndDeterministic(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 10
	X := blobs(20, [][]float64{center(6, 0), center(6, 8)}, 6, 7)

	run := func() *mat.Dense {
		p, err := New(cfg)
		require.NoError(t, err)
		emb, err := p.FitTransform(X)
		require.NoError(t, err)
		return emb
	}
	assert.True(t, mat.Equal(run(), run()))
}

func TestEndToEndAutoT(t *testing.T) {
	cfg := quietConfig()
	require.True(t, cfg.TIsAuto())
	X := blobs(15, [][]float64{center(5, 0), center(5, 8)}, 5, 13)

	p, err := New(cfg)
	require.NoError(t, err)
	emb, err := p.FitTransform(X)
	require.NoError(t, err)
	r, c := emb.Dims()
	assert.Equal(t, 30, r)
	assert.Equal(t, 2, c)

	knee, err := p.OptimalT(vne.DefaultTMax)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, knee, 0)
	assert.Less(t, knee, vne.DefaultTMax)
}

func TestEndToEndLandmarks(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 10
	cfg.NLandmark = intp(12)
	X := blobs(30, [][]float64{center(5, 0), center(5, 9)}, 5, 21)

	p, err := New(cfg)
	require.NoError(t, err)
	emb, err := p.FitTransform(X)
	require.NoError(t, err)

	// Landmark embeddings interpolate back to every fitted sample.
	r, c := emb.Dims()
	assert.Equal(t, 60, r)
	assert.Equal(t, 2, c)

	op, err := p.DiffOp()
	require.NoError(t, err)
	or, oc := op.Dims()
	assert.Equal(t, 12, or)
	assert.Equal(t, 12, oc)
}

func TestEndToEndOutOfSample(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 10
	X := blobs(20, [][]float64{center(5, 0), center(5, 9)}, 5, 31)

	p, err := New(cfg)
	require.NoError(t, err)
	emb, err := p.FitTransform(X)
	require.NoError(t, err)

	// New points from the first blob must land near that blob's
	// embedded centroid, not the other one.
	Y := blobs(4, [][]float64{center(5, 0)}, 5, 32)
	out, err := p.Transform(Y)
	require.NoError(t, err)
	r, c := out.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 2, c)

	c0 := blockCentroid(emb, 0, 20)
	c1 := blockCentroid(emb, 20, 40)
	for i := 0; i < r; i++ {
		d0 := math.Hypot(out.At(i, 0)-c0[0], out.At(i, 1)-c0[1])
		d1 := math.Hypot(out.At(i, 0)-c1[0], out.At(i, 1)-c1[1])
		assert.Less(t, d0, d1, "extended sample %d drifted to the wrong blob", i)
	}
}

func blockCentroid(emb *mat.Dense, lo, hi int) [2]float64 {
	var c [2]float64
	for i := lo; i < hi; i++ {
		c[0] += emb.At(i, 0)
		c[1] += emb.At(i, 1)
	}
	n := float64(hi - lo)
	c[0] /= n
	c[1] /= n
	return c
}

func TestDiffOpReturnsCopy(t *testing.T) {
	cfg := quietConfig()
	cfg.T = 4
	p, builder, _ := fakePipeline(t, cfg)
	X := blobs(2, [][]float64{center(4, 0)}, 4, 41)
	require.NoError(t, p.Fit(X))

	op, err := p.DiffOp()
	require.NoError(t, err)
	op.Set(0, 0, -1)
	assert.NotEqual(t, -1.0, builder.graph.DiffOp().At(0, 0))
}
