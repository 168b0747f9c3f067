// Package pipeline is the stateful façade over the embedding stages:
// it owns the cached graph handle, diffusion potential and embedding,
// sequences the collaborators, and applies the parameter-change
// invalidation rules that decide which cached stage must be recomputed.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/adalundhe/diffuse/core/config"
	"github.com/adalundhe/diffuse/core/graph"
	"github.com/adalundhe/diffuse/core/mds"
	"github.com/adalundhe/diffuse/core/metric"
	"github.com/adalundhe/diffuse/core/potential"
	"github.com/adalundhe/diffuse/core/vne"
)

var (
	// ErrNotFitted is returned when the diffusion operator or a
	// transform is requested before a successful Fit.
	ErrNotFitted = errors.New("pipeline: not fitted yet; call Fit with appropriate arguments first")

	// ErrNoEmbedding is returned when out-of-sample extension is
	// requested before any embedding has been computed.
	ErrNoEmbedding = errors.New("pipeline: no cached embedding; call Transform on the fitted data first")
)

// Grapher is the graph handle contract the pipeline consumes. Both the
// flat and the landmark-reduced graphs in core/graph satisfy it.
type Grapher interface {
	DiffOp() *mat.Dense
	NumSamples() int
	Landmarked() bool
	Extendable() bool
	ExtendToData(Y *mat.Dense) (*mat.Dense, error)
	Interpolate(emb, transitions *mat.Dense) (*mat.Dense, error)
	SetOptions(graph.Options) error
}

// GraphBuilder constructs a graph handle from data.
type GraphBuilder func(X *mat.Dense, opts graph.Options) (Grapher, error)

// MDSEngine embeds a dissimilarity matrix into coordinates.
type MDSEngine func(pot *mat.Dense, o mds.Options) (*mat.Dense, error)

// Option customizes a Pipeline, mainly to swap collaborators in tests.
type Option func(*Pipeline)

func WithGraphBuilder(b GraphBuilder) Option { return func(p *Pipeline) { p.build = b } }
func WithMDSEngine(e MDSEngine) Option       { return func(p *Pipeline) { p.embed = e } }
func WithLogger(l *slog.Logger) Option       { return func(p *Pipeline) { p.log = l } }

// Pipeline owns one dataset's staged computation. It is not safe for
// concurrent use: callers invoking Fit/Transform/SetParams from
// multiple goroutines must serialize externally. Independent instances
// are fully isolated.
type Pipeline struct {
	cfg   config.Config
	build GraphBuilder
	embed MDSEngine
	log   *slog.Logger

	x     *mat.Dense
	graph Grapher
	pot   *mat.Dense
	emb   *mat.Dense

	// Concrete diffusion depth backing the cached potential when the
	// configuration says auto.
	tSelected int
}

// New validates the configuration and returns a pipeline wired to the
// default collaborators.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg: cfg,
		build: func(X *mat.Dense, opts graph.Options) (Grapher, error) {
			return graph.Build(X, opts)
		},
		embed: mds.Embed,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = defaultLogger(cfg.Verbose)
	}
	return p, nil
}

func defaultLogger(verbose int) *slog.Logger {
	if verbose <= 0 {
		return slog.New(slog.DiscardHandler)
	}
	return slog.Default()
}

// Config returns a copy of the current parameter set.
func (p *Pipeline) Config() config.Config { return p.cfg }

// graphOptions translates the configuration into graph build options
// for data of the given shape. PCA and landmarking switch off when the
// data is already small enough, as the graph itself would refuse to
// reduce below its input size.
func (p *Pipeline) graphOptions(rows, cols int) graph.Options {
	opts := graph.Options{
		Metric:  metric.Metric(p.cfg.KNNDist),
		KNN:     p.cfg.K + 1,
		Decay:   p.cfg.A,
		Thresh:  graph.DefaultThresh,
		Jobs:    p.cfg.NJobs,
		Seed:    p.cfg.Seed(),
		Verbose: p.cfg.Verbose,
	}
	if p.cfg.NPCA != nil && cols > *p.cfg.NPCA {
		opts.NPCA = p.cfg.NPCA
	}
	if p.cfg.NLandmark != nil && rows > *p.cfg.NLandmark {
		opts.NLandmark = p.cfg.NLandmark
	}
	return opts
}

// Fit computes (or reuses) the graph and diffusion operator for X.
// Dataset identity is content equality: refitting with an elementwise
// identical matrix keeps the existing handle, anything else silently
// discards it. In-place parameter updates that the graph rejects fall
// back to a full rebuild.
func (p *Pipeline) Fit(X *mat.Dense) error {
	if X == nil {
		return errors.New("pipeline: Fit requires a data matrix")
	}
	if p.x != nil && !mat.Equal(X, p.x) {
		p.log.Info("input data changed, discarding cached graph")
		p.graph = nil
	}
	p.x = X

	rows, cols := X.Dims()
	if p.graph != nil {
		if err := p.graph.SetOptions(p.graphOptions(rows, cols)); err == nil {
			p.log.Info("using precomputed graph and diffusion operator")
			return nil
		} else if !errors.Is(err, graph.ErrRebuildRequired) {
			return fmt.Errorf("pipeline: updating graph parameters: %w", err)
		}
		p.graph = nil
	}

	start := time.Now()
	p.log.Info("building graph and diffusion operator",
		slog.Int("samples", rows), slog.Int("features", cols))
	g, err := p.build(X, p.graphOptions(rows, cols))
	if err != nil {
		return fmt.Errorf("pipeline: building graph: %w", err)
	}
	p.graph = g
	p.log.Info("built graph and diffusion operator",
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// Transform returns the low-dimensional coordinates for the fitted
// dataset, computing the potential and embedding lazily and reusing
// cached artifacts when no invalidating change occurred. Passing a
// matrix that differs from the fitted data requests out-of-sample
// extension: the cached embedding is interpolated through extension
// transitions without touching any cached state. The returned matrix is
// always a fresh copy.
func (p *Pipeline) Transform(X *mat.Dense) (*mat.Dense, error) {
	if p.graph == nil {
		return nil, ErrNotFitted
	}

	if X != nil && !mat.Equal(X, p.x) {
		return p.extend(X)
	}

	if p.pot == nil {
		t := p.cfg.T
		if p.cfg.TIsAuto() {
			selected, _, err := vne.OptimalT(p.graph.DiffOp(), vne.DefaultTMax)
			if err != nil {
				return nil, fmt.Errorf("pipeline: selecting t: %w", err)
			}
			if selected < 1 {
				selected = 1
			}
			p.tSelected = selected
			t = selected
			p.log.Info("automatically selected diffusion depth", slog.Int("t", t))
		}

		start := time.Now()
		p.log.Info("computing diffusion potential", slog.Int("t", t))
		pot, err := potential.Compute(p.graph.DiffOp(), t, potential.Method(p.cfg.PotentialMethod))
		if err != nil {
			return nil, fmt.Errorf("pipeline: diffusion potential: %w", err)
		}
		p.pot = pot
		p.log.Info("computed diffusion potential", slog.Duration("elapsed", time.Since(start)))
	}

	if p.emb == nil {
		start := time.Now()
		p.log.Info("embedding potential", slog.String("mds", p.cfg.MDS))
		emb, err := p.embed(p.pot, mds.Options{
			NDim:   p.cfg.NComponents,
			Method: mds.Method(p.cfg.MDS),
			Metric: metric.Metric(p.cfg.MDSDist),
			Jobs:   p.cfg.NJobs,
			Seed:   p.cfg.Seed(),
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: %s MDS: %w", p.cfg.MDS, err)
		}
		p.emb = emb
		p.log.Info("embedded potential", slog.Duration("elapsed", time.Since(start)))
	}

	if p.graph.Landmarked() {
		return p.graph.Interpolate(p.emb, nil)
	}
	return mat.DenseCopyOf(p.emb), nil
}

// extend interpolates the cached embedding for samples outside the
// fitted set. Extension never recomputes the potential or embedding.
func (p *Pipeline) extend(X *mat.Dense) (*mat.Dense, error) {
	p.log.Warn("transforming data outside the fitted set; interpolating from the cached embedding")
	if !p.graph.Extendable() {
		return nil, graph.ErrNotExtendable
	}
	if p.emb == nil {
		return nil, ErrNoEmbedding
	}
	transitions, err := p.graph.ExtendToData(X)
	if err != nil {
		return nil, fmt.Errorf("pipeline: extending to new data: %w", err)
	}
	return p.graph.Interpolate(p.emb, transitions)
}

// FitTransform runs Fit then Transform with stage logging only; it has
// no numeric effect beyond the two calls.
func (p *Pipeline) FitTransform(X *mat.Dense) (*mat.Dense, error) {
	start := time.Now()
	p.log.Info("running embedding pipeline")
	if err := p.Fit(X); err != nil {
		return nil, err
	}
	emb, err := p.Transform(nil)
	if err != nil {
		return nil, err
	}
	p.log.Info("embedding pipeline finished", slog.Duration("elapsed", time.Since(start)))
	return emb, nil
}

// SetParams validates and applies a full parameter set, clearing cached
// artifacts exactly per the dependency tiers: kernel changes drop the
// graph, potential and embedding; potential changes drop potential and
// embedding; embedding changes drop only the embedding. Cross-cutting
// values are pushed to the live graph without invalidating anything.
// On validation failure the stored configuration is unchanged.
func (p *Pipeline) SetParams(next config.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	inv := config.Diff(p.cfg, next)
	p.cfg = next

	if inv.Kernel {
		p.graph = nil
	}
	if inv.Potential {
		p.pot = nil
	}
	if inv.Embedding {
		p.emb = nil
	}
	if inv.Forward {
		p.log = defaultLogger(next.Verbose)
		if p.graph != nil && p.x != nil {
			rows, cols := p.x.Dims()
			// Same kernel parameters, so the in-place update cannot
			// legitimately fail; a rejection still just defers to the
			// next Fit.
			_ = p.graph.SetOptions(p.graphOptions(rows, cols))
		}
	}
	return nil
}

// DiffOp returns a dense copy of the diffusion operator — the landmark
// operator for landmark graphs. The copy costs one n×n allocation.
// Fails with ErrNotFitted before a successful Fit.
func (p *Pipeline) DiffOp() (*mat.Dense, error) {
	if p.graph == nil {
		return nil, ErrNotFitted
	}
	return mat.DenseCopyOf(p.graph.DiffOp()), nil
}

// VonNeumannEntropy traces the spectral entropy curve of the diffusion
// operator for depths 0 … tMax-1, for diagnostics or external plotting.
func (p *Pipeline) VonNeumannEntropy(tMax int) (vne.Curve, error) {
	if p.graph == nil {
		return nil, ErrNotFitted
	}
	return vne.Entropy(p.graph.DiffOp(), tMax)
}

// OptimalT returns the knee of the entropy curve, the depth automatic
// selection would use.
func (p *Pipeline) OptimalT(tMax int) (int, error) {
	if p.graph == nil {
		return 0, ErrNotFitted
	}
	start := time.Now()
	t, _, err := vne.OptimalT(p.graph.DiffOp(), tMax)
	if err != nil {
		return 0, err
	}
	p.log.Info("located entropy knee", slog.Int("t", t),
		slog.Duration("elapsed", time.Since(start)))
	return t, nil
}
