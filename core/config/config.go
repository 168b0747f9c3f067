// Package config holds the validated parameter set for the embedding
// pipeline and the dependency table that drives cache invalidation.
package config

import (
	"errors"
	"fmt"

	"github.com/adalundhe/diffuse/core/mds"
	"github.com/adalundhe/diffuse/core/metric"
	"github.com/adalundhe/diffuse/core/potential"
)

// TAuto selects the diffusion depth automatically from the knee of the
// von Neumann entropy curve.
const TAuto = 0

// ErrInvalidParam wraps every validation failure so callers can test
// for the class with errors.Is.
var ErrInvalidParam = errors.New("config: invalid parameter")

// Config is the single source of truth for what the cached pipeline
// artifacts were computed with. Nullable options use pointers; nil
// means disabled. Yaml tags support loading a parameter file from the
// CLI.
type Config struct {
	// Embedding tier.
	NComponents int    `yaml:"n_components"`
	MDS         string `yaml:"mds"`      // classic | metric | nonmetric
	MDSDist     string `yaml:"mds_dist"` // metric name

	// Potential tier.
	T               int    `yaml:"t"` // TAuto (0) selects by entropy knee
	PotentialMethod string `yaml:"potential_method"` // log | sqrt

	// Kernel tier.
	K         int    `yaml:"k"`
	A         *int   `yaml:"a"`          // nil disables alpha decay
	NLandmark *int   `yaml:"n_landmark"` // nil disables landmarking
	NPCA      *int   `yaml:"n_pca"`      // nil disables PCA reduction
	KNNDist   string `yaml:"knn_dist"`   // metric name or "precomputed"

	// Cross-cutting: forwarded to collaborators, never invalidate.
	NJobs       int    `yaml:"n_jobs"` // negative = relative to CPU count
	RandomState *int64 `yaml:"random_state"`
	Verbose     int    `yaml:"verbose"`
}

// Default returns the canonical defaults: 2 output components, k=5
// neighbors, decay a=10, 2000 landmarks, automatic t, log potential,
// 100 PCA components, euclidean distances, metric MDS, one job.
func Default() Config {
	a := 10
	landmark := 2000
	npca := 100
	return Config{
		NComponents:     2,
		MDS:             string(mds.MetricMDS),
		MDSDist:         string(metric.Euclidean),
		T:               TAuto,
		PotentialMethod: string(potential.Log),
		K:               5,
		A:               &a,
		NLandmark:       &landmark,
		NPCA:            &npca,
		KNNDist:         string(metric.Euclidean),
		NJobs:           1,
		Verbose:         1,
	}
}

// Validate checks every option against its enumerated domain. It fails
// eagerly so bad values surface at configuration time, never minutes
// into the matrix power.
func (c Config) Validate() error {
	if c.NComponents < 1 {
		return paramErr("n_components", "must be a positive integer")
	}
	if c.K < 1 {
		return paramErr("k", "must be a positive integer")
	}
	if c.A != nil && *c.A < 1 {
		return paramErr("a", "must be a positive integer or null")
	}
	if c.NLandmark != nil && *c.NLandmark < 1 {
		return paramErr("n_landmark", "must be a positive integer or null")
	}
	if c.NPCA != nil && *c.NPCA < 1 {
		return paramErr("n_pca", "must be a positive integer or null")
	}
	if c.T < 0 {
		return paramErr("t", "must be a positive integer or auto")
	}
	switch potential.Method(c.PotentialMethod) {
	case potential.Log, potential.Sqrt:
	default:
		return paramErr("potential_method", "must be one of: log, sqrt")
	}
	switch mds.Method(c.MDS) {
	case mds.Classic, mds.MetricMDS, mds.Nonmetric:
	default:
		return paramErr("mds", "must be one of: classic, metric, nonmetric")
	}
	if !metric.Valid(c.KNNDist, true) {
		return paramErr("knn_dist", fmt.Sprintf("unknown distance metric %q", c.KNNDist))
	}
	if !metric.Valid(c.MDSDist, false) {
		return paramErr("mds_dist", fmt.Sprintf("unknown distance metric %q", c.MDSDist))
	}
	if c.Verbose < 0 {
		return paramErr("verbose", "must be a non-negative level")
	}
	return nil
}

func paramErr(name, msg string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidParam, name, msg)
}

// TIsAuto reports whether the diffusion depth is selected automatically.
func (c Config) TIsAuto() bool { return c.T == TAuto }

// Precomputed reports whether the kNN distance mode expects a
// precomputed pairwise matrix as input.
func (c Config) Precomputed() bool {
	return metric.Metric(c.KNNDist) == metric.Precomputed
}

// Seed returns the configured random seed, or 0 when unset (collaborators
// treat 0 as time-based).
func (c Config) Seed() int64 {
	if c.RandomState == nil {
		return 0
	}
	return *c.RandomState
}
