// The embed command: dense CSV in, embedded coordinates CSV out. All
// numerics live in core; the command only adapts formats and
// parameters.

package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/adalundhe/diffuse/core/config"
	"github.com/adalundhe/diffuse/core/pipeline"
)

var embedFlags struct {
	input      string
	output     string
	configPath string

	nComponents int
	k           int
	a           int
	nLandmark   int
	t           int
	potential   string
	nPCA        int
	knnDist     string
	mdsDist     string
	mdsMethod   string
	nJobs       int
	seed        int64
	verbose     int
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed a CSV point cloud into low-dimensional coordinates",
	RunE:  runEmbed,
}

func init() {
	f := embedCmd.Flags()
	f.StringVarP(&embedFlags.input, "input", "i", "", "input CSV of points, one row per sample (required)")
	f.StringVarP(&embedFlags.output, "output", "o", "", "output CSV for coordinates (default: stdout)")
	f.StringVarP(&embedFlags.configPath, "config", "c", "", "YAML parameter file; flags override it")

	d := config.Default()
	f.IntVar(&embedFlags.nComponents, "n-components", d.NComponents, "embedding dimensions")
	f.IntVar(&embedFlags.k, "k", d.K, "nearest neighbors for the kernel")
	f.IntVar(&embedFlags.a, "a", *d.A, "decay rate of kernel tails; 0 disables alpha decay")
	f.IntVar(&embedFlags.nLandmark, "n-landmark", *d.NLandmark, "landmark count; 0 disables landmarking")
	f.IntVar(&embedFlags.t, "t", config.TAuto, "diffusion depth; 0 selects automatically via the entropy knee")
	f.StringVar(&embedFlags.potential, "potential-method", d.PotentialMethod, "potential transform: log or sqrt")
	f.IntVar(&embedFlags.nPCA, "n-pca", *d.NPCA, "principal components for neighborhoods; 0 disables PCA")
	f.StringVar(&embedFlags.knnDist, "knn-dist", d.KNNDist, "kNN distance metric, or precomputed")
	f.StringVar(&embedFlags.mdsDist, "mds-dist", d.MDSDist, "MDS distance metric")
	f.StringVar(&embedFlags.mdsMethod, "mds", d.MDS, "MDS variant: classic, metric or nonmetric")
	f.IntVar(&embedFlags.nJobs, "n-jobs", d.NJobs, "job count; negative is relative to CPU count")
	f.Int64Var(&embedFlags.seed, "seed", 0, "random seed; 0 leaves it unset")
	f.IntVar(&embedFlags.verbose, "verbose", d.Verbose, "verbosity level")

	_ = embedCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	X, err := readCSVMatrix(embedFlags.input)
	if err != nil {
		return fmt.Errorf("reading %s: %w", embedFlags.input, err)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}
	coords, err := p.FitTransform(X)
	if err != nil {
		return err
	}
	return writeCSVMatrix(embedFlags.output, coords)
}

// buildConfig layers defaults, the optional YAML file, and explicitly
// set flags, in that order.
func buildConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	if embedFlags.configPath != "" {
		raw, err := os.ReadFile(embedFlags.configPath)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if set("n-components") {
		cfg.NComponents = embedFlags.nComponents
	}
	if set("k") {
		cfg.K = embedFlags.k
	}
	if set("a") {
		cfg.A = optionalInt(embedFlags.a)
	}
	if set("n-landmark") {
		cfg.NLandmark = optionalInt(embedFlags.nLandmark)
	}
	if set("t") {
		cfg.T = embedFlags.t
	}
	if set("potential-method") {
		cfg.PotentialMethod = embedFlags.potential
	}
	if set("n-pca") {
		cfg.NPCA = optionalInt(embedFlags.nPCA)
	}
	if set("knn-dist") {
		cfg.KNNDist = embedFlags.knnDist
	}
	if set("mds-dist") {
		cfg.MDSDist = embedFlags.mdsDist
	}
	if set("mds") {
		cfg.MDS = embedFlags.mdsMethod
	}
	if set("n-jobs") {
		cfg.NJobs = embedFlags.nJobs
	}
	if set("seed") {
		seed := embedFlags.seed
		cfg.RandomState = &seed
	}
	if set("verbose") {
		cfg.Verbose = embedFlags.verbose
	}
	return cfg, cfg.Validate()
}

func optionalInt(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func readCSVMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no rows")
	}

	cols := len(records[0])
	data := make([]float64, 0, len(records)*cols)
	for i, rec := range records {
		if len(rec) != cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i+1, len(rec), cols)
		}
		for _, field := range rec {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
			data = append(data, v)
		}
	}
	return mat.NewDense(len(records), cols, data), nil
}

func writeCSVMatrix(path string, m *mat.Dense) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	rows, cols := m.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
