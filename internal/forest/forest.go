package forest

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Config holds the forest hyperparameters.
type Config struct {
	// NumTrees is the ensemble size.
	NumTrees int

	// Bootstrap resamples the training rows with replacement per tree.
	Bootstrap bool

	// PointsPerTree caps the rows seen by each tree; 0 means all rows.
	PointsPerTree int

	// MaxFeatures is the candidate dimension count per split; 0 means all.
	MaxFeatures int

	// MinSamplesSplit is the minimum node size eligible for splitting.
	MinSamplesSplit int

	// MinSamplesLeaf is the minimum size of either child of a split.
	MinSamplesLeaf int

	// MaxDepth bounds the tree depth; 0 means unbounded.
	MaxDepth int

	// MaxNodes bounds the node count per tree; 0 means unbounded.
	MaxNodes int

	// EpsPurity is the minimum RSS reduction for a split to be kept.
	EpsPurity float64

	// Seed is the base seed; tree i is built from Seed+i.
	Seed int64

	// Workers is the number of concurrent tree builders.
	Workers int
}

// DefaultConfig returns the standard surrogate-model forest configuration.
func DefaultConfig() Config {
	return Config{
		NumTrees:        10,
		Bootstrap:       true,
		MinSamplesSplit: 3,
		MinSamplesLeaf:  3,
		MaxDepth:        20,
		MaxNodes:        1000,
		EpsPurity:       1e-8,
		Seed:            42,
		Workers:         1,
	}
}

// Forest is an ensemble of independently built regression trees.
type Forest struct {
	cfg   Config
	types []int
	trees []*Tree

	logger *zap.Logger
}

// New creates an unfitted forest. Non-positive counts fall back to the
// defaults.
func New(cfg Config) *Forest {
	if cfg.NumTrees < 1 {
		cfg.NumTrees = 10
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	logger, _ := zap.NewDevelopment()

	return &Forest{
		cfg:    cfg,
		logger: logger.Named("forest"),
	}
}

// Fit builds NumTrees trees over X and y. types gives the arity of each
// column of X: 0 for continuous, k > 0 for categorical with values 0..k-1.
// Tree i derives its generator from Seed+i before dispatch, so the fit is
// reproducible regardless of worker scheduling. Fit replaces any previous
// ensemble.
func (f *Forest) Fit(X [][]float64, y []float64, types []int) error {
	if len(X) != len(y) {
		return fmt.Errorf("X has %d rows but y has length %d", len(X), len(y))
	}
	if len(types) == 0 {
		return errors.New("types must not be empty")
	}
	for i, row := range X {
		if len(row) != len(types) {
			return fmt.Errorf("row %d has %d columns, types has length %d", i, len(row), len(types))
		}
	}

	f.types = append([]int(nil), types...)

	p := treeParams{
		types:           f.types,
		maxFeatures:     f.cfg.MaxFeatures,
		minSamplesSplit: f.cfg.MinSamplesSplit,
		minSamplesLeaf:  f.cfg.MinSamplesLeaf,
		maxDepth:        f.cfg.MaxDepth,
		maxNodes:        f.cfg.MaxNodes,
		epsPurity:       f.cfg.EpsPurity,
	}

	f.logger.Debug("fitting forest",
		zap.Int("rows", len(X)),
		zap.Int("trees", f.cfg.NumTrees),
		zap.Int("workers", f.cfg.Workers),
	)

	trees := make([]*Tree, f.cfg.NumTrees)

	in := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < f.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range in {
				rng := rand.New(rand.NewSource(f.cfg.Seed + int64(i)))
				inx := sampleRows(len(X), f.cfg, rng)
				trees[i] = buildTree(X, y, inx, p, rng)
			}
		}()
	}
	for i := 0; i < f.cfg.NumTrees; i++ {
		in <- i
	}
	close(in)
	wg.Wait()

	f.trees = trees
	return nil
}

// sampleRows selects the training rows for one tree. Bootstrapping draws
// with replacement; otherwise the full data is used, reduced to a seeded
// subsample when PointsPerTree caps it.
func sampleRows(n int, cfg Config, rng *rand.Rand) []int {
	if n == 0 {
		return nil
	}

	size := n
	if cfg.PointsPerTree > 0 && cfg.PointsPerTree < n {
		size = cfg.PointsPerTree
	}

	if cfg.Bootstrap {
		inx := make([]int, size)
		for i := range inx {
			inx[i] = rng.Intn(n)
		}
		return inx
	}

	inx := make([]int, n)
	for i := range inx {
		inx[i] = i
	}
	if size < n {
		rng.Shuffle(n, func(i, j int) { inx[i], inx[j] = inx[j], inx[i] })
		inx = inx[:size]
		sort.Ints(inx)
	}
	return inx
}

// Predict returns the predictive mean and variance at x. The variance is
// aggregated by the law of total variance, Var = E[Var_i] + Var[E_i]:
// dropping the between-tree term would collapse ensemble disagreement into
// pure leaf noise.
func (f *Forest) Predict(x []float64) (mean, variance float64, err error) {
	if len(f.trees) == 0 {
		return 0, 0, errors.New("forest has not been fitted")
	}
	if len(x) != len(f.types) {
		return 0, 0, fmt.Errorf("point has %d dimensions, forest was fitted with %d", len(x), len(f.types))
	}

	means := make([]float64, len(f.trees))
	vars := make([]float64, len(f.trees))
	for i, t := range f.trees {
		means[i], vars[i] = t.Predict(x)
	}

	mean, variance = aggregate(means, vars)
	return mean, variance, nil
}

// PredictMarginalized averages Predict(config ⧺ instance) over the given
// instance feature rows, combining the per-instance predictions with the
// same two-term variance rule rather than predicting one averaged point.
func (f *Forest) PredictMarginalized(config []float64, instances [][]float64) (mean, variance float64, err error) {
	if len(f.trees) == 0 {
		return 0, 0, errors.New("forest has not been fitted")
	}
	if len(instances) == 0 {
		return 0, 0, errors.New("no instances to marginalize over")
	}

	means := make([]float64, len(instances))
	vars := make([]float64, len(instances))

	joint := make([]float64, len(config)+len(instances[0]))
	copy(joint, config)
	for i, inst := range instances {
		copy(joint[len(config):], inst)
		m, v, err := f.Predict(joint)
		if err != nil {
			return 0, 0, err
		}
		means[i] = m
		vars[i] = v
	}

	mean, variance = aggregate(means, vars)
	return mean, variance, nil
}

// NumTrees returns the fitted ensemble size, 0 before Fit.
func (f *Forest) NumTrees() int { return len(f.trees) }

// Trees exposes the fitted trees.
func (f *Forest) Trees() []*Tree { return f.trees }

func aggregate(means, vars []float64) (float64, float64) {
	return stat.Mean(means, nil), stat.Mean(vars, nil) + stat.PopVariance(means, nil)
}
