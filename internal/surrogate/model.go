// Package surrogate implements a random-forest surrogate regression model
// for Bayesian optimization over configurations, with optional per-instance
// features and predictions marginalized over all known instances.
package surrogate

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/TAIGA/internal/forest"
)

// VarThreshold is the variance floor. No returned predictive variance is
// ever below it, and NaN variances are replaced by it: acquisition-function
// consumers divide by the predictive standard deviation, so zero, negative
// or NaN variances would poison the optimization loop.
const VarThreshold = 1e-5

// maxArity bounds categorical dimensions; category membership in a split is
// a 64-bit value mask.
const maxArity = 64

// Config holds the model hyperparameters. The zero value is not useful;
// start from DefaultConfig. New fills non-positive numeric fields from the
// defaults, Bootstrap is taken as given.
type Config struct {
	NumTrees        int
	Bootstrap       bool
	PointsPerTree   int
	RatioFeatures   float64
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxDepth        int
	EpsPurity       float64
	MaxNodes        int
	Seed            int64
	Workers         int
}

// DefaultConfig returns the standard surrogate hyperparameters.
func DefaultConfig() Config {
	return Config{
		NumTrees:        10,
		Bootstrap:       true,
		PointsPerTree:   0,
		RatioFeatures:   5.0 / 6.0,
		MinSamplesSplit: 3,
		MinSamplesLeaf:  3,
		MaxDepth:        20,
		EpsPurity:       1e-8,
		MaxNodes:        1000,
		Seed:            42,
		Workers:         1,
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.NumTrees < 1 {
		cfg.NumTrees = def.NumTrees
	}
	if cfg.RatioFeatures <= 0 {
		cfg.RatioFeatures = def.RatioFeatures
	}
	if cfg.MinSamplesSplit < 1 {
		cfg.MinSamplesSplit = def.MinSamplesSplit
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = def.MinSamplesLeaf
	}
	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.EpsPurity <= 0 {
		cfg.EpsPurity = def.EpsPurity
	}
	if cfg.MaxNodes < 1 {
		cfg.MaxNodes = def.MaxNodes
	}
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	return cfg
}

// Model is a random-forest surrogate over configurations and instance
// features. Construct it once per optimization run; Train may be called
// repeatedly and replaces the previous forest and data. Train is not safe
// to call concurrently with the predict methods on the same Model.
type Model struct {
	// types covers the full stored feature width: configuration dimensions
	// followed by instance feature dimensions (or the dummy column).
	types         []int
	configWidth   int
	instanceWidth int

	// instances is the stored instance feature table. With no real
	// instances it holds a single zero vector of width 1 and every
	// configuration row is implicitly padded with one continuous 0 column.
	instances      [][]float64
	dummyInstances bool

	cfg         Config
	maxFeatures int
	hypers      []interface{}

	forest  *forest.Forest
	store   *DataStore
	trained bool

	logger *zap.Logger
}

// New constructs a surrogate model. types holds one entry per feature
// dimension: 0 for continuous, k > 0 for categorical with integer-coded
// values in [0, k). When instanceFeatures is non-empty, types must already
// cover the configuration dimensions followed by the (continuous) instance
// feature dimensions. When it is empty, types covers configurations only
// and a dummy zero instance feature is appended internally.
func New(types []int, instanceFeatures [][]float64, cfg Config) (*Model, error) {
	const op = "New"

	if len(types) == 0 {
		return nil, newDimensionMismatchf(op, "feature specification is empty")
	}
	for i, k := range types {
		if k < 0 || k > maxArity {
			return nil, newDimensionMismatchf(op, "dimension %d has arity %d, supported range is 0 to %d", i, k, maxArity)
		}
	}

	cfg = withDefaults(cfg)

	logger, _ := zap.NewDevelopment()

	m := &Model{
		cfg:    cfg,
		logger: logger.Named("surrogate"),
	}

	if len(instanceFeatures) > 0 {
		width := len(instanceFeatures[0])
		if width == 0 {
			return nil, newDimensionMismatchf(op, "instance feature vectors are empty")
		}
		if width >= len(types) {
			return nil, newDimensionMismatchf(op, "instance features have %d dimensions but types covers only %d", width, len(types))
		}
		for i, f := range instanceFeatures {
			if len(f) != width {
				return nil, newDimensionMismatchf(op, "instance %d has %d features, instance 0 has %d", i, len(f), width)
			}
		}
		for d := len(types) - width; d < len(types); d++ {
			if types[d] != 0 {
				return nil, newDimensionMismatchf(op, "instance feature dimension %d must be continuous, has arity %d", d, types[d])
			}
		}
		m.types = append([]int(nil), types...)
		m.instanceWidth = width
		m.configWidth = len(types) - width
		m.instances = copyRows(instanceFeatures)
	} else {
		m.dummyInstances = true
		m.types = append(append([]int(nil), types...), 0)
		m.instanceWidth = 1
		m.configWidth = len(types)
		m.instances = [][]float64{{0}}
	}

	// the feature ratio applies to the dimensions the caller specified,
	// before any dummy padding
	if cfg.RatioFeatures >= 1.0 {
		m.maxFeatures = 0
	} else {
		m.maxFeatures = int(float64(len(types)) * cfg.RatioFeatures)
		if m.maxFeatures < 1 {
			m.maxFeatures = 1
		}
	}

	// hyperparameter list exported for run checkpointing
	m.hypers = []interface{}{
		cfg.NumTrees, cfg.MaxNodes, cfg.Bootstrap, cfg.PointsPerTree,
		cfg.RatioFeatures, cfg.MinSamplesSplit, cfg.MinSamplesLeaf,
		cfg.MaxDepth, cfg.EpsPurity, cfg.Seed,
	}

	return m, nil
}

// Train fits the forest to the given configurations, (configuration index,
// instance index) pairs and targets, replacing any previously trained
// state. The targets matrix is flattened row-major. A nil pairs slice maps
// configuration i to instance 0, one sample per configuration. Train
// returns the model itself to support call chaining.
func (m *Model) Train(configs *mat.Dense, pairs [][2]int, targets mat.Matrix) (*Model, error) {
	const op = "Train"

	if configs == nil || targets == nil {
		return nil, newDimensionMismatchf(op, "configurations and targets must not be nil")
	}
	nConfigs, width := configs.Dims()
	if width != m.configWidth {
		return nil, newDimensionMismatchf(op, "configurations have %d entries, model expects %d", width, m.configWidth)
	}

	y := flatten(targets)

	if pairs == nil {
		pairs = make([][2]int, nConfigs)
		for i := range pairs {
			pairs[i] = [2]int{i, 0}
		}
	}

	store := NewDataStore(m.configWidth, m.instanceWidth)
	rows := make([][]float64, nConfigs)
	for i := range rows {
		rows[i] = mat.Row(nil, i, configs)
	}
	if err := store.ImportConfigurations(rows); err != nil {
		return nil, err
	}
	if err := store.ImportInstances(m.instances); err != nil {
		return nil, err
	}
	if err := store.AddDataPoints(pairs, y); err != nil {
		return nil, err
	}

	f := forest.New(m.forestConfig())
	if err := f.Fit(store.Rows(), store.Targets(), m.types); err != nil {
		return nil, wrapKind(err, KindDimensionMismatch, op, "forest fit failed")
	}

	m.store = store
	m.forest = f
	m.trained = true

	m.logger.Debug("trained surrogate model",
		zap.Int("rows", len(store.Rows())),
		zap.Int("trees", f.NumTrees()),
		zap.Int("instances", store.NumInstances()),
	)

	return m, nil
}

// Predict returns the predictive mean and variance for every row of X as
// [n,1] column vectors. X must be a rank 2 matrix whose column count equals
// the stored feature width (configuration plus instance columns). The
// variance floor is applied to every returned variance.
func (m *Model) Predict(X mat.Matrix) (means, variances *mat.Dense, err error) {
	const op = "Predict"

	if err := m.checkInput(op, X, len(m.types)); err != nil {
		return nil, nil, err
	}

	n, _ := X.Dims()
	means = mat.NewDense(n, 1, nil)
	variances = mat.NewDense(n, 1, nil)

	for i := 0; i < n; i++ {
		mean, variance, err := m.forest.Predict(mat.Row(nil, i, X))
		if err != nil {
			return nil, nil, wrapKind(err, KindInvalidState, op, "forest prediction failed")
		}
		means.Set(i, 0, mean)
		variances.Set(i, 0, floorVariance(variance))
	}

	return means, variances, nil
}

// PredictMarginalized returns mean and variance marginalized over all
// stored instances, as [n,1] column vectors. X carries configuration
// dimensions only. With no real instance features this reduces to Predict
// after padding each row with the dummy zero column.
func (m *Model) PredictMarginalized(X mat.Matrix) (means, variances *mat.Dense, err error) {
	const op = "PredictMarginalized"

	if err := m.checkInput(op, X, m.configWidth); err != nil {
		return nil, nil, err
	}

	if m.dummyInstances {
		return m.Predict(padDummyColumn(X))
	}

	n, _ := X.Dims()
	means = mat.NewDense(n, 1, nil)
	variances = mat.NewDense(n, 1, nil)

	for i := 0; i < n; i++ {
		mean, variance, err := m.forest.PredictMarginalized(mat.Row(nil, i, X), m.store.Instances())
		if err != nil {
			return nil, nil, wrapKind(err, KindInvalidState, op, "marginalized prediction failed")
		}
		means.Set(i, 0, mean)
		variances.Set(i, 0, floorVariance(variance))
	}

	return means, variances, nil
}

// Hypers returns the ordered hyperparameter list, an opaque export for
// optimization-run checkpointing.
func (m *Model) Hypers() []interface{} {
	return append([]interface{}(nil), m.hypers...)
}

// Trained reports whether a successful Train has happened.
func (m *Model) Trained() bool { return m.trained }

// ConfigWidth returns the number of configuration dimensions.
func (m *Model) ConfigWidth() int { return m.configWidth }

// FeatureWidth returns the full stored feature width, dummy column
// included.
func (m *Model) FeatureWidth() int { return len(m.types) }

// checkInput validates the prediction input contract. Shape checks come
// before any state or computation so that no partial work happens on a
// malformed call.
func (m *Model) checkInput(op string, X mat.Matrix, wantCols int) error {
	if X == nil {
		return newShapeErrorf(op, "expected a rank 2 matrix, got nil")
	}
	if _, ok := X.(mat.Vector); ok {
		return newShapeErrorf(op, "expected a rank 2 matrix, got a rank 1 vector")
	}
	if _, cols := X.Dims(); cols != wantCols {
		return newShapeErrorf(op, "rows in X should have %d entries but have %d", wantCols, cols)
	}
	if !m.trained {
		return newInvalidState(op, "model has not been trained")
	}
	return nil
}

// floorVariance clamps sub-threshold and NaN variances to VarThreshold.
// Numerical anomalies here are smoothed, not reported as errors.
func floorVariance(v float64) float64 {
	if math.IsNaN(v) || v < VarThreshold {
		return VarThreshold
	}
	return v
}

func (m *Model) forestConfig() forest.Config {
	return forest.Config{
		NumTrees:        m.cfg.NumTrees,
		Bootstrap:       m.cfg.Bootstrap,
		PointsPerTree:   m.cfg.PointsPerTree,
		MaxFeatures:     m.maxFeatures,
		MinSamplesSplit: m.cfg.MinSamplesSplit,
		MinSamplesLeaf:  m.cfg.MinSamplesLeaf,
		MaxDepth:        m.cfg.MaxDepth,
		MaxNodes:        m.cfg.MaxNodes,
		EpsPurity:       m.cfg.EpsPurity,
		Seed:            m.cfg.Seed,
		Workers:         m.cfg.Workers,
	}
}

// flatten turns a targets matrix of any shape into a 1-D row-major slice.
func flatten(targets mat.Matrix) []float64 {
	r, c := targets.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, targets.At(i, j))
		}
	}
	return out
}

// padDummyColumn appends one zero column to X.
func padDummyColumn(X mat.Matrix) *mat.Dense {
	r, c := X.Dims()
	out := mat.NewDense(r, c+1, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(i, j))
		}
	}
	return out
}
