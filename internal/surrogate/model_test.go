package surrogate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// deterministicConfig grows every tree on the full data down to single-row
// leaves, so trained points are reproduced exactly.
func deterministicConfig() Config {
	cfg := DefaultConfig()
	cfg.Bootstrap = false
	cfg.RatioFeatures = 1.0
	cfg.MinSamplesSplit = 2
	cfg.MinSamplesLeaf = 1
	return cfg
}

func trainSimpleModel(t *testing.T, cfg Config) *Model {
	t.Helper()

	m, err := New([]int{0}, nil, cfg)
	require.NoError(t, err)

	configs := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	targets := mat.NewDense(4, 1, []float64{10, 20, 30, 40})
	_, err = m.Train(configs, nil, targets)
	require.NoError(t, err)
	return m
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, DefaultConfig())
	assert.True(t, IsDimensionMismatch(err))

	_, err = New([]int{0, 65}, nil, DefaultConfig())
	assert.True(t, IsDimensionMismatch(err), "arity above 64 is unsupported")

	_, err = New([]int{0, -1}, nil, DefaultConfig())
	assert.True(t, IsDimensionMismatch(err))

	// instance feature dimensions must be continuous
	_, err = New([]int{0, 3}, [][]float64{{1}}, DefaultConfig())
	assert.True(t, IsDimensionMismatch(err))

	// instance width must leave at least one configuration dimension
	_, err = New([]int{0}, [][]float64{{1}}, DefaultConfig())
	assert.True(t, IsDimensionMismatch(err))

	_, err = New([]int{0, 0}, [][]float64{{1}, {2, 3}}, DefaultConfig())
	assert.True(t, IsDimensionMismatch(err), "ragged instance features")
}

func TestDummyInstancePadding(t *testing.T) {
	m, err := New([]int{0, 0}, nil, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 2, m.ConfigWidth())
	assert.Equal(t, 3, m.FeatureWidth(), "one dummy column is appended")
}

func TestPredictUntrained(t *testing.T) {
	m, err := New([]int{0}, nil, DefaultConfig())
	require.NoError(t, err)

	_, _, err = m.Predict(mat.NewDense(1, 2, []float64{1, 0}))
	assert.True(t, IsInvalidState(err))
	assert.Contains(t, err.Error(), "has not been trained")

	_, _, err = m.PredictMarginalized(mat.NewDense(1, 1, []float64{1}))
	assert.True(t, IsInvalidState(err))
}

func TestPredictShapeErrors(t *testing.T) {
	m := trainSimpleModel(t, deterministicConfig())

	// rank 1 input
	_, _, err := m.Predict(mat.NewVecDense(2, []float64{1, 0}))
	assert.True(t, IsShapeError(err))
	assert.Contains(t, err.Error(), "rank 2")

	// wrong column count; the message cites expected and actual widths
	_, _, err = m.Predict(mat.NewDense(1, 3, []float64{1, 0, 0}))
	assert.True(t, IsShapeError(err))
	assert.Contains(t, err.Error(), "should have 2 entries but have 3")

	_, _, err = m.Predict(nil)
	assert.True(t, IsShapeError(err))
}

func TestShapeCheckedBeforeTrainedState(t *testing.T) {
	m, err := New([]int{0}, nil, DefaultConfig())
	require.NoError(t, err)

	// an untrained model still reports the shape problem first
	_, _, err = m.Predict(mat.NewVecDense(2, []float64{1, 0}))
	assert.True(t, IsShapeError(err))
}

func TestTrainAndPredictExact(t *testing.T) {
	m := trainSimpleModel(t, deterministicConfig())

	X := mat.NewDense(4, 2, []float64{
		0, 0,
		1, 0,
		2, 0,
		3, 0,
	})
	means, variances, err := m.Predict(X)
	require.NoError(t, err)

	want := []float64{10, 20, 30, 40}
	for i, w := range want {
		assert.InDelta(t, w, means.At(i, 0), 1e-12)
		assert.Equal(t, VarThreshold, variances.At(i, 0), "pure leaves floor to the variance threshold")
	}
}

func TestVarianceFloor(t *testing.T) {
	cfg := deterministicConfig()
	m, err := New([]int{0}, nil, cfg)
	require.NoError(t, err)

	// identical targets everywhere give zero raw variance
	configs := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	targets := mat.NewDense(4, 1, []float64{5, 5, 5, 5})
	_, err = m.Train(configs, nil, targets)
	require.NoError(t, err)

	means, variances, err := m.Predict(mat.NewDense(2, 2, []float64{0, 0, 9, 0}))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		assert.Equal(t, 5.0, means.At(i, 0))
		assert.Equal(t, VarThreshold, variances.At(i, 0))
	}
}

func TestVarianceNeverBelowFloor(t *testing.T) {
	m := trainSimpleModel(t, DefaultConfig())

	X := mat.NewDense(5, 2, []float64{
		-1, 0,
		0.5, 0,
		1.5, 0,
		2.5, 0,
		10, 0,
	})
	_, variances, err := m.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.GreaterOrEqual(t, variances.At(i, 0), VarThreshold)
	}
}

func TestPredictMarginalizedDummyRoundTrip(t *testing.T) {
	m := trainSimpleModel(t, DefaultConfig())

	X := mat.NewDense(3, 1, []float64{0.5, 1.5, 2.5})
	padded := mat.NewDense(3, 2, []float64{0.5, 0, 1.5, 0, 2.5, 0})

	mMean, mVar, err := m.PredictMarginalized(X)
	require.NoError(t, err)
	pMean, pVar, err := m.Predict(padded)
	require.NoError(t, err)

	// with no real instances, marginalization is plain prediction over the
	// dummy-padded input
	assert.True(t, mat.Equal(mMean, pMean))
	assert.True(t, mat.Equal(mVar, pVar))
}

func TestPredictMarginalizedOverInstances(t *testing.T) {
	cfg := deterministicConfig()

	// one configuration dimension plus one instance feature dimension
	instances := [][]float64{{0}, {10}}
	m, err := New([]int{0, 0}, instances, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ConfigWidth())
	assert.Equal(t, 2, m.FeatureWidth())

	configs := mat.NewDense(3, 1, []float64{0, 1, 2})
	pairs := [][2]int{
		{0, 0}, {0, 1},
		{1, 0}, {1, 1},
		{2, 0}, {2, 1},
	}
	// target = config + instance feature
	targets := mat.NewDense(6, 1, []float64{0, 10, 1, 11, 2, 12})
	_, err = m.Train(configs, pairs, targets)
	require.NoError(t, err)

	X := mat.NewDense(1, 1, []float64{1})
	means, variances, err := m.PredictMarginalized(X)
	require.NoError(t, err)

	m0, _, err := m.Predict(mat.NewDense(1, 2, []float64{1, 0}))
	require.NoError(t, err)
	m1, _, err := m.Predict(mat.NewDense(1, 2, []float64{1, 10}))
	require.NoError(t, err)

	assert.InDelta(t, (m0.At(0, 0)+m1.At(0, 0))/2, means.At(0, 0), 1e-12)
	assert.GreaterOrEqual(t, variances.At(0, 0), VarThreshold)
}

func TestTrainValidation(t *testing.T) {
	m, err := New([]int{0}, nil, DefaultConfig())
	require.NoError(t, err)

	_, err = m.Train(nil, nil, mat.NewDense(1, 1, []float64{1}))
	assert.True(t, IsDimensionMismatch(err))

	// configuration width disagrees with the feature specification
	_, err = m.Train(mat.NewDense(1, 2, []float64{1, 2}), nil, mat.NewDense(1, 1, []float64{1}))
	assert.True(t, IsDimensionMismatch(err))

	// pair referencing a configuration that was never imported
	_, err = m.Train(
		mat.NewDense(1, 1, []float64{1}),
		[][2]int{{3, 0}},
		mat.NewDense(1, 1, []float64{1}),
	)
	assert.True(t, IsDimensionMismatch(err))
}

func TestTrainChaining(t *testing.T) {
	m, err := New([]int{0}, nil, deterministicConfig())
	require.NoError(t, err)

	configs := mat.NewDense(3, 1, []float64{0, 1, 2})
	targets := mat.NewDense(3, 1, []float64{1, 2, 3})

	trained, err := m.Train(configs, nil, targets)
	require.NoError(t, err)
	assert.Same(t, m, trained)
	assert.True(t, m.Trained())
}

func TestRetrainReplacesState(t *testing.T) {
	cfg := deterministicConfig()
	m := trainSimpleModel(t, cfg)

	configs := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	targets := mat.NewDense(4, 1, []float64{40, 30, 20, 10})
	_, err := m.Train(configs, nil, targets)
	require.NoError(t, err)

	means, _, err := m.Predict(mat.NewDense(1, 2, []float64{0, 0}))
	require.NoError(t, err)
	assert.InDelta(t, 40.0, means.At(0, 0), 1e-12)
}

func TestHypers(t *testing.T) {
	cfg := DefaultConfig()
	m, err := New([]int{0}, nil, cfg)
	require.NoError(t, err)

	hypers := m.Hypers()
	require.Len(t, hypers, 10)
	assert.Equal(t, cfg.NumTrees, hypers[0])
	assert.Equal(t, cfg.MaxNodes, hypers[1])
	assert.Equal(t, cfg.Bootstrap, hypers[2])
	assert.Equal(t, cfg.PointsPerTree, hypers[3])
	assert.Equal(t, cfg.RatioFeatures, hypers[4])
	assert.Equal(t, cfg.MinSamplesSplit, hypers[5])
	assert.Equal(t, cfg.MinSamplesLeaf, hypers[6])
	assert.Equal(t, cfg.MaxDepth, hypers[7])
	assert.Equal(t, cfg.EpsPurity, hypers[8])
	assert.Equal(t, cfg.Seed, hypers[9])
}

func TestCategoricalModel(t *testing.T) {
	cfg := deterministicConfig()

	// one categorical dimension with three values and one continuous one
	m, err := New([]int{3, 0}, nil, cfg)
	require.NoError(t, err)

	configs := mat.NewDense(6, 2, []float64{
		0, 0.1,
		0, 0.2,
		1, 0.1,
		1, 0.2,
		2, 0.1,
		2, 0.2,
	})
	targets := mat.NewDense(6, 1, []float64{0, 0, 0, 0, 100, 100})
	_, err = m.Train(configs, nil, targets)
	require.NoError(t, err)

	means, _, err := m.Predict(mat.NewDense(2, 3, []float64{
		0, 0.15, 0,
		2, 0.15, 0,
	}))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, means.At(0, 0), 1e-12)
	assert.InDelta(t, 100.0, means.At(1, 0), 1e-12)
}
