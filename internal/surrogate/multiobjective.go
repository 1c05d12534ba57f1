package surrogate

import (
	"gonum.org/v1/gonum/mat"
)

// MultiObjective predicts several uncorrelated target dimensions with one
// independent forest per target. All estimators share the same feature
// specification, instance features and hyperparameters.
type MultiObjective struct {
	names  []string
	models []*Model
}

// NewMultiObjective constructs one surrogate model per target name.
func NewMultiObjective(targetNames []string, types []int, instanceFeatures [][]float64, cfg Config) (*MultiObjective, error) {
	const op = "NewMultiObjective"

	if len(targetNames) == 0 {
		return nil, newDimensionMismatchf(op, "no target names given")
	}

	models := make([]*Model, len(targetNames))
	for i := range targetNames {
		model, err := New(types, instanceFeatures, cfg)
		if err != nil {
			return nil, err
		}
		models[i] = model
	}

	return &MultiObjective{
		names:  append([]string(nil), targetNames...),
		models: models,
	}, nil
}

// Train fits one forest per column of Y, which must have one column per
// target name. It returns the wrapper itself to support call chaining.
func (mo *MultiObjective) Train(configs *mat.Dense, pairs [][2]int, Y mat.Matrix) (*MultiObjective, error) {
	const op = "MultiObjective.Train"

	if Y == nil {
		return nil, newDimensionMismatchf(op, "targets must not be nil")
	}
	rows, cols := Y.Dims()
	if cols != len(mo.models) {
		return nil, newDimensionMismatchf(op, "Y has %d columns, model predicts %d targets", cols, len(mo.models))
	}

	for j, model := range mo.models {
		yj := mat.NewDense(rows, 1, mat.Col(nil, j, Y))
		if _, err := model.Train(configs, pairs, yj); err != nil {
			return nil, err
		}
	}
	return mo, nil
}

// Predict returns [n, targets] mean and variance matrices for the rows of
// X, one column per target.
func (mo *MultiObjective) Predict(X mat.Matrix) (means, variances *mat.Dense, err error) {
	return mo.predictWith(X, (*Model).Predict)
}

// PredictMarginalized returns [n, targets] mean and variance matrices
// marginalized over all stored instances.
func (mo *MultiObjective) PredictMarginalized(X mat.Matrix) (means, variances *mat.Dense, err error) {
	return mo.predictWith(X, (*Model).PredictMarginalized)
}

// TargetNames returns the target dimension names, in estimator order.
func (mo *MultiObjective) TargetNames() []string {
	return append([]string(nil), mo.names...)
}

func (mo *MultiObjective) predictWith(X mat.Matrix, predict func(*Model, mat.Matrix) (*mat.Dense, *mat.Dense, error)) (*mat.Dense, *mat.Dense, error) {
	var means, variances *mat.Dense
	for j, model := range mo.models {
		mj, vj, err := predict(model, X)
		if err != nil {
			return nil, nil, err
		}
		if means == nil {
			r, _ := mj.Dims()
			means = mat.NewDense(r, len(mo.models), nil)
			variances = mat.NewDense(r, len(mo.models), nil)
		}
		means.SetCol(j, mat.Col(nil, 0, mj))
		variances.SetCol(j, mat.Col(nil, 0, vj))
	}
	return means, variances, nil
}
