package pipeline

import (
	"context"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/metrics"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// Evaluate predicts every row of test and compares against its target column.
func Evaluate(ctx context.Context, m *Model, test *dataset.Dataset) (*metrics.EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.NewNotFittedError("Model", "Evaluate")
	}
	if test.NRows() == 0 {
		return nil, errors.NewInvalidParameterError("test", "cannot evaluate an empty set", 0)
	}
	if err := CheckTarget(test.Schema(), m.target); err != nil {
		return nil, err
	}
	actual, err := test.Strings(m.target)
	if err != nil {
		return nil, err
	}
	predicted, err := m.Predict(test)
	if err != nil {
		return nil, err
	}
	return metrics.Evaluate(actual, predicted)
}
