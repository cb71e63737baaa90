package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/metrics"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
	"github.com/YuminosukeSato/clfpipe/preprocessing"
	"github.com/YuminosukeSato/clfpipe/sklearn/model_selection"
	"github.com/YuminosukeSato/clfpipe/sklearn/svm"
)

// CVConfig controls the repeated stratified cross-validation of a search.
type CVConfig struct {
	Folds   int
	Repeats int
	Seed    uint64
	// Workers bounds concurrently evaluated grid points; <= 0 means NumCPU.
	Workers int
}

// Validate checks the fold and repeat counts.
func (c CVConfig) Validate() error {
	if c.Folds < 2 {
		return errors.NewInvalidParameterError("folds", "must be at least 2", c.Folds)
	}
	if c.Repeats < 1 {
		return errors.NewInvalidParameterError("repeats", "must be at least 1", c.Repeats)
	}
	return nil
}

// SearchOutcome is the result of Search: every grid point's scores and the
// winning point refitted on the whole training split.
type SearchOutcome struct {
	Result *model_selection.SearchResult
	Model  *Model
}

// Search cross-validates every point of grid on train and refits the best
// point on all of train. Parameters are validated before any fit. Only
// train is read; the caller's test rows never reach this function.
func Search(ctx context.Context, trainer *Trainer, train *dataset.Dataset, grid *model_selection.ParameterGrid, cv CVConfig) (*SearchOutcome, error) {
	if grid == nil {
		return nil, errors.NewInvalidParameterError("grid", "must not be nil", nil)
	}
	if err := cv.Validate(); err != nil {
		return nil, err
	}
	for _, p := range grid.Points() {
		if err := trainer.CheckParams(p); err != nil {
			return nil, err
		}
	}
	if err := CheckTarget(train.Schema(), trainer.target); err != nil {
		return nil, err
	}
	labels, err := train.Strings(trainer.target)
	if err != nil {
		return nil, err
	}
	if err := checkClassCounts(labels, cv.Folds); err != nil {
		return nil, err
	}

	splitter := model_selection.NewRepeatedStratifiedKFold(cv.Folds, cv.Repeats, cv.Seed)
	folds, err := splitter.Split(labels)
	if err != nil {
		return nil, err
	}

	scorer := func(ctx context.Context, params model_selection.Params, fold model_selection.Fold) (float64, error) {
		fitRows, err := train.Subset(fold.Train)
		if err != nil {
			return 0, err
		}
		valRows, err := train.Subset(fold.Validation)
		if err != nil {
			return 0, err
		}
		m, err := trainer.Fit(ctx, fitRows, params)
		if err != nil {
			return 0, err
		}
		predicted, err := m.Predict(valRows)
		if err != nil {
			return 0, err
		}
		actual := make([]string, len(fold.Validation))
		for i, idx := range fold.Validation {
			actual[i] = labels[idx]
		}
		return metrics.AccuracyScore(actual, predicted)
	}

	logger := trainer.logger.With(log.ModelNameKey, trainer.variant.String())
	logger.Info("Hyperparameter search",
		log.OperationKey, log.OperationSearch,
		log.SamplesKey, train.NRows(),
		log.GridPointsKey, grid.Len(),
		log.FoldsKey, cv.Folds,
		log.RepeatsKey, cv.Repeats,
		log.RandomSeedKey, cv.Seed,
	)

	result, err := model_selection.GridSearchCV(ctx, grid, folds, scorer,
		model_selection.WithWorkers(cv.Workers),
		model_selection.WithSearchLogger(logger),
		model_selection.WithPointCallback(func(p model_selection.PointResult) {
			trainer.metrics.observePoint(trainer.variant, p)
		}),
	)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	best, err := trainer.Fit(ctx, train, result.BestParams)
	if err != nil {
		return nil, err
	}
	logger.Info("Refitted best point",
		log.OperationKey, log.OperationFit,
		log.PhaseKey, log.PhaseTraining,
		log.HyperParamsKey, result.BestParams.String(),
		log.AccuracyKey, result.BestScore,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return &SearchOutcome{Result: result, Model: best}, nil
}

// checkClassCounts rejects training labels in which some class has fewer
// rows than folds. Such a class can vanish from a cross-validation training
// fold, which would make that fold's fit fail mid-search.
func checkClassCounts(labels []string, folds int) error {
	counts := make(map[string]int)
	for _, l := range labels {
		counts[l]++
	}
	for _, class := range labels {
		if counts[class] < folds {
			return errors.NewInvalidParameterError("folds",
				fmt.Sprintf("class %q has %d training rows, fewer than the fold count", class, counts[class]), folds)
		}
	}
	return nil
}

// Default candidate values.
var (
	DefaultCPValues = []float64{0.001, 0.01, 0.1}
	DefaultCValues  = []float64{0.25, 0.5, 1}
)

// DefaultGrid returns the grid searched when none is configured. The tree
// searches cp. The SVM searches C at a single sigma estimated from the
// training design matrix (see svm.EstimateSigma).
func DefaultGrid(trainer *Trainer, train *dataset.Dataset, seed uint64) (*model_selection.ParameterGrid, error) {
	switch trainer.variant {
	case DecisionTree:
		return model_selection.NewParameterGrid(
			model_selection.Axis{Name: "cp", Values: DefaultCPValues},
		)
	case SVMRadial:
		sigma, err := EstimateSigma(trainer, train, seed)
		if err != nil {
			return nil, err
		}
		return model_selection.NewParameterGrid(
			model_selection.Axis{Name: "sigma", Values: []float64{sigma}},
			model_selection.Axis{Name: "C", Values: DefaultCValues},
		)
	}
	return nil, errors.NewInvalidParameterError("variant", "unknown variant", int(trainer.variant))
}

// EstimateSigma returns a single RBF sigma for train's design matrix, built
// the way the trainer builds it.
func EstimateSigma(trainer *Trainer, train *dataset.Dataset, seed uint64) (float64, error) {
	return estimateSigma(train, trainer.target, trainer.features, trainer.scale, seed)
}

func estimateSigma(train *dataset.Dataset, target string, features []string, scale bool, seed uint64) (float64, error) {
	resolved, err := preprocessing.ResolveFeatures(train.Schema(), target, features)
	if err != nil {
		return 0, err
	}
	_, X, err := preprocessing.FitDesign(train, resolved, scale)
	if err != nil {
		return 0, err
	}
	var rng svm.SigmaRange
	err = errors.SafeCompute("EstimateSigma", nil, func() error {
		var err error
		rng, err = svm.EstimateSigma(X, seed)
		return err
	})
	if err != nil {
		return 0, err
	}
	return rng.Center(), nil
}
