package model_selection

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/clfpipe/core/parallel"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
)

// Scorer fits a model with params on fold.Train and returns its score on
// fold.Validation (higher is better).
type Scorer func(ctx context.Context, params Params, fold Fold) (float64, error)

// PointResult is the cross-validated outcome of one grid point.
type PointResult struct {
	Index     int
	Params    Params
	Scores    []float64
	MeanScore float64
	StdScore  float64
	Duration  time.Duration
	// Err is set when a fit failed with a ComputationError. Such points take
	// no part in selection.
	Err error
}

// Failed reports whether the point was skipped.
func (r PointResult) Failed() bool {
	return r.Err != nil
}

// SearchResult holds every evaluated point in enumeration order and the
// selected one.
type SearchResult struct {
	Points     []PointResult
	BestIndex  int
	BestParams Params
	BestScore  float64
	NFolds     int
}

// Best returns the selected point.
func (r *SearchResult) Best() PointResult {
	return r.Points[r.BestIndex]
}

// NFailed returns the number of skipped points.
func (r *SearchResult) NFailed() int {
	n := 0
	for _, p := range r.Points {
		if p.Failed() {
			n++
		}
	}
	return n
}

type searchConfig struct {
	workers int
	logger  log.Logger
	onPoint func(PointResult)
}

// SearchOption configures GridSearchCV.
type SearchOption func(*searchConfig)

// WithWorkers bounds the number of grid points evaluated at once.
// n <= 0 means runtime.NumCPU().
func WithWorkers(n int) SearchOption {
	return func(c *searchConfig) {
		c.workers = n
	}
}

// WithSearchLogger sets the logger.
func WithSearchLogger(l log.Logger) SearchOption {
	return func(c *searchConfig) {
		c.logger = l
	}
}

// WithPointCallback registers fn to be called once per finished point. It
// may be called from several goroutines at once.
func WithPointCallback(fn func(PointResult)) SearchOption {
	return func(c *searchConfig) {
		c.onPoint = fn
	}
}

// GridSearchCV scores every grid point on every fold and selects the point
// with the highest mean score; ties go to the point that comes first in
// enumeration order. Points are evaluated concurrently but the selection is
// made over enumeration indices, so the outcome does not depend on the
// number of workers.
//
// A fit that fails with a ComputationError (or panics) marks its point as
// failed and the search moves on. If every point fails the search returns a
// ComputationError wrapping ErrNoCandidates. Any other error aborts the
// search. Cancelling ctx discards all partial results and returns ctx.Err().
func GridSearchCV(ctx context.Context, grid *ParameterGrid, folds []Fold, scorer Scorer, opts ...SearchOption) (*SearchResult, error) {
	if grid == nil {
		return nil, errors.NewInvalidParameterError("grid", "must not be nil", nil)
	}
	if len(folds) < 2 {
		return nil, errors.NewInvalidParameterError("folds", "need at least 2 folds", len(folds))
	}
	if scorer == nil {
		return nil, errors.NewInvalidParameterError("scorer", "must not be nil", nil)
	}

	cfg := &searchConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = log.GetLoggerWithName("GridSearchCV")
	}

	pool := parallel.NewPool(cfg.workers)
	points := make([]PointResult, grid.Len())
	start := time.Now()

	cfg.logger.Info("Grid search started",
		log.OperationKey, log.OperationSearch,
		log.GridPointsKey, len(points),
		log.FoldsKey, len(folds),
		log.WorkersKey, pool.Workers(),
	)

	err := pool.Run(ctx, len(points), func(ctx context.Context, i int) error {
		res, err := evaluatePoint(ctx, i, grid.Point(i), folds, scorer)
		if err != nil {
			return err
		}
		points[i] = res
		if res.Failed() {
			cfg.logger.Warn("Grid point failed",
				res.Err,
				log.GridPointKey, i,
				log.HyperParamsKey, res.Params.String(),
			)
		} else {
			cfg.logger.Debug("Grid point scored",
				log.GridPointKey, i,
				log.HyperParamsKey, res.Params.String(),
				log.AccuracyKey, res.MeanScore,
			)
		}
		if cfg.onPoint != nil {
			cfg.onPoint(res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Points: points, BestIndex: -1, NFolds: len(folds)}
	for i, p := range points {
		if p.Failed() {
			continue
		}
		if result.BestIndex < 0 || p.MeanScore > result.BestScore {
			result.BestIndex = i
			result.BestScore = p.MeanScore
		}
	}
	if result.BestIndex < 0 {
		return nil, errors.NewComputationError("GridSearchCV", nil,
			errors.Wrapf(errors.ErrNoCandidates, "all %d grid points failed", len(points)))
	}
	result.BestParams = points[result.BestIndex].Params.Clone()

	cfg.logger.Info("Grid search finished",
		log.OperationKey, log.OperationSearch,
		log.HyperParamsKey, result.BestParams.String(),
		log.AccuracyKey, result.BestScore,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return result, nil
}

func evaluatePoint(ctx context.Context, index int, params Params, folds []Fold, scorer Scorer) (PointResult, error) {
	res := PointResult{Index: index, Params: params, Scores: make([]float64, 0, len(folds))}
	start := time.Now()

	for _, fold := range folds {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var score float64
		err := errors.SafeCompute("GridSearchCV", params, func() error {
			s, err := scorer(ctx, params, fold)
			if err != nil {
				return err
			}
			if math.IsNaN(s) || math.IsInf(s, 0) {
				return errors.NewNumericalInstabilityError("score", []float64{s}, len(res.Scores))
			}
			score = s
			return nil
		})
		if errors.IsComputation(err) {
			res.Err = err
			res.Duration = time.Since(start)
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Scores = append(res.Scores, score)
	}

	res.MeanScore, res.StdScore = stat.MeanStdDev(res.Scores, nil)
	res.Duration = time.Since(start)
	return res, nil
}
