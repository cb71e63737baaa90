// Package pipeline ties the partitioner, the trainers, the grid search and
// the evaluator into one reproducible run.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/metrics"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
	"github.com/YuminosukeSato/clfpipe/preprocessing"
	"github.com/YuminosukeSato/clfpipe/sklearn/model_selection"
)

// Binarize derives a two-level categorical column from a numeric one:
// Above when the source value is greater than Threshold, Below otherwise.
// Missing source values stay missing, so a run with missing source values
// needs DropNA.
type Binarize struct {
	Column    string
	Source    string
	Threshold float64
	Above     string
	Below     string
}

// Apply returns ds with the derived column added.
func (b Binarize) Apply(ds *dataset.Dataset) (*dataset.Dataset, error) {
	col, ok := ds.Schema().Lookup(b.Source)
	if !ok {
		return nil, errors.NewInvalidParameterError("binarize.source", "unknown column", b.Source)
	}
	if col.Kind != dataset.Numeric {
		return nil, errors.NewInvalidParameterError("binarize.source", "column is not numeric", b.Source)
	}
	return ds.Derive(b.Column, dataset.Categorical, func(r dataset.Record) dataset.Value {
		v := r[b.Source]
		switch {
		case v.IsNA():
			return dataset.Cat(dataset.NALevel)
		case v.Float() > b.Threshold:
			return dataset.Cat(b.Above)
		default:
			return dataset.Cat(b.Below)
		}
	})
}

// Config describes one run. Seeds are explicit; nothing reads global state.
type Config struct {
	Target   string
	Features []string // empty: every non-text column except the target
	Variant  Variant

	// TrainFraction is the share of each class placed in the training split.
	TrainFraction float64
	Seed          uint64

	// Search enables cross-validated grid search. Without it the model is fit
	// once with Params.
	Search  bool
	Grid    []model_selection.Axis // nil: DefaultGrid
	Params  Params                 // fixed hyperparameters, overridden by grid points
	Folds   int
	Repeats int
	Workers int

	// Scale overrides the variant's default numeric standardisation.
	Scale     *bool
	Criterion string
	// DropNA removes rows with a missing target or feature before splitting.
	DropNA   bool
	Binarize *Binarize
}

// DefaultConfig returns 70/30 splitting with 10-fold cross-validation
// repeated 3 times.
func DefaultConfig() Config {
	return Config{
		Variant:       DecisionTree,
		TrainFraction: 0.7,
		Seed:          99,
		Search:        true,
		Folds:         10,
		Repeats:       3,
	}
}

// Validate checks everything that can be checked without data.
func (c Config) Validate() error {
	if c.Target == "" {
		return errors.NewInvalidParameterError("target", "must be set", "")
	}
	if c.Variant != DecisionTree && c.Variant != SVMRadial {
		return errors.NewInvalidParameterError("variant", "must be rpart or svmRadial", int(c.Variant))
	}
	if math.IsNaN(c.TrainFraction) || c.TrainFraction <= 0 || c.TrainFraction >= 1 {
		return errors.NewInvalidParameterError("p", "must be in (0, 1)", c.TrainFraction)
	}
	if c.Search {
		if err := (CVConfig{Folds: c.Folds, Repeats: c.Repeats}).Validate(); err != nil {
			return err
		}
		if c.Grid != nil {
			if _, err := model_selection.NewParameterGrid(c.Grid...); err != nil {
				return err
			}
		}
	}
	for k, v := range c.Params {
		if math.IsNaN(v) {
			return errors.NewInvalidParameterError(k, "must not be NaN", v)
		}
	}
	if b := c.Binarize; b != nil {
		switch {
		case b.Column == "" || b.Source == "":
			return errors.NewInvalidParameterError("binarize", "column and source must be set", b.Column)
		case b.Above == "" || b.Below == "" || b.Above == b.Below:
			return errors.NewInvalidParameterError("binarize", "above and below must be distinct non-empty labels", b.Above)
		}
	}
	return nil
}

// Result is everything one run produced.
type Result struct {
	RunID     string
	Variant   Variant
	Target    string
	Features  []string
	Seed      uint64
	TrainSize int
	TestSize  int
	DroppedNA int
	Params    Params
	// TrainAccuracy is the final model's accuracy on its own training split.
	TrainAccuracy float64
	Search        *model_selection.SearchResult // nil without search
	Model         *Model
	Evaluation    *metrics.EvaluationResult
	StartedAt     time.Time
	Duration      time.Duration
}

type runConfig struct {
	logger  log.Logger
	metrics *Metrics
	runID   string
}

// RunOption configures Run.
type RunOption func(*runConfig)

// WithRunLogger sets the logger for the run.
func WithRunLogger(l log.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithRunMetrics records the run on m.
func WithRunMetrics(m *Metrics) RunOption {
	return func(c *runConfig) {
		c.metrics = m
	}
}

// WithRunID fixes the run identifier instead of generating a UUID.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// Run validates cfg, resolves the feature list, splits ds, fits (with or
// without grid search) on the training split and evaluates on the test split.
// Parameter errors are returned before any model is fit.
func Run(ctx context.Context, ds *dataset.Dataset, cfg Config, opts ...RunOption) (res *Result, err error) {
	rc := &runConfig{}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.runID == "" {
		rc.runID = uuid.NewString()
	}
	if rc.logger == nil {
		rc.logger = log.GetLoggerWithName("pipeline")
	}
	logger := rc.logger.With(log.RunIDKey, rc.runID, log.ModelNameKey, cfg.Variant.String())

	start := time.Now()
	defer func() {
		rc.metrics.observeRun(res, time.Since(start), err)
		if err != nil {
			logger.Error("Run failed", err, log.ErrorTypeKey, errorKind(err))
		}
	}()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Binarize != nil {
		if ds, err = cfg.Binarize.Apply(ds); err != nil {
			return nil, err
		}
	}

	features, err := resolveFeatures(ds.Schema(), cfg)
	if err != nil {
		return nil, err
	}
	if err := CheckTarget(ds.Schema(), cfg.Target); err != nil {
		return nil, err
	}

	dropped := 0
	if cfg.DropNA {
		before := ds.NRows()
		if ds, err = dropMissing(ds, append([]string{cfg.Target}, features...)); err != nil {
			return nil, err
		}
		dropped = before - ds.NRows()
	}

	labels, err := ds.Strings(cfg.Target)
	if err != nil {
		return nil, err
	}
	if missing := countLevel(labels, dataset.NALevel); missing > 0 {
		return nil, errors.NewInvalidParameterError("drop_na",
			fmt.Sprintf("target %q has %d missing values; enable drop_na to remove them", cfg.Target, missing), false)
	}
	split, err := model_selection.TrainTestSplit(labels, cfg.TrainFraction, cfg.Seed)
	if err != nil {
		return nil, err
	}
	train, err := ds.Subset(split.Train)
	if err != nil {
		return nil, err
	}
	test, err := ds.Subset(split.Test)
	if err != nil {
		return nil, err
	}
	logger.Info("Data split",
		log.OperationKey, log.OperationSplit,
		log.SamplesKey, ds.NRows(),
		log.FeaturesKey, len(features),
		log.TrainSizeKey, len(split.Train),
		log.TestSizeKey, len(split.Test),
		log.RandomSeedKey, cfg.Seed,
	)

	scale := cfg.Variant.DefaultScale()
	if cfg.Scale != nil {
		scale = *cfg.Scale
	}
	fixed := cfg.Params.Clone()
	if cfg.Variant == SVMRadial && needsSigma(cfg, fixed) {
		sigma, err := estimateSigma(train, cfg.Target, features, scale, cfg.Seed)
		if err != nil {
			return nil, err
		}
		fixed["sigma"] = sigma
		logger.Info("Estimated sigma", log.HyperParamsKey, Params{"sigma": sigma}.String())
	}
	if cfg.Variant == SVMRadial && !cfg.Search {
		if _, ok := fixed["C"]; !ok {
			fixed["C"] = 1
		}
	}
	trainer := NewTrainer(cfg.Variant, cfg.Target, features,
		WithScale(scale),
		WithCriterion(cfg.Criterion),
		WithFixedParams(fixed),
		WithLogger(logger),
		WithMetrics(rc.metrics),
	)

	res = &Result{
		RunID:     rc.runID,
		Variant:   cfg.Variant,
		Target:    cfg.Target,
		Features:  features,
		Seed:      cfg.Seed,
		TrainSize: len(split.Train),
		TestSize:  len(split.Test),
		DroppedNA: dropped,
		StartedAt: start,
	}

	if cfg.Search {
		grid, err := searchGrid(trainer, train, cfg)
		if err != nil {
			return nil, err
		}
		outcome, err := Search(ctx, trainer, train, grid, CVConfig{
			Folds:   cfg.Folds,
			Repeats: cfg.Repeats,
			Seed:    cfg.Seed,
			Workers: cfg.Workers,
		})
		if err != nil {
			return nil, err
		}
		res.Search = outcome.Result
		res.Model = outcome.Model
	} else {
		if err := trainer.CheckParams(nil); err != nil {
			return nil, err
		}
		m, err := trainer.Fit(ctx, train, nil)
		if err != nil {
			return nil, err
		}
		res.Model = m
	}
	res.Params = res.Model.Params()
	if res.TrainAccuracy, err = res.Model.Score(train); err != nil {
		return nil, err
	}

	eval, err := Evaluate(ctx, res.Model, test)
	if err != nil {
		return nil, err
	}
	res.Evaluation = eval
	res.Duration = time.Since(start)

	logger.Info("Run finished",
		log.OperationKey, log.OperationEvaluate,
		log.PhaseKey, log.PhaseTesting,
		log.HyperParamsKey, res.Params.String(),
		log.AccuracyKey, eval.Accuracy,
		log.TrainAccuracyKey, res.TrainAccuracy,
		log.KappaKey, eval.Kappa,
		log.BaselineKey, eval.Baseline,
		log.DurationMsKey, res.Duration.Milliseconds(),
	)
	return res, nil
}

// resolveFeatures computes the feature list once. With a Binarize rule and no
// explicit features, the rule's source column is excluded as it encodes the
// target.
func resolveFeatures(schema dataset.Schema, cfg Config) ([]string, error) {
	features, err := preprocessing.ResolveFeatures(schema, cfg.Target, cfg.Features)
	if err != nil {
		return nil, err
	}
	if len(cfg.Features) > 0 || cfg.Binarize == nil {
		return features, nil
	}
	out := features[:0]
	for _, f := range features {
		if f != cfg.Binarize.Source {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, errors.NewInvalidParameterError("features", "no usable feature columns besides the target", cfg.Target)
	}
	return out, nil
}

func needsSigma(cfg Config, fixed Params) bool {
	if _, ok := fixed["sigma"]; ok {
		return false
	}
	if !cfg.Search {
		return true
	}
	if cfg.Grid == nil {
		// DefaultGrid estimates sigma itself
		return false
	}
	for _, a := range cfg.Grid {
		if a.Name == "sigma" {
			return false
		}
	}
	return true
}

func searchGrid(trainer *Trainer, train *dataset.Dataset, cfg Config) (*model_selection.ParameterGrid, error) {
	if cfg.Grid != nil {
		return model_selection.NewParameterGrid(cfg.Grid...)
	}
	return DefaultGrid(trainer, train, cfg.Seed)
}

// dropMissing keeps the rows with no missing value in cols.
func countLevel(labels []string, level string) int {
	n := 0
	for _, l := range labels {
		if l == level {
			n++
		}
	}
	return n
}

func dropMissing(ds *dataset.Dataset, cols []string) (*dataset.Dataset, error) {
	keep := make([]int, 0, ds.NRows())
	for i := 0; i < ds.NRows(); i++ {
		row, err := ds.Row(i)
		if err != nil {
			return nil, err
		}
		missing := false
		for _, c := range cols {
			if row[c].IsNA() {
				missing = true
				break
			}
		}
		if !missing {
			keep = append(keep, i)
		}
	}
	return ds.Subset(keep)
}
