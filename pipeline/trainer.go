package pipeline

import (
	"context"
	"time"

	"github.com/YuminosukeSato/clfpipe/core/model"
	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/metrics"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
	"github.com/YuminosukeSato/clfpipe/preprocessing"
	"github.com/YuminosukeSato/clfpipe/sklearn/model_selection"
	"github.com/YuminosukeSato/clfpipe/sklearn/tree"
)

// Params is a hyperparameter point.
type Params = model_selection.Params

// CheckTarget verifies that target exists and is categorical.
func CheckTarget(schema dataset.Schema, target string) error {
	col, ok := schema.Lookup(target)
	if !ok {
		return errors.NewInvalidParameterError("target", "unknown column", target)
	}
	if col.Kind != dataset.Categorical {
		return errors.NewIncompatibleTargetError(target, col.Kind.String(), "classification needs a categorical target")
	}
	return nil
}

// Trainer fits one variant on a fixed target and feature list.
type Trainer struct {
	variant   Variant
	target    string
	features  []string
	scale     bool
	criterion string
	fixed     Params
	logger    log.Logger
	metrics   *Metrics
}

// TrainerOption configures a Trainer.
type TrainerOption func(*Trainer)

// WithScale overrides the variant's default for standardising numeric features.
func WithScale(scale bool) TrainerOption {
	return func(t *Trainer) {
		t.scale = scale
	}
}

// WithCriterion sets the decision tree split criterion (gini or entropy).
func WithCriterion(criterion string) TrainerOption {
	return func(t *Trainer) {
		t.criterion = criterion
	}
}

// WithFixedParams sets hyperparameters applied to every fit. Grid points
// override them.
func WithFixedParams(p Params) TrainerOption {
	return func(t *Trainer) {
		t.fixed = p.Clone()
	}
}

// WithLogger sets the trainer's logger.
func WithLogger(l log.Logger) TrainerOption {
	return func(t *Trainer) {
		t.logger = l
	}
}

// WithMetrics records fits on m.
func WithMetrics(m *Metrics) TrainerOption {
	return func(t *Trainer) {
		t.metrics = m
	}
}

// NewTrainer creates a trainer. features must be the resolved feature list
// (see preprocessing.ResolveFeatures).
func NewTrainer(variant Variant, target string, features []string, opts ...TrainerOption) *Trainer {
	t := &Trainer{
		variant:  variant,
		target:   target,
		features: append([]string(nil), features...),
		scale:    variant.DefaultScale(),
		fixed:    Params{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = log.GetLoggerWithName("pipeline")
	}
	return t
}

// Variant returns the trainer's variant.
func (t *Trainer) Variant() Variant {
	return t.variant
}

// Features returns the feature columns.
func (t *Trainer) Features() []string {
	return append([]string(nil), t.features...)
}

// Scale reports whether numeric features are standardised.
func (t *Trainer) Scale() bool {
	return t.scale
}

func (t *Trainer) merge(params Params) Params {
	merged := t.fixed.Clone()
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

// CheckParams validates a hyperparameter point without fitting anything.
func (t *Trainer) CheckParams(params Params) error {
	_, err := t.variant.newEstimator(t.merge(params), t.criterion)
	return err
}

// Fit trains a model on every row of train. The target must be categorical
// (IncompatibleTarget otherwise) and hold at least two classes. Encoders and
// the scaler are learned from train only. Fits that panic or become
// numerically unstable return a ComputationError carrying params.
func (t *Trainer) Fit(ctx context.Context, train *dataset.Dataset, params Params) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckTarget(train.Schema(), t.target); err != nil {
		return nil, err
	}
	if len(t.features) == 0 {
		return nil, errors.NewInvalidParameterError("features", "feature list is empty", t.target)
	}
	features, err := preprocessing.ResolveFeatures(train.Schema(), t.target, t.features)
	if err != nil {
		return nil, err
	}

	merged := t.merge(params)
	est, err := t.variant.newEstimator(merged, t.criterion)
	if err != nil {
		return nil, err
	}

	labels, err := train.Strings(t.target)
	if err != nil {
		return nil, err
	}
	enc := preprocessing.NewLabelEncoder()
	if err := enc.Fit(labels); err != nil {
		return nil, err
	}
	if len(enc.Classes()) < 2 {
		return nil, errors.NewIncompatibleTargetError(t.target, dataset.Categorical.String(), "training rows hold fewer than two classes")
	}

	design, X, err := preprocessing.FitDesign(train, features, t.scale)
	if err != nil {
		return nil, err
	}
	y, err := enc.Encode(labels)
	if err != nil {
		return nil, err
	}

	op := t.variant.String() + ".Fit"
	start := time.Now()
	err = errors.SafeCompute(op, merged, func() error {
		return est.Fit(X, y)
	})
	elapsed := time.Since(start)
	t.metrics.observeFit(t.variant, elapsed, err)
	if err != nil {
		t.logger.Debug("Fit failed",
			err,
			log.ModelNameKey, t.variant.String(),
			log.HyperParamsKey, merged.String(),
		)
		return nil, err
	}

	t.logger.Debug("Model fitted",
		log.OperationKey, log.OperationFit,
		log.ModelNameKey, t.variant.String(),
		log.SamplesKey, train.NRows(),
		log.FeaturesKey, design.Width(),
		log.ClassesKey, len(enc.Classes()),
		log.HyperParamsKey, merged.String(),
		log.DurationMsKey, elapsed.Milliseconds(),
	)
	return &Model{
		variant:   t.variant,
		target:    t.target,
		params:    merged,
		design:    design,
		labels:    enc,
		estimator: est,
		nTrain:    train.NRows(),
	}, nil
}

// Model is a fitted classifier together with the preprocessing learned from
// its training rows. It is immutable.
type Model struct {
	variant   Variant
	target    string
	params    Params
	design    *preprocessing.Design
	labels    *preprocessing.LabelEncoder
	estimator model.Classifier
	nTrain    int
}

// Variant returns the model's variant.
func (m *Model) Variant() Variant { return m.variant }

// Target returns the target column.
func (m *Model) Target() string { return m.target }

// Params returns the hyperparameters the model was fitted with.
func (m *Model) Params() Params { return m.params.Clone() }

// Classes returns the class labels in sorted order.
func (m *Model) Classes() []string { return m.labels.Classes() }

// Features returns the source feature columns.
func (m *Model) Features() []string { return m.design.Features() }

// ColumnNames returns the design-matrix column names.
func (m *Model) ColumnNames() []string { return m.design.ColumnNames() }

// NTrain returns the number of training rows.
func (m *Model) NTrain() int { return m.nTrain }

// Predict returns one predicted label per row of ds.
func (m *Model) Predict(ds *dataset.Dataset) ([]string, error) {
	X, err := m.design.Transform(ds)
	if err != nil {
		return nil, err
	}
	yhat, err := m.estimator.Predict(X)
	if err != nil {
		return nil, err
	}
	return m.labels.Decode(yhat)
}

// Score returns the share of rows of ds whose target the model predicts
// correctly. Every target label must be a training class.
func (m *Model) Score(ds *dataset.Dataset) (float64, error) {
	labels, err := ds.Strings(m.target)
	if err != nil {
		return 0, err
	}
	y, err := m.labels.Encode(labels)
	if err != nil {
		return 0, err
	}
	X, err := m.design.Transform(ds)
	if err != nil {
		return 0, err
	}
	yhat, err := m.estimator.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.AccuracyMatrix(y, yhat)
}

// Tree returns the fitted decision tree, if the model is one.
func (m *Model) Tree() (*tree.DecisionTreeClassifier, bool) {
	dt, ok := m.estimator.(*tree.DecisionTreeClassifier)
	return dt, ok
}

// FeatureImportances maps design-matrix columns to their normalised impurity
// decrease. Only decision trees report importances.
func (m *Model) FeatureImportances() (map[string]float64, bool) {
	dt, ok := m.Tree()
	if !ok {
		return nil, false
	}
	names := m.design.ColumnNames()
	out := make(map[string]float64, len(names))
	for i, v := range dt.GetFeatureImportances() {
		out[names[i]] = v
	}
	return out, true
}
