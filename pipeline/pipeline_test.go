package pipeline

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/metrics"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
	"github.com/YuminosukeSato/clfpipe/sklearn/model_selection"
)

// creditData has exactly 70% "good" rows. "amount" separates the classes
// well, "history" weakly, "noise" not at all.
func creditData(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	amount := make([]float64, n)
	noise := make([]float64, n)
	history := make([]string, n)
	class := make([]string, n)
	for i := 0; i < n; i++ {
		good := i%10 < 7
		shift, paid := -2.0, 0.3
		class[i] = "bad"
		if good {
			shift, paid = 2.0, 0.8
			class[i] = "good"
		}
		amount[i] = shift + rng.NormFloat64()
		noise[i] = rng.Float64()
		history[i] = "late"
		if rng.Float64() < paid {
			history[i] = "paid"
		}
	}
	ds, err := dataset.New(
		dataset.NumericColumn("amount", amount),
		dataset.CategoricalColumn("history", history),
		dataset.NumericColumn("noise", noise),
		dataset.CategoricalColumn("class", class),
	)
	require.NoError(t, err)
	return ds
}

func quietOpts(t *testing.T) (*Metrics, []RunOption) {
	t.Helper()
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	return m, []RunOption{WithRunLogger(log.Nop()), WithRunMetrics(m)}
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in   string
		want Variant
	}{
		{"rpart", DecisionTree},
		{"Tree", DecisionTree},
		{"decision_tree", DecisionTree},
		{"svmRadial", SVMRadial},
		{"SVM", SVMRadial},
	}
	for _, tt := range tests {
		got, err := ParseVariant(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseVariant("knn")
	assert.True(t, errors.IsInvalidParameter(err))
}

func TestVariantText(t *testing.T) {
	text, err := SVMRadial.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "svmRadial", string(text))

	var v Variant
	require.NoError(t, v.UnmarshalText([]byte("rpart")))
	assert.Equal(t, DecisionTree, v)

	_, err = Variant(0).MarshalText()
	assert.Error(t, err)
}

func TestTrainerFitPredict(t *testing.T) {
	ds := creditData(t, 300)
	trainer := NewTrainer(DecisionTree, "class", []string{"amount", "history"}, WithLogger(log.Nop()))

	m, err := trainer.Fit(context.Background(), ds, Params{"cp": 0.01})
	require.NoError(t, err)
	assert.Equal(t, []string{"bad", "good"}, m.Classes())
	assert.Equal(t, []string{"amount", "history"}, m.Features())
	assert.Equal(t, []string{"amount", "history=late", "history=paid"}, m.ColumnNames())
	assert.Equal(t, 0.01, m.Params()["cp"])
	assert.Equal(t, 300, m.NTrain())

	predicted, err := m.Predict(ds)
	require.NoError(t, err)
	require.Len(t, predicted, 300)

	eval, err := Evaluate(context.Background(), m, ds)
	require.NoError(t, err)
	assert.Greater(t, eval.Accuracy, 0.9)

	dt, ok := m.Tree()
	require.True(t, ok)
	assert.Greater(t, dt.GetNLeaves(), 1)

	imp, ok := m.FeatureImportances()
	require.True(t, ok)
	assert.Greater(t, imp["amount"], 0.5)
}

func TestTrainerSVM(t *testing.T) {
	ds := creditData(t, 120)
	trainer := NewTrainer(SVMRadial, "class", []string{"amount", "noise"}, WithLogger(log.Nop()))
	assert.True(t, trainer.Scale())

	m, err := trainer.Fit(context.Background(), ds, Params{"sigma": 0.5, "C": 1})
	require.NoError(t, err)
	_, isTree := m.Tree()
	assert.False(t, isTree)
	_, ok := m.FeatureImportances()
	assert.False(t, ok)

	eval, err := Evaluate(context.Background(), m, ds)
	require.NoError(t, err)
	assert.Greater(t, eval.Accuracy, 0.9)
}

func TestTrainerSVMRequiresSigmaAndC(t *testing.T) {
	ds := creditData(t, 50)
	trainer := NewTrainer(SVMRadial, "class", []string{"amount"}, WithLogger(log.Nop()))

	for _, p := range []Params{{"C": 1}, {"sigma": 0.1}, {"sigma": -1, "C": 1}, {"sigma": 0.1, "C": 0}} {
		_, err := trainer.Fit(context.Background(), ds, p)
		require.Error(t, err, "params %s", p)
		assert.True(t, errors.IsInvalidParameter(err), "params %s", p)
	}
}

func TestTrainerUnknownParameter(t *testing.T) {
	trainer := NewTrainer(DecisionTree, "class", []string{"amount"}, WithLogger(log.Nop()))
	err := trainer.CheckParams(Params{"sigma": 1})
	assert.True(t, errors.IsInvalidParameter(err))
}

func TestTrainerIncompatibleTarget(t *testing.T) {
	ds := creditData(t, 50)
	var target *errors.IncompatibleTargetError

	numeric := NewTrainer(DecisionTree, "amount", []string{"noise"}, WithLogger(log.Nop()))
	_, err := numeric.Fit(context.Background(), ds, nil)
	require.Error(t, err)
	assert.True(t, errors.As(err, &target))

	goodRows := make([]int, 0)
	labels, err := ds.Strings("class")
	require.NoError(t, err)
	for i, l := range labels {
		if l == "good" {
			goodRows = append(goodRows, i)
		}
	}
	oneClass, err := ds.Subset(goodRows)
	require.NoError(t, err)
	trainer := NewTrainer(DecisionTree, "class", []string{"amount"}, WithLogger(log.Nop()))
	_, err = trainer.Fit(context.Background(), oneClass, nil)
	require.Error(t, err)
	assert.True(t, errors.As(err, &target))
}

func TestTrainerUnseenLevelAtPredict(t *testing.T) {
	ds := creditData(t, 100)
	trainer := NewTrainer(DecisionTree, "class", []string{"amount", "history"}, WithLogger(log.Nop()))
	m, err := trainer.Fit(context.Background(), ds, nil)
	require.NoError(t, err)

	fresh, err := dataset.New(
		dataset.NumericColumn("amount", []float64{2.5, -2.5}),
		dataset.CategoricalColumn("history", []string{"unknown", "unknown"}),
		dataset.CategoricalColumn("class", []string{"good", "bad"}),
	)
	require.NoError(t, err)
	predicted, err := m.Predict(fresh)
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "bad"}, predicted)
}

func TestSearch(t *testing.T) {
	ds := creditData(t, 200)
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	trainer := NewTrainer(DecisionTree, "class", []string{"amount", "history", "noise"},
		WithLogger(log.Nop()), WithMetrics(m))
	grid, err := model_selection.NewParameterGrid(
		model_selection.Axis{Name: "cp", Values: []float64{0.001, 0.05}},
		model_selection.Axis{Name: "max_depth", Values: []float64{1, 3}},
	)
	require.NoError(t, err)

	outcome, err := Search(context.Background(), trainer, ds, grid, CVConfig{Folds: 3, Repeats: 2, Seed: 7, Workers: 2})
	require.NoError(t, err)
	require.NotNil(t, outcome.Model)
	assert.Len(t, outcome.Result.Points, 4)
	assert.Equal(t, 6, outcome.Result.NFolds)
	assert.True(t, outcome.Model.Params().Equal(outcome.Result.BestParams))
	assert.Equal(t, 200, outcome.Model.NTrain())

	// 4 points x 6 folds + 1 refit
	assert.Equal(t, 25.0, testutil.ToFloat64(m.FitsTotal.WithLabelValues("rpart")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.GridPoints.WithLabelValues("rpart", "ok")))

	again, err := Search(context.Background(), trainer, ds, grid, CVConfig{Folds: 3, Repeats: 2, Seed: 7, Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, outcome.Result.BestIndex, again.Result.BestIndex)
	assert.Equal(t, outcome.Result.BestScore, again.Result.BestScore)
}

func TestSearchValidatesBeforeFitting(t *testing.T) {
	ds := creditData(t, 60)
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	trainer := NewTrainer(SVMRadial, "class", []string{"amount"}, WithLogger(log.Nop()), WithMetrics(m))

	bad, err := model_selection.NewParameterGrid(
		model_selection.Axis{Name: "sigma", Values: []float64{0.1}},
		model_selection.Axis{Name: "C", Values: []float64{1, -1}},
	)
	require.NoError(t, err)
	_, err = Search(context.Background(), trainer, ds, bad, CVConfig{Folds: 3, Repeats: 1})
	assert.True(t, errors.IsInvalidParameter(err))

	good, err := model_selection.NewParameterGrid(model_selection.Axis{Name: "sigma", Values: []float64{0.1}})
	require.NoError(t, err)
	_, err = Search(context.Background(), trainer, ds, good, CVConfig{Folds: 1, Repeats: 1})
	assert.True(t, errors.IsInvalidParameter(err))
	_, err = Search(context.Background(), trainer, ds, good, CVConfig{Folds: 3, Repeats: 0})
	assert.True(t, errors.IsInvalidParameter(err))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.FitsTotal.WithLabelValues("svmRadial")))
}

func TestDefaultGrid(t *testing.T) {
	ds := creditData(t, 100)

	treeGrid, err := DefaultGrid(NewTrainer(DecisionTree, "class", []string{"amount"}), ds, 1)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultCPValues), treeGrid.Len())

	svmGrid, err := DefaultGrid(NewTrainer(SVMRadial, "class", []string{"amount", "noise"}), ds, 1)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultCValues), svmGrid.Len())
	sigma := svmGrid.Point(0)["sigma"]
	assert.Greater(t, sigma, 0.0)
	assert.False(t, math.IsInf(sigma, 0))
}

func TestRunCreditScenario(t *testing.T) {
	ds := creditData(t, 1000)
	m, opts := quietOpts(t)

	cfg := DefaultConfig()
	cfg.Target = "class"
	cfg.Folds = 3
	cfg.Repeats = 1

	res, err := Run(context.Background(), ds, cfg, opts...)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []string{"amount", "history", "noise"}, res.Features)
	assert.Equal(t, 700, res.TrainSize)
	assert.Equal(t, 300, res.TestSize)
	require.NotNil(t, res.Search)
	assert.Len(t, res.Search.Points, len(DefaultCPValues))

	eval := res.Evaluation
	assert.Equal(t, 300, eval.N)
	assert.Equal(t, 300, eval.Confusion.Total())
	assert.InDelta(t, 0.7, eval.Baseline, 1e-12)
	assert.Equal(t, "good", eval.BaselineClass)

	good, ok := eval.Class("good")
	require.True(t, ok)
	assert.InDelta(t, 0.7, float64(good.Support)/300, 0.05)

	assert.Greater(t, eval.Accuracy, eval.Baseline)
	assert.Less(t, eval.PValue, 0.01)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")))
	assert.Equal(t, eval.Accuracy, testutil.ToFloat64(m.TestAccuracy.WithLabelValues("rpart")))
}

func TestRunDeterministic(t *testing.T) {
	ds := creditData(t, 300)
	cfg := DefaultConfig()
	cfg.Target = "class"
	cfg.Folds = 3
	cfg.Repeats = 1

	_, opts := quietOpts(t)
	a, err := Run(context.Background(), ds, cfg, opts...)
	require.NoError(t, err)
	_, opts = quietOpts(t)
	b, err := Run(context.Background(), ds, cfg, opts...)
	require.NoError(t, err)

	assert.Equal(t, a.Params, b.Params)
	assert.Equal(t, a.Evaluation.Confusion, b.Evaluation.Confusion)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestRunSVM(t *testing.T) {
	ds := creditData(t, 200)
	_, opts := quietOpts(t)

	cfg := DefaultConfig()
	cfg.Target = "class"
	cfg.Variant = SVMRadial
	cfg.Folds = 3
	cfg.Repeats = 1
	cfg.Grid = []model_selection.Axis{{Name: "C", Values: []float64{0.5, 1}}}

	res, err := Run(context.Background(), ds, cfg, append(opts, WithRunID("svm-run"))...)
	require.NoError(t, err)
	assert.Equal(t, "svm-run", res.RunID)
	assert.Contains(t, res.Params, "sigma")
	assert.Contains(t, res.Params, "C")
	assert.Greater(t, res.Evaluation.Accuracy, res.Evaluation.Baseline)
}

func TestRunFixedParams(t *testing.T) {
	ds := creditData(t, 200)
	_, opts := quietOpts(t)

	cfg := DefaultConfig()
	cfg.Target = "class"
	cfg.Variant = SVMRadial
	cfg.Search = false

	res, err := Run(context.Background(), ds, cfg, opts...)
	require.NoError(t, err)
	assert.Nil(t, res.Search)
	assert.Equal(t, 1.0, res.Params["C"])
	assert.Greater(t, res.Params["sigma"], 0.0)
}

func TestRunInvalidConfig(t *testing.T) {
	ds := creditData(t, 50)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no target", func(c *Config) { c.Target = "" }},
		{"p too large", func(c *Config) { c.TrainFraction = 1.2 }},
		{"p zero", func(c *Config) { c.TrainFraction = 0 }},
		{"one fold", func(c *Config) { c.Folds = 1 }},
		{"no repeats", func(c *Config) { c.Repeats = 0 }},
		{"empty axis", func(c *Config) { c.Grid = []model_selection.Axis{{Name: "cp"}} }},
		{"unknown variant", func(c *Config) { c.Variant = Variant(9) }},
		{"unknown feature", func(c *Config) { c.Features = []string{"salary"} }},
		{"target as feature", func(c *Config) { c.Features = []string{"class"} }},
		{"unknown target", func(c *Config) { c.Target = "label" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, opts := quietOpts(t)
			cfg := DefaultConfig()
			cfg.Target = "class"
			tt.mutate(&cfg)

			_, err := Run(context.Background(), ds, cfg, opts...)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidParameter(err), "got %v", err)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")))
			assert.Equal(t, 0.0, testutil.ToFloat64(m.FitsTotal.WithLabelValues(cfg.Variant.String())))
		})
	}
}

func TestRunNumericTarget(t *testing.T) {
	ds := creditData(t, 50)
	_, opts := quietOpts(t)
	cfg := DefaultConfig()
	cfg.Target = "amount"

	_, err := Run(context.Background(), ds, cfg, opts...)
	var target *errors.IncompatibleTargetError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "amount", target.Column)
}

func TestRunCancelled(t *testing.T) {
	ds := creditData(t, 100)
	_, opts := quietOpts(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConfig()
	cfg.Target = "class"
	cfg.Folds = 3
	cfg.Repeats = 1

	res, err := Run(ctx, ds, cfg, opts...)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunBinarize(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	n := 200
	quality := make([]float64, n)
	alcohol := make([]float64, n)
	for i := range quality {
		quality[i] = float64(3 + i%6)
		alcohol[i] = 9 + quality[i]*0.5 + rng.NormFloat64()*0.3
	}
	ds, err := dataset.New(
		dataset.NumericColumn("quality", quality),
		dataset.NumericColumn("alcohol", alcohol),
	)
	require.NoError(t, err)

	_, opts := quietOpts(t)
	cfg := DefaultConfig()
	cfg.Target = "grade"
	cfg.Folds = 3
	cfg.Repeats = 1
	cfg.Binarize = &Binarize{Column: "grade", Source: "quality", Threshold: 5, Above: "good", Below: "bad"}

	res, err := Run(context.Background(), ds, cfg, opts...)
	require.NoError(t, err)
	assert.Equal(t, []string{"alcohol"}, res.Features)
	assert.Equal(t, []string{"bad", "good"}, res.Model.Classes())
}

func TestRunDropNA(t *testing.T) {
	n := 100
	amount := make([]float64, n)
	class := make([]string, n)
	for i := range amount {
		class[i] = "lo"
		amount[i] = float64(i)
		if i >= 50 {
			class[i] = "hi"
		}
	}
	amount[3] = math.NaN()
	class[60] = ""
	ds, err := dataset.New(dataset.NumericColumn("amount", amount), dataset.CategoricalColumn("class", class))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Target = "class"
	cfg.Search = false

	_, opts := quietOpts(t)
	_, err = Run(context.Background(), ds, cfg, opts...)
	assert.True(t, errors.IsInvalidParameter(err), "NaN feature without drop_na")

	cfg.DropNA = true
	res, err := Run(context.Background(), ds, cfg, opts...)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DroppedNA)
	assert.Equal(t, 98, res.TrainSize+res.TestSize)
	assert.Equal(t, []string{"hi", "lo"}, res.Model.Classes())
}

func TestRunLogsStages(t *testing.T) {
	ds := creditData(t, 100)
	logger, _ := log.NewTestLogger(log.LevelInfo)
	cfg := DefaultConfig()
	cfg.Target = "class"
	cfg.Search = false

	res, err := Run(context.Background(), ds, cfg, WithRunLogger(logger), WithRunID("run-1"))
	require.NoError(t, err)

	assert.True(t, logger.ContainsMessage("Data split"))
	assert.True(t, logger.ContainsMessage("Run finished"))
	assert.True(t, logger.ContainsField(log.RunIDKey, "run-1"))
	assert.True(t, logger.ContainsField(log.TestSizeKey, float64(res.TestSize)))
}

func TestRunSVMEstimatesSigmaOnSmallData(t *testing.T) {
	ds := creditData(t, 60)
	_, opts := quietOpts(t)

	cfg := DefaultConfig()
	cfg.Target = "class"
	cfg.Variant = SVMRadial
	cfg.Search = false

	res, err := Run(context.Background(), ds, cfg, opts...)
	require.NoError(t, err)
	assert.Greater(t, res.Params["sigma"], 0.0)
	assert.False(t, math.IsInf(res.Params["sigma"], 0))
}

func TestRunRejectsMissingTarget(t *testing.T) {
	n := 120
	quality := make([]float64, n)
	alcohol := make([]float64, n)
	for i := range quality {
		quality[i] = float64(3 + i%6)
		alcohol[i] = 9 + quality[i]*0.5
	}
	quality[7] = math.NaN()
	quality[8] = math.NaN()
	ds, err := dataset.New(
		dataset.NumericColumn("quality", quality),
		dataset.NumericColumn("alcohol", alcohol),
	)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Target = "grade"
	cfg.Folds = 3
	cfg.Repeats = 1
	cfg.Binarize = &Binarize{Column: "grade", Source: "quality", Threshold: 5, Above: "good", Below: "bad"}

	m, opts := quietOpts(t)
	_, err = Run(context.Background(), ds, cfg, opts...)
	assert.True(t, errors.IsInvalidParameter(err), "got %v", err)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FitsTotal.WithLabelValues("rpart")))

	cfg.DropNA = true
	_, opts = quietOpts(t)
	res, err := Run(context.Background(), ds, cfg, opts...)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DroppedNA)
	assert.Equal(t, []string{"bad", "good"}, res.Model.Classes())
}

func TestSearchRejectsClassSmallerThanFolds(t *testing.T) {
	n := 40
	amount := make([]float64, n)
	class := make([]string, n)
	for i := range amount {
		amount[i] = float64(i)
		class[i] = "common"
	}
	class[0], class[1] = "rare", "rare"
	ds, err := dataset.New(dataset.NumericColumn("amount", amount), dataset.CategoricalColumn("class", class))
	require.NoError(t, err)

	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	trainer := NewTrainer(DecisionTree, "class", []string{"amount"}, WithLogger(log.Nop()), WithMetrics(m))
	grid, err := model_selection.NewParameterGrid(model_selection.Axis{Name: "cp", Values: []float64{0.01}})
	require.NoError(t, err)

	_, err = Search(context.Background(), trainer, ds, grid, CVConfig{Folds: 3, Repeats: 1, Seed: 1})
	assert.True(t, errors.IsInvalidParameter(err), "got %v", err)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FitsTotal.WithLabelValues("rpart")))

	_, err = Search(context.Background(), trainer, ds, grid, CVConfig{Folds: 2, Repeats: 1, Seed: 1})
	require.NoError(t, err)
}

func TestModelScore(t *testing.T) {
	ds := creditData(t, 200)
	trainer := NewTrainer(DecisionTree, "class", []string{"amount", "history"}, WithLogger(log.Nop()))
	m, err := trainer.Fit(context.Background(), ds, Params{"cp": 0.01})
	require.NoError(t, err)

	predicted, err := m.Predict(ds)
	require.NoError(t, err)
	actual, err := ds.Strings("class")
	require.NoError(t, err)
	want, err := metrics.AccuracyScore(actual, predicted)
	require.NoError(t, err)

	got, err := m.Score(ds)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)
	assert.Greater(t, got, 0.7)

	_, opts := quietOpts(t)
	cfg := DefaultConfig()
	cfg.Target = "class"
	cfg.Search = false
	res, err := Run(context.Background(), ds, cfg, opts...)
	require.NoError(t, err)
	assert.Greater(t, res.TrainAccuracy, 0.7)
	assert.LessOrEqual(t, res.TrainAccuracy, 1.0)
}
