package report

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/pipeline"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/pkg/log"
)

func sampleSummary() Summary {
	nan := Float(math.NaN())
	return Summary{
		RunID:         "run-1",
		Source:        "credit.csv",
		Variant:       "svmRadial",
		Target:        "class",
		Features:      []string{"amount", "history"},
		Seed:          99,
		TrainSize:     23,
		TestSize:      10,
		Params:        map[string]float64{"C": 1, "sigma": 0.1},
		TrainAccuracy: 0.913,
		Search: &SearchSummary{
			Folds:     30,
			BestIndex: 0,
			Points: []PointSummary{
				{Params: map[string]float64{"C": 1, "sigma": 0.1}, Mean: 0.75, Std: 0.05},
				{Params: map[string]float64{"C": 2, "sigma": 0.1}, Mean: nan, Std: nan, Error: "did not converge"},
			},
		},
		Evaluation: EvaluationSummary{
			N:             10,
			Correct:       7,
			Accuracy:      0.7,
			CILower:       0.3475,
			CIUpper:       0.9333,
			CILevel:       0.95,
			Kappa:         nan,
			Baseline:      0.6,
			BaselineClass: "good",
			Lift:          0.1,
			PValue:        0.3823,
			Labels:        []string{"bad|risk", "good"},
			Confusion:     [][]int{{1, 3}, {0, 6}},
			Classes: []ClassSummary{
				{Label: "bad|risk", Support: 4, Precision: 1, Recall: 0.25, F1: 0.4},
				{Label: "good", Support: 6, Precision: nan, Recall: 1, F1: nan},
			},
		},
		StartedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		DurationMs: 1500,
	}
}

func creditRun(t *testing.T, variant pipeline.Variant, search bool) *pipeline.Result {
	t.Helper()
	n := 200
	rng := rand.New(rand.NewPCG(7, 7))
	amount := make([]float64, n)
	history := make([]string, n)
	class := make([]string, n)
	for i := range n {
		class[i], history[i] = "bad", "late"
		shift := -2.0
		if i%10 < 7 {
			class[i], shift = "good", 2.0
		}
		amount[i] = shift + rng.NormFloat64()
		if rng.Float64() < 0.5 {
			history[i] = "paid"
		}
	}
	ds, err := dataset.New(
		dataset.NumericColumn("amount", amount),
		dataset.CategoricalColumn("history", history),
		dataset.CategoricalColumn("class", class),
	)
	require.NoError(t, err)

	cfg := pipeline.DefaultConfig()
	cfg.Target = "class"
	cfg.Variant = variant
	cfg.Search = search
	cfg.Folds, cfg.Repeats = 3, 1
	res, err := pipeline.Run(context.Background(), ds, cfg,
		pipeline.WithRunLogger(log.Nop()),
		pipeline.WithRunMetrics(pipeline.NewMetricsWithRegistry(prometheus.NewRegistry())),
		pipeline.WithRunID("test-run"),
	)
	require.NoError(t, err)
	return res
}

func TestFloatJSON(t *testing.T) {
	data, err := json.Marshal([]Float{0.5, Float(math.NaN()), Float(math.Inf(1))})
	require.NoError(t, err)
	assert.Equal(t, "[0.5,null,null]", string(data))

	var back []Float
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 3)
	assert.Equal(t, Float(0.5), back[0])
	assert.True(t, back[1].IsNaN())

	var f Float
	assert.Error(t, json.Unmarshal([]byte(`"x"`), &f))
}

func TestWriteJSON(t *testing.T) {
	s := sampleSummary()
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, s))
	assert.Contains(t, buf.String(), `"kappa": null`)
	assert.Contains(t, buf.String(), `"run_id": "run-1"`)

	var back Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, s.Evaluation.Confusion, back.Evaluation.Confusion)
	assert.Equal(t, s.Params, back.Params)
	assert.True(t, back.Evaluation.Kappa.IsNaN())
	assert.True(t, back.Evaluation.Classes[1].Precision.IsNaN())
	assert.Equal(t, "did not converge", back.Search.Points[1].Error)
	assert.True(t, s.StartedAt.Equal(back.StartedAt))
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleSummary()))
	out := buf.String()

	for _, want := range []string{
		"Run run-1 (svmRadial, target \"class\")",
		"Split: 23 train / 10 test (seed 99)",
		"Hyperparameters: C=1, sigma=0.1",
		"Training accuracy",
		"0.9130",
		"Accuracy",
		"0.7000",
		"95% CI",
		"(0.3475, 0.9333)",
		"0.6000 (good)",
		"NaN",
		"Grid search (30 folds per point)",
		"0 *",
		"failed",
	} {
		assert.Contains(t, out, want)
	}
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, sampleSummary()))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Classification Report: svmRadial\n"))
	assert.Contains(t, out, "| Accuracy | 0.7000 |")
	assert.Contains(t, out, "| actual \\ predicted | bad\\|risk | good |")
	assert.Contains(t, out, "| bad\\|risk | 1 | 3 |")
	assert.Contains(t, out, "| 0 | **`C=1, sigma=0.1`** | 0.7500 | 0.0500 |")
	assert.Contains(t, out, "failed: did not converge")
}

func TestFmtPValue(t *testing.T) {
	assert.Equal(t, "< 2.2e-16", fmtPValue(0))
	assert.Equal(t, "3e-05", fmtPValue(3e-5))
	assert.Equal(t, "0.0420", fmtPValue(0.042))
	assert.Equal(t, "NaN", fmtPValue(Float(math.NaN())))
}

func TestSummarize(t *testing.T) {
	res := creditRun(t, pipeline.DecisionTree, true)
	s := Summarize(res, "memory")

	assert.Equal(t, "test-run", s.RunID)
	assert.Equal(t, "memory", s.Source)
	assert.Equal(t, "rpart", s.Variant)
	assert.Equal(t, 140, s.TrainSize)
	assert.Equal(t, 60, s.TestSize)
	assert.Equal(t, Float(res.TrainAccuracy), s.TrainAccuracy)
	assert.Greater(t, float64(s.TrainAccuracy), 0.0)
	assert.Equal(t, 60, s.Evaluation.N)
	assert.Equal(t, []string{"bad", "good"}, s.Evaluation.Labels)
	assert.InDelta(t, 0.7, float64(s.Evaluation.Baseline), 1e-12)
	require.NotNil(t, s.Search)
	assert.Len(t, s.Search.Points, len(pipeline.DefaultCPValues))
	assert.Equal(t, 3, s.Search.Folds)
	assert.Equal(t, res.Search.BestIndex, s.Search.BestIndex)

	total := 0
	for _, row := range s.Evaluation.Confusion {
		for _, c := range row {
			total += c
		}
	}
	assert.Equal(t, 60, total)

	// the summary owns its slices
	res.Evaluation.Confusion.Counts[0][0]++
	assert.Equal(t, total, sumCounts(s.Evaluation.Confusion))
}

func sumCounts(counts [][]int) int {
	total := 0
	for _, row := range counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

func TestWriteTree(t *testing.T) {
	res := creditRun(t, pipeline.DecisionTree, false)
	var buf bytes.Buffer
	require.NoError(t, WriteTree(&buf, res.Model))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "n= 140\n"))
	assert.Contains(t, out, "node), split, n, loss, yval, (yprob)")
	assert.Contains(t, out, "1) root 140 42 good (0.3000 0.7000)")
	assert.Contains(t, out, "  2) amount<=")
	assert.Contains(t, out, "  3) amount>")
	assert.Contains(t, out, " *\n")
}

func TestWriteTreeErrors(t *testing.T) {
	err := WriteTree(&bytes.Buffer{}, nil)
	assert.True(t, errors.IsNotFitted(err))

	res := creditRun(t, pipeline.SVMRadial, false)
	err = WriteTree(&bytes.Buffer{}, res.Model)
	assert.True(t, errors.IsInvalidParameter(err))
}

func TestPlotConfusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "confusion.png")
	require.NoError(t, PlotConfusion(sampleSummary().Evaluation, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	single := EvaluationSummary{Labels: []string{"a"}, Confusion: [][]int{{3}}}
	err = PlotConfusion(single, filepath.Join(t.TempDir(), "x.png"))
	assert.True(t, errors.IsInvalidParameter(err))
}

func TestPlotSearch(t *testing.T) {
	s := sampleSummary()
	path := filepath.Join(t.TempDir(), "search.svg")
	require.NoError(t, PlotSearch(s.Search, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	err = PlotSearch(nil, path)
	assert.True(t, errors.IsInvalidParameter(err))
}
