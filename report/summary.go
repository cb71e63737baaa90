// Package report renders pipeline results as text, markdown, JSON, a
// decision tree listing and static plots.
package report

import (
	"encoding/json"
	"io"
	"math"
	"time"

	"github.com/YuminosukeSato/clfpipe/metrics"
	"github.com/YuminosukeSato/clfpipe/pipeline"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// Float is a float64 that encodes NaN and ±Inf as JSON null and decodes
// null as NaN.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// IsNaN reports whether f is NaN.
func (f Float) IsNaN() bool {
	return math.IsNaN(float64(f))
}

// Summary is the serialisable view of a pipeline run. Stored runs are kept
// in this shape, so every writer works on a Summary.
type Summary struct {
	RunID         string             `json:"run_id"`
	Source        string             `json:"source,omitempty"`
	Variant       string             `json:"variant"`
	Target        string             `json:"target"`
	Features      []string           `json:"features"`
	Seed          uint64             `json:"seed"`
	TrainSize     int                `json:"train_size"`
	TestSize      int                `json:"test_size"`
	DroppedNA     int                `json:"dropped_na,omitempty"`
	Params        map[string]float64 `json:"params"`
	TrainAccuracy Float              `json:"train_accuracy"`
	Search        *SearchSummary     `json:"search,omitempty"`
	Evaluation    EvaluationSummary  `json:"evaluation"`
	StartedAt     time.Time          `json:"started_at"`
	DurationMs    int64              `json:"duration_ms"`
}

// SearchSummary lists every grid point in enumeration order.
type SearchSummary struct {
	Folds     int            `json:"folds"`
	BestIndex int            `json:"best_index"`
	Points    []PointSummary `json:"points"`
}

// PointSummary is one cross-validated grid point.
type PointSummary struct {
	Params map[string]float64 `json:"params"`
	Mean   Float              `json:"mean_accuracy"`
	Std    Float              `json:"std_accuracy"`
	Error  string             `json:"error,omitempty"`
}

// ClassSummary holds one class's one-vs-rest scores.
type ClassSummary struct {
	Label     string `json:"label"`
	Support   int    `json:"support"`
	Precision Float  `json:"precision"`
	Recall    Float  `json:"recall"`
	F1        Float  `json:"f1"`
}

// EvaluationSummary mirrors metrics.EvaluationResult.
type EvaluationSummary struct {
	N             int            `json:"n"`
	Correct       int            `json:"correct"`
	Accuracy      Float          `json:"accuracy"`
	CILower       Float          `json:"ci_lower"`
	CIUpper       Float          `json:"ci_upper"`
	CILevel       Float          `json:"ci_level"`
	Kappa         Float          `json:"kappa"`
	Baseline      Float          `json:"baseline"`
	BaselineClass string         `json:"baseline_class"`
	Lift          Float          `json:"lift"`
	PValue        Float          `json:"p_value"`
	Labels        []string       `json:"labels"`
	Confusion     [][]int        `json:"confusion"`
	Classes       []ClassSummary `json:"classes"`
}

// Summarize converts a run result. source names the dataset and may be empty.
func Summarize(res *pipeline.Result, source string) Summary {
	s := Summary{
		RunID:         res.RunID,
		Source:        source,
		Variant:       res.Variant.String(),
		Target:        res.Target,
		Features:      append([]string(nil), res.Features...),
		Seed:          res.Seed,
		TrainSize:     res.TrainSize,
		TestSize:      res.TestSize,
		DroppedNA:     res.DroppedNA,
		Params:        map[string]float64(res.Params.Clone()),
		TrainAccuracy: Float(res.TrainAccuracy),
		StartedAt:     res.StartedAt.UTC(),
		DurationMs:    res.Duration.Milliseconds(),
	}
	if res.Evaluation != nil {
		s.Evaluation = SummarizeEvaluation(res.Evaluation)
	}
	if res.Search != nil {
		ss := &SearchSummary{Folds: res.Search.NFolds, BestIndex: res.Search.BestIndex}
		for _, p := range res.Search.Points {
			ps := PointSummary{
				Params: map[string]float64(p.Params.Clone()),
				Mean:   Float(p.MeanScore),
				Std:    Float(p.StdScore),
			}
			if p.Failed() {
				ps.Mean, ps.Std = Float(math.NaN()), Float(math.NaN())
				ps.Error = p.Err.Error()
			}
			ss.Points = append(ss.Points, ps)
		}
		s.Search = ss
	}
	return s
}

// SummarizeEvaluation converts an evaluation result.
func SummarizeEvaluation(ev *metrics.EvaluationResult) EvaluationSummary {
	es := EvaluationSummary{
		N:             ev.N,
		Correct:       ev.Correct,
		Accuracy:      Float(ev.Accuracy),
		CILower:       Float(ev.AccuracyCI.Lower),
		CIUpper:       Float(ev.AccuracyCI.Upper),
		CILevel:       Float(ev.AccuracyCI.Level),
		Kappa:         Float(ev.Kappa),
		Baseline:      Float(ev.Baseline),
		BaselineClass: ev.BaselineClass,
		Lift:          Float(ev.Lift),
		PValue:        Float(ev.PValue),
	}
	if cm := ev.Confusion; cm != nil {
		es.Labels = append([]string(nil), cm.Labels...)
		es.Confusion = make([][]int, len(cm.Counts))
		for i, row := range cm.Counts {
			es.Confusion[i] = append([]int(nil), row...)
		}
	}
	for _, c := range ev.Classes {
		es.Classes = append(es.Classes, ClassSummary{
			Label:     c.Label,
			Support:   c.Support,
			Precision: Float(c.Precision),
			Recall:    Float(c.Recall),
			F1:        Float(c.F1),
		})
	}
	return es
}

// WriteJSON writes s as indented JSON.
func WriteJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return errors.Wrap(err, "report: encode JSON")
	}
	return nil
}
