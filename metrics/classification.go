package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// ConfidenceLevel is the coverage of EvaluationResult.AccuracyCI.
const ConfidenceLevel = 0.95

// Accuracy は正解率（予測が一致した割合）を計算する
// ラベルはクラスのインデックスとして float64 で表現する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError("Accuracy", "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError("Accuracy", n, yPred.Len(), 0)
	}

	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// AccuracyMatrix は n×1 行列形式の入力に対して正解率を計算する
func AccuracyMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	rTrue, cTrue := yTrue.Dims()
	rPred, cPred := yPred.Dims()
	if rTrue == 0 || cTrue == 0 {
		return 0, errors.NewValueError("AccuracyMatrix", "empty matrix")
	}
	if rTrue != rPred || cTrue != cPred {
		return 0, errors.NewDimensionError("AccuracyMatrix", rTrue, rPred, 0)
	}
	if cTrue != 1 {
		return 0, errors.NewValueError("AccuracyMatrix", "must be a column vector (n×1 matrix)")
	}

	yTrueVec := mat.NewVecDense(rTrue, nil)
	yPredVec := mat.NewVecDense(rPred, nil)
	for i := 0; i < rTrue; i++ {
		yTrueVec.SetVec(i, yTrue.At(i, 0))
		yPredVec.SetVec(i, yPred.At(i, 0))
	}
	return Accuracy(yTrueVec, yPredVec)
}

// AccuracyScore returns the share of positions where predicted equals actual.
func AccuracyScore(actual, predicted []string) (float64, error) {
	if err := checkLabels(actual, predicted); err != nil {
		return 0, err
	}
	correct := 0
	for i := range actual {
		if actual[i] == predicted[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(actual)), nil
}

// ConfusionMatrix counts (actual, predicted) label pairs. Labels is the
// sorted union of actual and predicted labels; Counts[i][j] is the number of
// rows whose actual label is Labels[i] and predicted label is Labels[j].
type ConfusionMatrix struct {
	Labels []string `json:"labels"`
	Counts [][]int  `json:"counts"`
}

// NewConfusionMatrix tabulates actual against predicted.
func NewConfusionMatrix(actual, predicted []string) (*ConfusionMatrix, error) {
	if err := checkLabels(actual, predicted); err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for i := range actual {
		set[actual[i]] = struct{}{}
		set[predicted[i]] = struct{}{}
	}
	labels := make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	counts := make([][]int, len(labels))
	for i := range counts {
		counts[i] = make([]int, len(labels))
	}
	for i := range actual {
		counts[index[actual[i]]][index[predicted[i]]]++
	}
	return &ConfusionMatrix{Labels: labels, Counts: counts}, nil
}

// Index returns the position of label, or -1.
func (cm *ConfusionMatrix) Index(label string) int {
	i := sort.SearchStrings(cm.Labels, label)
	if i < len(cm.Labels) && cm.Labels[i] == label {
		return i
	}
	return -1
}

// Count returns the number of rows with the given actual and predicted labels.
func (cm *ConfusionMatrix) Count(actual, predicted string) int {
	i, j := cm.Index(actual), cm.Index(predicted)
	if i < 0 || j < 0 {
		return 0
	}
	return cm.Counts[i][j]
}

// Total returns the sum of all cells.
func (cm *ConfusionMatrix) Total() int {
	n := 0
	for i := range cm.Counts {
		n += cm.RowTotal(i)
	}
	return n
}

// Correct returns the diagonal sum.
func (cm *ConfusionMatrix) Correct() int {
	n := 0
	for i := range cm.Counts {
		n += cm.Counts[i][i]
	}
	return n
}

// RowTotal returns the number of rows whose actual label is Labels[i].
func (cm *ConfusionMatrix) RowTotal(i int) int {
	n := 0
	for _, c := range cm.Counts[i] {
		n += c
	}
	return n
}

// ColTotal returns the number of rows predicted as Labels[j].
func (cm *ConfusionMatrix) ColTotal(j int) int {
	n := 0
	for i := range cm.Counts {
		n += cm.Counts[i][j]
	}
	return n
}

// Dense returns the counts as a matrix.
func (cm *ConfusionMatrix) Dense() *mat.Dense {
	k := len(cm.Labels)
	m := mat.NewDense(k, k, nil)
	for i := range cm.Counts {
		for j, c := range cm.Counts[i] {
			m.Set(i, j, float64(c))
		}
	}
	return m
}

// ClassMetrics holds one-vs-rest scores for a label. Undefined values are NaN.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Support   int     `json:"support"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Interval is a two-sided confidence interval.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// EvaluationResult summarises predictions on a held-out set.
type EvaluationResult struct {
	N         int              `json:"n"`
	Correct   int              `json:"correct"`
	Accuracy  float64          `json:"accuracy"`
	Confusion *ConfusionMatrix `json:"confusion"`
	Classes   []ClassMetrics   `json:"classes"`
	Kappa     float64          `json:"kappa"`

	// Baseline is the no-information rate: the share of the most frequent
	// actual label. Ties go to the label that sorts first.
	Baseline      float64 `json:"baseline"`
	BaselineClass string  `json:"baseline_class"`
	Lift          float64 `json:"lift"`

	AccuracyCI Interval `json:"accuracy_ci"`
	// PValue is P(X >= Correct) for X ~ Binomial(N, Baseline).
	PValue float64 `json:"p_value"`
}

// Class returns the metrics of label.
func (r *EvaluationResult) Class(label string) (ClassMetrics, bool) {
	for _, c := range r.Classes {
		if c.Label == label {
			return c, true
		}
	}
	return ClassMetrics{}, false
}

// Evaluate compares predicted against actual labels. Empty or mismatched
// inputs are InvalidParameter errors. Metrics that are undefined for the
// data (a class never predicted, never present, kappa with chance agreement
// of one) are NaN and reported through errors.Warn.
func Evaluate(actual, predicted []string) (*EvaluationResult, error) {
	cm, err := NewConfusionMatrix(actual, predicted)
	if err != nil {
		return nil, err
	}

	n := cm.Total()
	correct := cm.Correct()
	res := &EvaluationResult{
		N:         n,
		Correct:   correct,
		Accuracy:  float64(correct) / float64(n),
		Confusion: cm,
		Classes:   classMetrics(cm),
		Kappa:     kappa(cm),
	}

	for i, l := range cm.Labels {
		share := float64(cm.RowTotal(i)) / float64(n)
		if share > res.Baseline {
			res.Baseline = share
			res.BaselineClass = l
		}
	}
	res.Lift = res.Accuracy - res.Baseline
	res.AccuracyCI = ClopperPearson(correct, n, ConfidenceLevel)
	res.PValue = BinomialPValue(correct, n, res.Baseline)
	return res, nil
}

func checkLabels(actual, predicted []string) error {
	if len(actual) == 0 {
		return errors.NewInvalidParameterError("actual", "cannot evaluate an empty set", 0)
	}
	if len(actual) != len(predicted) {
		return errors.NewInvalidParameterError("predicted", "length differs from actual", len(predicted))
	}
	return nil
}

func classMetrics(cm *ConfusionMatrix) []ClassMetrics {
	out := make([]ClassMetrics, len(cm.Labels))
	for i, l := range cm.Labels {
		tp := float64(cm.Counts[i][i])
		support := cm.RowTotal(i)
		predicted := cm.ColTotal(i)

		m := ClassMetrics{Label: l, Support: support}
		m.Precision = ratio(tp, float64(predicted))
		if math.IsNaN(m.Precision) {
			errors.Warn(errors.NewUndefinedMetricWarning("precision", l, "no predicted samples"))
		}
		m.Recall = ratio(tp, float64(support))
		if math.IsNaN(m.Recall) {
			errors.Warn(errors.NewUndefinedMetricWarning("recall", l, "no true samples"))
		}
		m.F1 = math.NaN()
		if !math.IsNaN(m.Precision) && !math.IsNaN(m.Recall) {
			m.F1 = ratio(2*m.Precision*m.Recall, m.Precision+m.Recall)
		}
		if math.IsNaN(m.F1) {
			errors.Warn(errors.NewUndefinedMetricWarning("f1", l, "undefined precision or recall"))
		}
		out[i] = m
	}
	return out
}

// kappa is Cohen's kappa: (po - pe) / (1 - pe).
func kappa(cm *ConfusionMatrix) float64 {
	n := float64(cm.Total())
	po := float64(cm.Correct()) / n
	pe := 0.0
	for i := range cm.Labels {
		pe += float64(cm.RowTotal(i)) * float64(cm.ColTotal(i))
	}
	pe /= n * n
	k := ratio(po-pe, 1-pe)
	if math.IsNaN(k) {
		errors.Warn(errors.NewUndefinedMetricWarning("kappa", "", "chance agreement of 1"))
	}
	return k
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return math.NaN()
	}
	return num / den
}

// ClopperPearson returns the exact binomial confidence interval for
// successes out of n trials.
func ClopperPearson(successes, n int, level float64) Interval {
	alpha := 1 - level
	x, nf := float64(successes), float64(n)
	ci := Interval{Lower: 0, Upper: 1, Level: level}
	if successes > 0 {
		ci.Lower = distuv.Beta{Alpha: x, Beta: nf - x + 1}.Quantile(alpha / 2)
	}
	if successes < n {
		ci.Upper = distuv.Beta{Alpha: x + 1, Beta: nf - x}.Quantile(1 - alpha/2)
	}
	return ci
}

// BinomialPValue returns the one-sided P(X >= successes) for
// X ~ Binomial(n, p).
func BinomialPValue(successes, n int, p float64) float64 {
	if successes <= 0 || p >= 1 {
		return 1
	}
	if successes > n || p <= 0 {
		return 0
	}
	b := distuv.Binomial{N: float64(n), P: p}
	return b.Survival(float64(successes - 1))
}
