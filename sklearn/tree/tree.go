// Package tree implements a CART decision tree classifier.
//
// Every internal node compares a single feature with a threshold; samples
// with x[feature] <= threshold go left. Splits are chosen greedily to
// minimise the weighted child impurity (gini or entropy).
package tree

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/clfpipe/core/model"
	"github.com/YuminosukeSato/clfpipe/core/parallel"
	"github.com/YuminosukeSato/clfpipe/metrics"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

const (
	CriterionGini    = "gini"
	CriterionEntropy = "entropy"
)

// featureParallelThreshold is the feature count above which split search
// fans out over CPUs.
const featureParallelThreshold = 16

// Node is one node of a fitted tree. Leaves have Feature == -1.
type Node struct {
	ID         int
	Depth      int
	Feature    int
	Threshold  float64
	Left       int
	Right      int
	NSamples   int
	Impurity   float64
	Counts     []int
	Prediction int
}

// IsLeaf reports whether the node is a leaf.
func (n Node) IsLeaf() bool {
	return n.Feature < 0
}

// DecisionTreeClassifier is a CART classifier over encoded class indices.
type DecisionTreeClassifier struct {
	state *model.StateManager

	criterion       string
	maxDepth        int // 0 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	cp              float64

	nClasses_   int
	nodes       []Node
	importances []float64
	depth       int
	nLeaves     int
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// WithCriterion sets the impurity measure, "gini" or "entropy".
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.criterion = criterion
	}
}

// WithMaxDepth limits the tree depth. 0 means unlimited.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum node size that may be split.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum number of samples in each child.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesLeaf = n
	}
}

// WithCP sets the complexity parameter: a split is kept only if it lowers
// the total weighted impurity by at least cp times the root impurity.
func WithCP(cp float64) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.cp = cp
	}
}

// NewDecisionTreeClassifier returns an unfitted tree with gini, unlimited
// depth, min_samples_split 2, min_samples_leaf 1 and cp 0.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager("DecisionTreeClassifier"),
		criterion:       CriterionGini,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

func (dt *DecisionTreeClassifier) validate() error {
	switch {
	case dt.criterion != CriterionGini && dt.criterion != CriterionEntropy:
		return errors.NewInvalidParameterError("criterion", "must be gini or entropy", dt.criterion)
	case dt.maxDepth < 0:
		return errors.NewInvalidParameterError("max_depth", "must be >= 0", dt.maxDepth)
	case dt.minSamplesSplit < 2:
		return errors.NewInvalidParameterError("min_samples_split", "must be >= 2", dt.minSamplesSplit)
	case dt.minSamplesLeaf < 1:
		return errors.NewInvalidParameterError("min_samples_leaf", "must be >= 1", dt.minSamplesLeaf)
	case dt.cp < 0 || math.IsNaN(dt.cp):
		return errors.NewInvalidParameterError("cp", "must be >= 0", dt.cp)
	}
	return nil
}

// Fit grows the tree. y is an n x 1 matrix of class indices 0..k-1.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	if err := dt.validate(); err != nil {
		return err
	}
	labels, nFeatures, err := checkXY(X, y)
	if err != nil {
		return err
	}

	nClasses := 0
	for _, c := range labels {
		if c+1 > nClasses {
			nClasses = c + 1
		}
	}

	b := &builder{
		dt:          dt,
		X:           X,
		y:           labels,
		nClasses:    nClasses,
		nFeatures:   nFeatures,
		nTotal:      float64(len(labels)),
		importances: make([]float64, nFeatures),
	}
	idx := make([]int, len(labels))
	for i := range idx {
		idx[i] = i
	}
	b.rootImpurity = impurity(dt.criterion, b.counts(idx), len(idx))
	b.grow(idx, 0)

	total := 0.0
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for i := range b.importances {
			b.importances[i] /= total
		}
	}

	dt.state.Reset()
	dt.nClasses_ = nClasses
	dt.nodes = b.nodes
	dt.importances = b.importances
	dt.depth = b.depth
	dt.nLeaves = b.nLeaves
	dt.state.SetFitted(nFeatures, len(labels))
	return nil
}

func checkXY(X, y mat.Matrix) ([]int, int, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, 0, errors.NewModelError("Fit", "empty data", errors.ErrEmptyData)
	}
	yr, yc := y.Dims()
	if yr != r {
		return nil, 0, errors.NewDimensionError("Fit", r, yr, 0)
	}
	if yc != 1 {
		return nil, 0, errors.NewDimensionError("Fit", 1, yc, 1)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := X.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, 0, errors.NewValueError("Fit", fmt.Sprintf("X contains NaN or Inf at (%d, %d)", i, j))
			}
		}
	}
	labels := make([]int, r)
	for i := 0; i < r; i++ {
		v := y.At(i, 0)
		if v < 0 || v != math.Trunc(v) {
			return nil, 0, errors.NewValueError("Fit", fmt.Sprintf("y must hold class indices, got %v at row %d", v, i))
		}
		labels[i] = int(v)
	}
	return labels, c, nil
}

type builder struct {
	dt           *DecisionTreeClassifier
	X            mat.Matrix
	y            []int
	nClasses     int
	nFeatures    int
	nTotal       float64
	rootImpurity float64
	importances  []float64
	nodes        []Node
	depth        int
	nLeaves      int
}

type split struct {
	found     bool
	feature   int
	threshold float64
	childImp  float64
}

func (b *builder) counts(idx []int) []int {
	c := make([]int, b.nClasses)
	for _, i := range idx {
		c[b.y[i]]++
	}
	return c
}

// grow appends the subtree for idx in pre-order and returns its node ID.
func (b *builder) grow(idx []int, depth int) int {
	counts := b.counts(idx)
	n := len(idx)
	imp := impurity(b.dt.criterion, counts, n)

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		ID:         id,
		Depth:      depth,
		Feature:    -1,
		Left:       -1,
		Right:      -1,
		NSamples:   n,
		Impurity:   imp,
		Counts:     counts,
		Prediction: argmax(counts),
	})
	if depth > b.depth {
		b.depth = depth
	}

	dt := b.dt
	if (dt.maxDepth > 0 && depth >= dt.maxDepth) ||
		n < dt.minSamplesSplit ||
		n < 2*dt.minSamplesLeaf ||
		imp <= 1e-12 {
		b.nLeaves++
		return id
	}

	best := b.bestSplit(idx, counts)
	if !best.found {
		b.nLeaves++
		return id
	}
	decrease := float64(n) / b.nTotal * (imp - best.childImp)
	if decrease < dt.cp*b.rootImpurity {
		b.nLeaves++
		return id
	}
	b.importances[best.feature] += decrease

	var left, right []int
	for _, i := range idx {
		if b.X.At(i, best.feature) <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.nodes[id].Feature = best.feature
	b.nodes[id].Threshold = best.threshold
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// bestSplit scans every feature. Ties go to the lower feature index, then
// the lower threshold.
func (b *builder) bestSplit(idx []int, counts []int) split {
	perFeature := make([]split, b.nFeatures)
	parallel.ParallelizeWithThreshold(b.nFeatures, featureParallelThreshold, func(start, end int) {
		order := make([]int, len(idx))
		left := make([]int, b.nClasses)
		right := make([]int, b.nClasses)
		for f := start; f < end; f++ {
			perFeature[f] = b.bestSplitForFeature(f, idx, counts, order, left, right)
		}
	})

	var best split
	for _, s := range perFeature {
		if s.found && (!best.found || s.childImp < best.childImp-1e-12) {
			best = s
		}
	}
	return best
}

func (b *builder) bestSplitForFeature(f int, idx, counts, order, left, right []int) split {
	copy(order, idx)
	sort.SliceStable(order, func(a, c int) bool {
		return b.X.At(order[a], f) < b.X.At(order[c], f)
	})
	for k := range left {
		left[k] = 0
		right[k] = counts[k]
	}

	n := len(order)
	minLeaf := b.dt.minSamplesLeaf
	best := split{feature: f}
	for pos := 0; pos < n-1; pos++ {
		cls := b.y[order[pos]]
		left[cls]++
		right[cls]--

		v, next := b.X.At(order[pos], f), b.X.At(order[pos+1], f)
		if v == next {
			continue
		}
		nl, nr := pos+1, n-pos-1
		if nl < minLeaf || nr < minLeaf {
			continue
		}
		childImp := (float64(nl)*impurity(b.dt.criterion, left, nl) +
			float64(nr)*impurity(b.dt.criterion, right, nr)) / float64(n)
		if !best.found || childImp < best.childImp-1e-12 {
			best = split{found: true, feature: f, threshold: (v + next) / 2, childImp: childImp}
		}
	}
	return best
}

func impurity(criterion string, counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	total := float64(n)
	if criterion == CriterionEntropy {
		h := 0.0
		for _, c := range counts {
			if c > 0 {
				p := float64(c) / total
				h -= p * math.Log2(p)
			}
		}
		return h
	}
	g := 1.0
	for _, c := range counts {
		p := float64(c) / total
		g -= p * p
	}
	return g
}

// argmax returns the first index of the largest count.
func argmax(counts []int) int {
	best := 0
	for k, c := range counts {
		if c > counts[best] {
			best = k
		}
	}
	return best
}

func (dt *DecisionTreeClassifier) leafFor(X mat.Matrix, i int) Node {
	node := dt.nodes[0]
	for !node.IsLeaf() {
		if X.At(i, node.Feature) <= node.Threshold {
			node = dt.nodes[node.Left]
		} else {
			node = dt.nodes[node.Right]
		}
	}
	return node
}

// Predict returns the majority class of the leaf each row falls into.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	r, c := X.Dims()
	if err := dt.state.RequireFeatures("Predict", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, float64(dt.leafFor(X, i).Prediction))
	}
	return out, nil
}

// PredictProba returns the class proportions of each row's leaf.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	r, c := X.Dims()
	if err := dt.state.RequireFeatures("PredictProba", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, dt.nClasses_, nil)
	for i := 0; i < r; i++ {
		leaf := dt.leafFor(X, i)
		for k, cnt := range leaf.Counts {
			out.Set(i, k, float64(cnt)/float64(leaf.NSamples))
		}
	}
	return out, nil
}

// Score returns the accuracy on (X, y), or 0 if prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	acc, err := metrics.AccuracyMatrix(y, pred)
	if err != nil {
		return 0
	}
	return acc
}

// NClasses returns the number of classes seen during fitting.
func (dt *DecisionTreeClassifier) NClasses() int {
	return dt.nClasses_
}

// GetFeatureImportances returns the normalised total impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	out := make([]float64, len(dt.importances))
	copy(out, dt.importances)
	return out
}

// GetDepth returns the depth of the deepest leaf (the root has depth 0).
func (dt *DecisionTreeClassifier) GetDepth() int {
	return dt.depth
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	return dt.nLeaves
}

// Nodes returns the fitted nodes in pre-order; node 0 is the root.
func (dt *DecisionTreeClassifier) Nodes() []Node {
	out := make([]Node, len(dt.nodes))
	for i, n := range dt.nodes {
		n.Counts = append([]int(nil), n.Counts...)
		out[i] = n
	}
	return out
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"cp":                dt.cp,
	}
}

// SetParams updates hyperparameters. Integer parameters accept int or
// integral float64 values.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "criterion":
			s, ok := value.(string)
			if !ok {
				return errors.NewInvalidParameterError(key, "must be a string", value)
			}
			dt.criterion = s
		case "max_depth", "maxdepth":
			n, err := asInt(key, value)
			if err != nil {
				return err
			}
			dt.maxDepth = n
		case "min_samples_split", "minsplit":
			n, err := asInt(key, value)
			if err != nil {
				return err
			}
			dt.minSamplesSplit = n
		case "min_samples_leaf", "minbucket":
			n, err := asInt(key, value)
			if err != nil {
				return err
			}
			dt.minSamplesLeaf = n
		case "cp":
			f, ok := asFloat(value)
			if !ok {
				return errors.NewInvalidParameterError(key, "must be a number", value)
			}
			dt.cp = f
		default:
			return errors.NewInvalidParameterError(key, "unknown decision tree parameter", value)
		}
	}
	return dt.validate()
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}

func asInt(key string, v interface{}) (int, error) {
	f, ok := asFloat(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, errors.NewInvalidParameterError(key, "must be an integer", v)
	}
	return int(f), nil
}
