package pipeline

import (
	"strings"

	"github.com/YuminosukeSato/clfpipe/core/model"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
	"github.com/YuminosukeSato/clfpipe/sklearn/model_selection"
	"github.com/YuminosukeSato/clfpipe/sklearn/svm"
	"github.com/YuminosukeSato/clfpipe/sklearn/tree"
)

// Variant is one of the supported classifier families.
type Variant int

const (
	// DecisionTree is a CART classification tree ("rpart").
	DecisionTree Variant = iota + 1
	// SVMRadial is a support vector classifier with an RBF kernel ("svmRadial").
	SVMRadial
)

// Variants lists every supported variant.
var Variants = []Variant{DecisionTree, SVMRadial}

// rpart defaults: minsplit 20, minbucket round(minsplit/3), cp 0.01, maxdepth 30.
const (
	treeMinSplit  = 20
	treeMinBucket = 7
	treeCP        = 0.01
	treeMaxDepth  = 30
)

// ParseVariant accepts "rpart", "tree", "decision_tree", "svmRadial" and
// "svm", case-insensitively.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rpart", "tree", "decision_tree", "decisiontree":
		return DecisionTree, nil
	case "svmradial", "svm", "svm_radial":
		return SVMRadial, nil
	}
	return 0, errors.NewInvalidParameterError("variant", "must be rpart or svmRadial", s)
}

func (v Variant) String() string {
	switch v {
	case DecisionTree:
		return "rpart"
	case SVMRadial:
		return "svmRadial"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (v Variant) MarshalText() ([]byte, error) {
	if v != DecisionTree && v != SVMRadial {
		return nil, errors.NewInvalidParameterError("variant", "unknown variant", int(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Hyperparameters returns the parameter names the variant understands.
func (v Variant) Hyperparameters() []string {
	switch v {
	case DecisionTree:
		return []string{"cp", "max_depth", "min_samples_split", "min_samples_leaf"}
	case SVMRadial:
		return []string{"sigma", "C", "tol", "max_iter"}
	}
	return nil
}

// DefaultScale reports whether numeric features are standardised by default.
// Distances drive the RBF kernel, so the SVM scales; trees are invariant.
func (v Variant) DefaultScale() bool {
	return v == SVMRadial
}

// newEstimator builds an unfitted classifier for params. Unknown or invalid
// parameters are InvalidParameter errors.
func (v Variant) newEstimator(params model_selection.Params, criterion string) (model.Classifier, error) {
	settings := make(map[string]interface{}, len(params))
	for k, val := range params {
		settings[k] = val
	}

	switch v {
	case DecisionTree:
		if criterion == "" {
			criterion = tree.CriterionGini
		}
		dt := tree.NewDecisionTreeClassifier(
			tree.WithCriterion(criterion),
			tree.WithMaxDepth(treeMaxDepth),
			tree.WithMinSamplesSplit(treeMinSplit),
			tree.WithMinSamplesLeaf(treeMinBucket),
			tree.WithCP(treeCP),
		)
		if err := dt.SetParams(settings); err != nil {
			return nil, err
		}
		return dt, nil
	case SVMRadial:
		s := svm.NewSVC()
		if err := s.SetParams(settings); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errors.NewInvalidParameterError("variant", "unknown variant", int(v))
}
