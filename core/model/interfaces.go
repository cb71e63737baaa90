// Package model defines the estimator interfaces shared by the classifiers
// and transformers, and the fitted-state manager they compose.
//
// Classifiers receive class labels already encoded as integer indices
// 0..k-1 in a single-column matrix; decoding back to label strings is the
// caller's job (see preprocessing.LabelEncoder).
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter learns from a design matrix X (n x p) and a target column y (n x 1).
type Fitter interface {
	Fit(X, y mat.Matrix) error
}

// Predictor returns one prediction per row of X as an n x 1 matrix.
type Predictor interface {
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Classifier is a Fitter/Predictor over encoded class indices.
type Classifier interface {
	Fitter
	Predictor

	// NClasses returns the number of classes seen during fitting.
	NClasses() int
}

// ProbabilisticClassifier also reports per-class probability estimates.
type ProbabilisticClassifier interface {
	Classifier

	// PredictProba returns an n x k matrix whose rows sum to 1.
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// Transformer はデータ変換のインターフェース
type Transformer interface {
	// Fit は変換に必要なパラメータを学習する
	Fit(X mat.Matrix) error

	// Transform はデータを変換する
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}
