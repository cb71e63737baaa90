// Package errors はプロジェクト全体のエラーハンドリングと警告システムを提供します。
// パイプラインのエラー分類（InvalidParameter / IncompatibleTarget / LoadError /
// ComputationError）を型として定義し、cockroachdb/errors でスタックトレースを付与します。
package errors

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// デフォルトのハンドラは標準エラー出力にログを出す
		log.Printf("clfpipe-Warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
// ConvergenceWarning や UndefinedMetricWarning の処理方法を制御できます。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
// nil を渡すと従来のハンドラに戻ります。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが利用可能な場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// ConvergenceWarning は最適化アルゴリズムが収束しなかった場合に発生する警告です。
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

func (w *ConvergenceWarning) Error() string {
	if w.Message != "" {
		return fmt.Sprintf("%s failed to converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
	}
	return fmt.Sprintf("%s failed to converge after %d iterations. Consider increasing max_iter or adjusting parameters.", w.Algorithm, w.Iterations)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("algorithm", w.Algorithm).
		Int("iterations", w.Iterations).
		Str("message", w.Message).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning は新しいConvergenceWarningを作成します。
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

// UndefinedMetricWarning は評価指標が計算できない場合に発生する警告です。
// 例えば、適合率(precision)を計算する際に、あるクラスの予測が一つもなかった場合など。
// 値は NaN として報告され、0 として黙って扱われることはありません。
type UndefinedMetricWarning struct {
	Metric    string
	Class     string
	Condition string
}

func (w *UndefinedMetricWarning) Error() string {
	if w.Class != "" {
		return fmt.Sprintf("'%s' is ill-defined for class %q and being set to NaN due to %s.", w.Metric, w.Class, w.Condition)
	}
	return fmt.Sprintf("'%s' is ill-defined and being set to NaN due to %s.", w.Metric, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("class", w.Class).
		Str("condition", w.Condition).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric, class, condition string) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Class: class, Condition: condition}
}

// ===========================================================================
//
//	パイプラインのエラー分類
//
// ===========================================================================

// InvalidParameterError は分割比率・fold数・グリッド定義などの入力パラメータが不正な場合のエラーです。
// 呼び出し側で修正可能であり、計算を開始する前に返されます。
type InvalidParameterError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("clfpipe: invalid parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *InvalidParameterError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "InvalidParameterError")
}

// NewInvalidParameterError は新しいInvalidParameterErrorを作成し、スタックトレースを付与します。
func NewInvalidParameterError(param, reason string, value interface{}) error {
	err := &InvalidParameterError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// IncompatibleTargetError は目的変数の列が分類に使えない場合のエラーです。
type IncompatibleTargetError struct {
	Column string
	Kind   string
	Reason string
}

func (e *IncompatibleTargetError) Error() string {
	return fmt.Sprintf("clfpipe: target column %q (%s) is not usable for classification: %s", e.Column, e.Kind, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *IncompatibleTargetError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("column", e.Column).
		Str("kind", e.Kind).
		Str("reason", e.Reason).
		Str("type", "IncompatibleTargetError")
}

// NewIncompatibleTargetError は新しいIncompatibleTargetErrorを作成し、スタックトレースを付与します。
func NewIncompatibleTargetError(column, kind, reason string) error {
	err := &IncompatibleTargetError{Column: column, Kind: kind, Reason: reason}
	return errors.WithStack(err)
}

// LoadError はデータセットが取得できない、または不正な形式の場合のエラーです。
// 呼び出し側にそのまま返され、自動的に再試行されることはありません。
type LoadError struct {
	Source string
	Line   int // 0 の場合は行に依存しないエラー
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "clfpipe: load %s", e.Source)
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *LoadError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("source", e.Source).
		Int("line", e.Line).
		Str("reason", e.Reason).
		Str("type", "LoadError")
}

// NewLoadError は新しいLoadErrorを作成し、スタックトレースを付与します。
func NewLoadError(source string, line int, reason string, err error) error {
	loadErr := &LoadError{Source: source, Line: line, Reason: reason, Err: err}
	return errors.WithStack(loadErr)
}

// ComputationError はモデルの学習が失敗した（収束しない、数値が不安定など）場合のエラーです。
// 失敗したハイパーパラメータの点を保持し、グリッドサーチはその点をスキップして続行します。
type ComputationError struct {
	Op     string
	Params map[string]float64
	Err    error
}

func (e *ComputationError) Error() string {
	if len(e.Params) == 0 {
		return fmt.Sprintf("clfpipe: %s: computation failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("clfpipe: %s: computation failed at %s: %v", e.Op, FormatParams(e.Params), e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ComputationError) MarshalZerologObject(event *zerolog.Event) {
	dict := zerolog.Dict()
	for k, v := range e.Params {
		dict = dict.Float64(k, v)
	}
	event.Str("operation", e.Op).
		Dict("params", dict).
		Str("type", "ComputationError")
	if e.Err != nil {
		event.Str("cause", e.Err.Error())
	}
}

// NewComputationError は新しいComputationErrorを作成し、スタックトレースを付与します。
// params はコピーされます。
func NewComputationError(op string, params map[string]float64, err error) error {
	var copied map[string]float64
	if len(params) > 0 {
		copied = make(map[string]float64, len(params))
		for k, v := range params {
			copied[k] = v
		}
	}
	compErr := &ComputationError{Op: op, Params: copied, Err: err}
	return errors.WithStack(compErr)
}

// FormatParams はハイパーパラメータをキー順に "{C=1, sigma=0.05}" の形式で整形します。
func FormatParams(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, params[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ===========================================================================
//
//	推定器のエラー型
//
// ===========================================================================

// NotFittedError はモデルが未学習の状態で `Predict` や `Transform` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("clfpipe: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("clfpipe: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", axisName).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValueError は引数の値が不適切または不正な場合に発生するエラーです。
// 例えば、特徴量に欠損値が含まれている場合など。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("clfpipe: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// ModelError は機械学習モデルに関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("clfpipe: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("clfpipe: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	modelErr := &ModelError{Op: op, Kind: kind, Err: err}
	return errors.WithStack(modelErr)
}

// NumericalInstabilityError は数値計算が不安定になった場合のエラーです。
// NaN、Inf、オーバーフローなどを検出します。
type NumericalInstabilityError struct {
	Operation string    // 発生した操作（例: "smo_gradient", "decision_function"）
	Values    []float64 // 問題のある値
	Iteration int       // 発生したイテレーション番号
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("clfpipe: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	err := &NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// IsInvalidParameter は err のチェーンに InvalidParameterError が含まれるかを返します。
func IsInvalidParameter(err error) bool {
	var target *InvalidParameterError
	return errors.As(err, &target)
}

// IsNotFitted は err のチェーンに NotFittedError が含まれるかを返します。
func IsNotFitted(err error) bool {
	var target *NotFittedError
	return errors.As(err, &target)
}

// IsComputation は err のチェーンに ComputationError が含まれるかを返します。
func IsComputation(err error) bool {
	var target *ComputationError
	return errors.As(err, &target)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrNoCandidates はグリッドのすべての点が失敗した場合のエラーです。
	ErrNoCandidates = New("every grid point failed")
)
