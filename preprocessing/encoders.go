package preprocessing

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// OneHotEncoder はカテゴリ変数を0/1の指示変数に変換する
// 水準は訓練データから学習し、辞書順に並べる。未知の水準はすべて0になる
type OneHotEncoder struct {
	levels []string
	index  map[string]int
}

// NewOneHotEncoder は新しいOneHotEncoderを作成する
func NewOneHotEncoder() *OneHotEncoder {
	return &OneHotEncoder{}
}

// Fit は水準の一覧を学習する
func (e *OneHotEncoder) Fit(values []string) error {
	if len(values) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	seen := make(map[string]bool)
	for _, v := range values {
		seen[v] = true
	}
	e.levels = make([]string, 0, len(seen))
	for v := range seen {
		e.levels = append(e.levels, v)
	}
	sort.Strings(e.levels)
	e.index = make(map[string]int, len(e.levels))
	for i, v := range e.levels {
		e.index[v] = i
	}
	return nil
}

// Levels は学習済みの水準を返す
func (e *OneHotEncoder) Levels() []string {
	out := make([]string, len(e.levels))
	copy(out, e.levels)
	return out
}

// Width は出力列数（水準数）を返す
func (e *OneHotEncoder) Width() int {
	return len(e.levels)
}

// TransformInto は dst の列 offset から Width() 列に指示変数を書き込む
// dst の該当ブロックは0で初期化されている必要がある
func (e *OneHotEncoder) TransformInto(dst *mat.Dense, offset int, values []string) error {
	if e.index == nil {
		return errors.NewNotFittedError("OneHotEncoder", "Transform")
	}
	r, _ := dst.Dims()
	if r != len(values) {
		return errors.NewDimensionError("OneHotEncoder.Transform", r, len(values), 0)
	}
	for i, v := range values {
		if j, ok := e.index[v]; ok {
			dst.Set(i, offset+j, 1)
		}
	}
	return nil
}

// Transform は指示変数の行列を返す
func (e *OneHotEncoder) Transform(values []string) (*mat.Dense, error) {
	if e.index == nil {
		return nil, errors.NewNotFittedError("OneHotEncoder", "Transform")
	}
	if len(values) == 0 || len(e.levels) == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty data", errors.ErrEmptyData)
	}
	dst := mat.NewDense(len(values), len(e.levels), nil)
	if err := e.TransformInto(dst, 0, values); err != nil {
		return nil, err
	}
	return dst, nil
}

// LabelEncoder はクラスラベルを 0..k-1 の整数に変換する
// クラスは辞書順に並べる
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// NewLabelEncoder は新しいLabelEncoderを作成する
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{}
}

// Fit はクラスの一覧を学習する
func (e *LabelEncoder) Fit(labels []string) error {
	oh := NewOneHotEncoder()
	if err := oh.Fit(labels); err != nil {
		return err
	}
	e.classes = oh.levels
	e.index = oh.index
	return nil
}

// Classes は学習済みのクラスを返す
func (e *LabelEncoder) Classes() []string {
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

// Encode はラベルを n×1 のクラス番号の列ベクトルに変換する
// 未知のラベルは ValueError になる
func (e *LabelEncoder) Encode(labels []string) (*mat.Dense, error) {
	if e.index == nil {
		return nil, errors.NewNotFittedError("LabelEncoder", "Encode")
	}
	if len(labels) == 0 {
		return nil, errors.NewModelError("LabelEncoder.Encode", "empty data", errors.ErrEmptyData)
	}
	y := mat.NewDense(len(labels), 1, nil)
	for i, l := range labels {
		k, ok := e.index[l]
		if !ok {
			return nil, errors.NewValueError("LabelEncoder.Encode", "unseen label "+l)
		}
		y.Set(i, 0, float64(k))
	}
	return y, nil
}

// Decode はクラス番号の列ベクトルをラベルに戻す
func (e *LabelEncoder) Decode(y mat.Matrix) ([]string, error) {
	if e.index == nil {
		return nil, errors.NewNotFittedError("LabelEncoder", "Decode")
	}
	r, _ := y.Dims()
	out := make([]string, r)
	for i := 0; i < r; i++ {
		k := int(y.At(i, 0))
		if k < 0 || k >= len(e.classes) {
			return nil, errors.NewValueError("LabelEncoder.Decode", "class index out of range")
		}
		out[i] = e.classes[k]
	}
	return out, nil
}
