package preprocessing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})
	s := NewStandardScalerDefault()
	Xs, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, s.Mean[0], 1e-12)
	// 標本標準偏差 sqrt(5/3)
	assert.InDelta(t, math.Sqrt(5.0/3.0), s.Scale[0], 1e-12)
	// 定数列はスケール1
	assert.Equal(t, 1.0, s.Scale[1])
	assert.InDelta(t, 0.0, Xs.At(0, 1), 1e-12)

	back, err := s.InverseTransform(Xs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))

	_, err = s.Transform(mat.NewDense(1, 3, nil))
	var dim *errors.DimensionError
	assert.True(t, errors.As(err, &dim))

	_, err = NewStandardScalerDefault().Transform(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
}

func TestOneHotEncoderUnseenLevel(t *testing.T) {
	enc := NewOneHotEncoder()
	require.NoError(t, enc.Fit([]string{"b", "a", "b"}))
	assert.Equal(t, []string{"a", "b"}, enc.Levels())

	out, err := enc.Transform([]string{"a", "b", "z"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, mat.Row(nil, 0, out))
	assert.Equal(t, []float64{0, 1}, mat.Row(nil, 1, out))
	assert.Equal(t, []float64{0, 0}, mat.Row(nil, 2, out))
}

func TestLabelEncoderRoundTrip(t *testing.T) {
	enc := NewLabelEncoder()
	require.NoError(t, enc.Fit([]string{"virginica", "setosa", "versicolor", "setosa"}))
	assert.Equal(t, []string{"setosa", "versicolor", "virginica"}, enc.Classes())

	y, err := enc.Encode([]string{"virginica", "setosa"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, y.At(0, 0))
	assert.Equal(t, 0.0, y.At(1, 0))

	labels, err := enc.Decode(y)
	require.NoError(t, err)
	assert.Equal(t, []string{"virginica", "setosa"}, labels)

	_, err = enc.Encode([]string{"unknown"})
	assert.Error(t, err)
}

func toyDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New(
		dataset.NumericColumn("len", []float64{1, 2, 3, 4}),
		dataset.CategoricalColumn("color", []string{"red", "blue", "red", "green"}),
		dataset.TextColumn("comment", []string{"a", "b", "c", "d"}),
		dataset.CategoricalColumn("label", []string{"x", "y", "x", "y"}),
	)
	require.NoError(t, err)
	return ds
}

func TestResolveFeatures(t *testing.T) {
	schema := toyDataset(t).Schema()

	got, err := ResolveFeatures(schema, "label", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"len", "color"}, got)

	got, err = ResolveFeatures(schema, "label", []string{"color"})
	require.NoError(t, err)
	assert.Equal(t, []string{"color"}, got)

	for _, bad := range [][]string{{"nope"}, {"label"}, {"comment"}, {"len", "len"}} {
		_, err := ResolveFeatures(schema, "label", bad)
		assert.True(t, errors.IsInvalidParameter(err), "features %v", bad)
	}

	_, err = ResolveFeatures(schema, "missing", nil)
	assert.True(t, errors.IsInvalidParameter(err))
}

func TestDesignFitAndTransform(t *testing.T) {
	ds := toyDataset(t)
	train, err := ds.Subset([]int{0, 1, 2})
	require.NoError(t, err)
	test, err := ds.Subset([]int{3})
	require.NoError(t, err)

	d, X, err := FitDesign(train, []string{"len", "color"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"len", "color=blue", "color=red"}, d.ColumnNames())
	assert.Equal(t, 3, d.Width())
	assert.True(t, d.Scaled())

	// len は訓練データの平均2、標準偏差1で標準化される
	assert.InDelta(t, -1.0, X.At(0, 0), 1e-12)
	assert.Equal(t, 1.0, X.At(0, 2))

	Xt, err := d.Transform(test)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, Xt.At(0, 0), 1e-12)
	// green は訓練時に存在しない水準なので指示変数はすべて0
	assert.Equal(t, 0.0, Xt.At(0, 1))
	assert.Equal(t, 0.0, Xt.At(0, 2))
}

func TestDesignRejectsMissingNumeric(t *testing.T) {
	ds, err := dataset.New(
		dataset.NumericColumn("len", []float64{1, math.NaN()}),
		dataset.CategoricalColumn("label", []string{"x", "y"}),
	)
	require.NoError(t, err)

	_, _, err = FitDesign(ds, []string{"len"}, false)
	assert.True(t, errors.IsInvalidParameter(err))
}
