package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/clfpipe/dataset"
	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// ResolveFeatures validates the feature list once, before any fitting.
// An empty list means every column except the target and text columns.
// Unknown columns, the target listed as a feature, text features and
// duplicates are InvalidParameter errors.
func ResolveFeatures(schema dataset.Schema, target string, features []string) ([]string, error) {
	if _, ok := schema.Lookup(target); !ok {
		return nil, errors.NewInvalidParameterError("target", "unknown column", target)
	}

	if len(features) == 0 {
		var out []string
		for _, c := range schema.Columns() {
			if c.Name == target || c.Kind == dataset.Text {
				continue
			}
			out = append(out, c.Name)
		}
		if len(out) == 0 {
			return nil, errors.NewInvalidParameterError("features", "no usable feature columns besides the target", target)
		}
		return out, nil
	}

	seen := make(map[string]bool, len(features))
	out := make([]string, 0, len(features))
	for _, f := range features {
		col, ok := schema.Lookup(f)
		switch {
		case !ok:
			return nil, errors.NewInvalidParameterError("features", "unknown column", f)
		case f == target:
			return nil, errors.NewInvalidParameterError("features", "target column cannot be a feature", f)
		case col.Kind == dataset.Text:
			return nil, errors.NewInvalidParameterError("features", "text columns cannot be features", f)
		case seen[f]:
			return nil, errors.NewInvalidParameterError("features", "duplicate feature", f)
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

type featureBlock struct {
	name    string
	kind    dataset.Kind
	offset  int
	encoder *OneHotEncoder // categorical only
}

// Design turns dataset rows into a numeric design matrix. Categorical
// features are one-hot encoded with the levels seen at fit time; numeric
// features are optionally standardised. Everything is learned from the rows
// passed to FitDesign only.
type Design struct {
	blocks  []featureBlock
	width   int
	names   []string
	numeric []int
	scaler  *StandardScaler
}

// FitDesign learns encoders (and the scaler when scale is true) from ds and
// returns the design together with ds's design matrix.
func FitDesign(ds *dataset.Dataset, features []string, scale bool) (*Design, *mat.Dense, error) {
	if ds.NRows() == 0 {
		return nil, nil, errors.NewInvalidParameterError("rows", "cannot fit a design on zero rows", 0)
	}

	d := &Design{}
	for _, name := range features {
		col, ok := ds.Schema().Lookup(name)
		if !ok {
			return nil, nil, errors.NewInvalidParameterError("features", "unknown column", name)
		}
		block := featureBlock{name: name, kind: col.Kind, offset: d.width}
		switch col.Kind {
		case dataset.Numeric:
			d.numeric = append(d.numeric, d.width)
			d.names = append(d.names, name)
			d.width++
		case dataset.Categorical:
			values, err := ds.Strings(name)
			if err != nil {
				return nil, nil, err
			}
			enc := NewOneHotEncoder()
			if err := enc.Fit(values); err != nil {
				return nil, nil, err
			}
			block.encoder = enc
			for _, level := range enc.Levels() {
				d.names = append(d.names, fmt.Sprintf("%s=%s", name, level))
			}
			d.width += enc.Width()
		default:
			return nil, nil, errors.NewInvalidParameterError("features", "text columns cannot be features", name)
		}
		d.blocks = append(d.blocks, block)
	}

	X, err := d.encode(ds)
	if err != nil {
		return nil, nil, err
	}

	if scale && len(d.numeric) > 0 {
		d.scaler = NewStandardScalerDefault()
		if err := d.scaler.Fit(d.numericView(X)); err != nil {
			return nil, nil, err
		}
		if err := d.applyScaler(X); err != nil {
			return nil, nil, err
		}
	}
	return d, X, nil
}

// Transform builds the design matrix for ds with the fitted encoders and scaler.
func (d *Design) Transform(ds *dataset.Dataset) (*mat.Dense, error) {
	if ds.NRows() == 0 {
		return nil, errors.NewInvalidParameterError("rows", "cannot transform zero rows", 0)
	}
	X, err := d.encode(ds)
	if err != nil {
		return nil, err
	}
	if d.scaler != nil {
		if err := d.applyScaler(X); err != nil {
			return nil, err
		}
	}
	return X, nil
}

// Features returns the source feature columns in order.
func (d *Design) Features() []string {
	out := make([]string, len(d.blocks))
	for i, b := range d.blocks {
		out[i] = b.name
	}
	return out
}

// ColumnNames returns one name per design-matrix column ("Species=setosa"
// for indicator columns).
func (d *Design) ColumnNames() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Width returns the number of design-matrix columns.
func (d *Design) Width() int {
	return d.width
}

// Scaled reports whether numeric columns are standardised.
func (d *Design) Scaled() bool {
	return d.scaler != nil
}

func (d *Design) encode(ds *dataset.Dataset) (*mat.Dense, error) {
	X := mat.NewDense(ds.NRows(), d.width, nil)
	for _, b := range d.blocks {
		col, ok := ds.Schema().Lookup(b.name)
		if !ok {
			return nil, errors.NewInvalidParameterError("features", "column missing from dataset", b.name)
		}
		if col.Kind != b.kind {
			return nil, errors.NewInvalidParameterError(b.name, "column kind changed since fit", col.Kind.String())
		}
		if b.kind == dataset.Numeric {
			values, err := ds.Numeric(b.name)
			if err != nil {
				return nil, err
			}
			for i, v := range values {
				if math.IsNaN(v) {
					return nil, errors.NewInvalidParameterError(b.name, fmt.Sprintf("missing value at row %d", i), "NA")
				}
				X.Set(i, b.offset, v)
			}
			continue
		}
		values, err := ds.Strings(b.name)
		if err != nil {
			return nil, err
		}
		if err := b.encoder.TransformInto(X, b.offset, values); err != nil {
			return nil, err
		}
	}
	return X, nil
}

func (d *Design) numericView(X *mat.Dense) *mat.Dense {
	r, _ := X.Dims()
	out := mat.NewDense(r, len(d.numeric), nil)
	for k, j := range d.numeric {
		for i := 0; i < r; i++ {
			out.Set(i, k, X.At(i, j))
		}
	}
	return out
}

func (d *Design) applyScaler(X *mat.Dense) error {
	scaled, err := d.scaler.Transform(d.numericView(X))
	if err != nil {
		return err
	}
	r, _ := X.Dims()
	for k, j := range d.numeric {
		for i := 0; i < r; i++ {
			X.Set(i, j, scaled.At(i, k))
		}
	}
	return nil
}
