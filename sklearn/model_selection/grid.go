package model_selection

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// Params is one hyperparameter point, keyed by parameter name.
type Params map[string]float64

// Clone returns an independent copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String formats the point as "{C=1, sigma=0.05}".
func (p Params) String() string {
	return errors.FormatParams(p)
}

// Equal reports whether both points hold the same names and values.
func (p Params) Equal(other Params) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		w, ok := other[k]
		if !ok || v != w {
			return false
		}
	}
	return true
}

// Axis is one named, ordered list of candidate values.
type Axis struct {
	Name   string
	Values []float64
}

// ParameterGrid is the Cartesian product of its axes. Enumeration order is
// fixed: the last axis varies fastest.
type ParameterGrid struct {
	axes []Axis
}

// NewParameterGrid validates the axes. An empty axis, a duplicate or empty
// name, or a NaN candidate is an InvalidParameter error. A grid with no axes
// has exactly one (empty) point.
func NewParameterGrid(axes ...Axis) (*ParameterGrid, error) {
	seen := make(map[string]bool, len(axes))
	g := &ParameterGrid{axes: make([]Axis, len(axes))}
	for i, a := range axes {
		switch {
		case a.Name == "":
			return nil, errors.NewInvalidParameterError("grid", "axis name must not be empty", i)
		case seen[a.Name]:
			return nil, errors.NewInvalidParameterError("grid", "duplicate axis", a.Name)
		case len(a.Values) == 0:
			return nil, errors.NewInvalidParameterError("grid", "axis has no candidates", a.Name)
		}
		for _, v := range a.Values {
			if math.IsNaN(v) {
				return nil, errors.NewInvalidParameterError(a.Name, "candidate is NaN", v)
			}
		}
		seen[a.Name] = true
		values := make([]float64, len(a.Values))
		copy(values, a.Values)
		g.axes[i] = Axis{Name: a.Name, Values: values}
	}
	return g, nil
}

// Axes returns a copy of the grid's axes.
func (g *ParameterGrid) Axes() []Axis {
	out := make([]Axis, len(g.axes))
	for i, a := range g.axes {
		values := make([]float64, len(a.Values))
		copy(values, a.Values)
		out[i] = Axis{Name: a.Name, Values: values}
	}
	return out
}

// Len returns the number of points.
func (g *ParameterGrid) Len() int {
	n := 1
	for _, a := range g.axes {
		n *= len(a.Values)
	}
	return n
}

// Point returns the i-th point in enumeration order.
func (g *ParameterGrid) Point(i int) Params {
	p := make(Params, len(g.axes))
	for k := len(g.axes) - 1; k >= 0; k-- {
		a := g.axes[k]
		p[a.Name] = a.Values[i%len(a.Values)]
		i /= len(a.Values)
	}
	return p
}

// Points enumerates every point.
func (g *ParameterGrid) Points() []Params {
	out := make([]Params, g.Len())
	for i := range out {
		out[i] = g.Point(i)
	}
	return out
}
