// Package dataset holds labeled tabular data: an ordered set of rows over a
// fixed schema of categorical, numeric and text columns.
//
// A Dataset is immutable. Derive and Subset return new values and never
// modify the receiver, so a Dataset can be shared between goroutines.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/clfpipe/pkg/errors"
)

// Kind is the type of a column.
type Kind int

const (
	// Categorical columns hold a finite set of string levels.
	Categorical Kind = iota
	// Numeric columns hold float64 values; missing cells are NaN.
	Numeric
	// Text columns hold free text and are never used as model features.
	Text
)

// NALevel is the level used for missing categorical cells.
const NALevel = "NA"

func (k Kind) String() string {
	switch k {
	case Categorical:
		return "categorical"
	case Numeric:
		return "numeric"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// ParseKind accepts "categorical" (or "factor"), "numeric" and "text".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "categorical", "factor":
		return Categorical, nil
	case "numeric":
		return Numeric, nil
	case "text", "character":
		return Text, nil
	}
	return 0, errors.NewInvalidParameterError("kind", "must be categorical, numeric or text", s)
}

// Column describes one column of a Schema.
type Column struct {
	Name string
	Kind Kind
}

// Schema is the ordered list of columns shared by every row.
type Schema struct {
	columns []Column
	index   map[string]int
}

func newSchema(cols []Column) (Schema, error) {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			return Schema{}, errors.NewInvalidParameterError("column", "name must not be empty", i)
		}
		if _, dup := index[c.Name]; dup {
			return Schema{}, errors.NewInvalidParameterError("column", "duplicate column name", c.Name)
		}
		index[c.Name] = i
	}
	return Schema{columns: cols, index: index}, nil
}

// Columns returns a copy of the columns in order.
func (s Schema) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.Name
	}
	return out
}

// Len returns the number of columns.
func (s Schema) Len() int {
	return len(s.columns)
}

// Lookup returns the column with the given name.
func (s Schema) Lookup(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[i], true
}

// Value is a single cell.
type Value struct {
	kind Kind
	num  float64
	str  string
}

// Num returns a numeric value.
func Num(f float64) Value { return Value{kind: Numeric, num: f} }

// Cat returns a categorical value.
func Cat(level string) Value { return Value{kind: Categorical, str: level} }

// Txt returns a text value.
func Txt(s string) Value { return Value{kind: Text, str: s} }

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Float returns the numeric value, or NaN for non-numeric values.
func (v Value) Float() float64 {
	if v.kind != Numeric {
		return math.NaN()
	}
	return v.num
}

// IsNA reports whether the cell is missing.
func (v Value) IsNA() bool {
	if v.kind == Numeric {
		return math.IsNaN(v.num)
	}
	return v.kind == Categorical && v.str == NALevel
}

// String formats numbers with the shortest representation and returns
// levels and text as-is.
func (v Value) String() string {
	if v.kind == Numeric {
		if math.IsNaN(v.num) {
			return NALevel
		}
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	}
	return v.str
}

// Record is one row keyed by column name.
type Record map[string]Value

// ColumnData is a named column of values used to build a Dataset.
type ColumnData struct {
	Column
	nums []float64
	strs []string
}

// NumericColumn builds a numeric column. The slice is copied.
func NumericColumn(name string, values []float64) ColumnData {
	nums := make([]float64, len(values))
	copy(nums, values)
	return ColumnData{Column: Column{Name: name, Kind: Numeric}, nums: nums}
}

// CategoricalColumn builds a categorical column. Empty cells become NALevel.
func CategoricalColumn(name string, values []string) ColumnData {
	strs := make([]string, len(values))
	for i, v := range values {
		if v == "" {
			v = NALevel
		}
		strs[i] = v
	}
	return ColumnData{Column: Column{Name: name, Kind: Categorical}, strs: strs}
}

// TextColumn builds a text column. The slice is copied.
func TextColumn(name string, values []string) ColumnData {
	strs := make([]string, len(values))
	copy(strs, values)
	return ColumnData{Column: Column{Name: name, Kind: Text}, strs: strs}
}

func (c ColumnData) len() int {
	if c.Kind == Numeric {
		return len(c.nums)
	}
	return len(c.strs)
}

func (c ColumnData) value(i int) Value {
	switch c.Kind {
	case Numeric:
		return Num(c.nums[i])
	case Categorical:
		return Cat(c.strs[i])
	default:
		return Txt(c.strs[i])
	}
}

// Dataset is an immutable table.
type Dataset struct {
	schema Schema
	cols   []ColumnData
	nrows  int
}

// New builds a Dataset from columns of equal length.
func New(cols ...ColumnData) (*Dataset, error) {
	if len(cols) == 0 {
		return nil, errors.NewInvalidParameterError("columns", "at least one column is required", 0)
	}
	schemaCols := make([]Column, len(cols))
	for i, c := range cols {
		schemaCols[i] = c.Column
	}
	schema, err := newSchema(schemaCols)
	if err != nil {
		return nil, err
	}
	n := cols[0].len()
	for _, c := range cols[1:] {
		if c.len() != n {
			return nil, errors.NewInvalidParameterError(c.Name, fmt.Sprintf("column length differs from %q (%d rows)", cols[0].Name, n), c.len())
		}
	}
	owned := make([]ColumnData, len(cols))
	copy(owned, cols)
	return &Dataset{schema: schema, cols: owned, nrows: n}, nil
}

// Schema returns the dataset's schema.
func (d *Dataset) Schema() Schema {
	return d.schema
}

// NRows returns the number of rows.
func (d *Dataset) NRows() int {
	return d.nrows
}

func (d *Dataset) column(name string) (ColumnData, error) {
	i, ok := d.schema.index[name]
	if !ok {
		return ColumnData{}, errors.NewInvalidParameterError("column", "unknown column", name)
	}
	return d.cols[i], nil
}

// Numeric returns a copy of a numeric column.
func (d *Dataset) Numeric(name string) ([]float64, error) {
	c, err := d.column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != Numeric {
		return nil, errors.NewInvalidParameterError(name, "column is not numeric", c.Kind.String())
	}
	out := make([]float64, len(c.nums))
	copy(out, c.nums)
	return out, nil
}

// Strings returns a copy of a categorical or text column.
func (d *Dataset) Strings(name string) ([]string, error) {
	c, err := d.column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind == Numeric {
		return nil, errors.NewInvalidParameterError(name, "column is numeric", c.Kind.String())
	}
	out := make([]string, len(c.strs))
	copy(out, c.strs)
	return out, nil
}

// Levels returns the sorted distinct levels of a categorical column.
func (d *Dataset) Levels(name string) ([]string, error) {
	counts, err := d.Counts(name)
	if err != nil {
		return nil, err
	}
	levels := make([]string, 0, len(counts))
	for l := range counts {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	return levels, nil
}

// Counts returns the number of rows per level of a categorical column.
func (d *Dataset) Counts(name string) (map[string]int, error) {
	c, err := d.column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != Categorical {
		return nil, errors.NewInvalidParameterError(name, "column is not categorical", c.Kind.String())
	}
	counts := make(map[string]int)
	for _, s := range c.strs {
		counts[s]++
	}
	return counts, nil
}

// Row returns row i as a Record.
func (d *Dataset) Row(i int) (Record, error) {
	if i < 0 || i >= d.nrows {
		return nil, errors.NewInvalidParameterError("row", fmt.Sprintf("must be in [0, %d)", d.nrows), i)
	}
	return d.row(i), nil
}

func (d *Dataset) row(i int) Record {
	r := make(Record, len(d.cols))
	for _, c := range d.cols {
		r[c.Name] = c.value(i)
	}
	return r
}

// Subset returns a new Dataset holding the given rows in the given order.
func (d *Dataset) Subset(indices []int) (*Dataset, error) {
	cols := make([]ColumnData, len(d.cols))
	for ci, c := range d.cols {
		nc := ColumnData{Column: c.Column}
		if c.Kind == Numeric {
			nc.nums = make([]float64, len(indices))
		} else {
			nc.strs = make([]string, len(indices))
		}
		cols[ci] = nc
	}
	for k, i := range indices {
		if i < 0 || i >= d.nrows {
			return nil, errors.NewInvalidParameterError("indices", fmt.Sprintf("must be in [0, %d)", d.nrows), i)
		}
		for ci, c := range d.cols {
			if c.Kind == Numeric {
				cols[ci].nums[k] = c.nums[i]
			} else {
				cols[ci].strs[k] = c.strs[i]
			}
		}
	}
	return &Dataset{schema: d.schema, cols: cols, nrows: len(indices)}, nil
}

// Derive returns a new Dataset with one extra column computed from each row.
// fn must return values of the declared kind.
func (d *Dataset) Derive(name string, kind Kind, fn func(Record) Value) (*Dataset, error) {
	if _, exists := d.schema.index[name]; exists {
		return nil, errors.NewInvalidParameterError("column", "derived column already exists", name)
	}
	nc := ColumnData{Column: Column{Name: name, Kind: kind}}
	if kind == Numeric {
		nc.nums = make([]float64, d.nrows)
	} else {
		nc.strs = make([]string, d.nrows)
	}
	for i := 0; i < d.nrows; i++ {
		v := fn(d.row(i))
		if v.kind != kind {
			return nil, errors.NewInvalidParameterError(name, fmt.Sprintf("derived value at row %d is %s, want %s", i, v.kind, kind), v.String())
		}
		if kind == Numeric {
			nc.nums[i] = v.num
		} else {
			s := v.str
			if kind == Categorical && s == "" {
				s = NALevel
			}
			nc.strs[i] = s
		}
	}
	cols := make([]ColumnData, len(d.cols)+1)
	copy(cols, d.cols)
	cols[len(d.cols)] = nc
	return New(cols...)
}
