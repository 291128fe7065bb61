package tables

import (
	"errors"
	"fmt"
	"math"
)

const (
	CSVExt     = ".csv"
	ParquetExt = ".parquet"
)

// Kind is the storage type of a Frame column.
type Kind int

const (
	KindNumber Kind = iota
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrColumnLength    = errors.New("column length mismatch")
	ErrNoColumn        = errors.New("no such column")
)

// Column is a single named column. Exactly one of Numbers and Strings is set,
// depending on Kind. Null is either nil or has one entry per row.
type Column struct {
	Name    string
	Kind    Kind
	Numbers []float64
	Strings []string
	Null    []bool
}

func (c *Column) Len() int {
	if c.Kind == KindNumber {
		return len(c.Numbers)
	}
	return len(c.Strings)
}

func (c *Column) IsNull(row int) bool {
	return c.Null != nil && c.Null[row]
}

// NullCount returns the number of null rows in the column.
func (c *Column) NullCount() int {
	n := 0
	for _, isNull := range c.Null {
		if isNull {
			n++
		}
	}
	return n
}

func (c *Column) take(rows []int) *Column {
	result := &Column{Name: c.Name, Kind: c.Kind}
	if c.Null != nil {
		result.Null = make([]bool, len(rows))
		for i, row := range rows {
			result.Null[i] = c.Null[row]
		}
	}
	switch c.Kind {
	case KindNumber:
		result.Numbers = make([]float64, len(rows))
		for i, row := range rows {
			result.Numbers[i] = c.Numbers[row]
		}
	case KindString:
		result.Strings = make([]string, len(rows))
		for i, row := range rows {
			result.Strings[i] = c.Strings[row]
		}
	}
	return result
}

// Frame is an ordered set of equal-length named columns. A Frame is built once
// with the Add methods and then treated as read-only; row and column selection
// return new Frames.
type Frame struct {
	columns []*Column
	index   map[string]int
	rows    int
}

func NewFrame() *Frame {
	return &Frame{index: make(map[string]int)}
}

func (f *Frame) add(c *Column) error {
	if _, exists := f.index[c.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
	}
	if c.Null != nil && len(c.Null) != c.Len() {
		return fmt.Errorf("%w: %q has %d values and %d null flags", ErrColumnLength, c.Name, c.Len(), len(c.Null))
	}
	if len(f.columns) > 0 && c.Len() != f.rows {
		return fmt.Errorf("%w: %q has %d rows, frame has %d", ErrColumnLength, c.Name, c.Len(), f.rows)
	}
	f.rows = c.Len()
	f.index[c.Name] = len(f.columns)
	f.columns = append(f.columns, c)
	return nil
}

// AddNumbers appends a numeric column. NaN values are recorded as nulls.
func (f *Frame) AddNumbers(name string, values []float64, null []bool) error {
	for i, v := range values {
		if math.IsNaN(v) {
			if null == nil {
				null = make([]bool, len(values))
			}
			null[i] = true
		}
	}
	return f.add(&Column{Name: name, Kind: KindNumber, Numbers: values, Null: null})
}

func (f *Frame) AddStrings(name string, values []string, null []bool) error {
	return f.add(&Column{Name: name, Kind: KindString, Strings: values, Null: null})
}

func (f *Frame) NumRows() int {
	return f.rows
}

func (f *Frame) NumColumns() int {
	return len(f.columns)
}

func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

func (f *Frame) Columns() []*Column {
	return f.columns
}

func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[i], true
}

func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Take returns a Frame holding the given rows, in the given order.
func (f *Frame) Take(rows []int) *Frame {
	result := NewFrame()
	result.rows = len(rows)
	for _, c := range f.columns {
		result.index[c.Name] = len(result.columns)
		result.columns = append(result.columns, c.take(rows))
	}
	return result
}

// Drop returns a Frame without the named columns. Names not present are
// ignored.
func (f *Frame) Drop(names ...string) *Frame {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}

	result := NewFrame()
	result.rows = f.rows
	for _, c := range f.columns {
		if drop[c.Name] {
			continue
		}
		result.index[c.Name] = len(result.columns)
		result.columns = append(result.columns, c)
	}
	return result
}

// Replace returns a Frame in which the column of the same name is swapped for
// c, keeping its position.
func (f *Frame) Replace(c *Column) (*Frame, error) {
	i, ok := f.index[c.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, c.Name)
	}
	if c.Len() != f.rows {
		return nil, fmt.Errorf("%w: %q has %d rows, frame has %d", ErrColumnLength, c.Name, c.Len(), f.rows)
	}

	result := NewFrame()
	result.rows = f.rows
	for name, j := range f.index {
		result.index[name] = j
	}
	result.columns = make([]*Column, len(f.columns))
	copy(result.columns, f.columns)
	result.columns[i] = c
	return result, nil
}
