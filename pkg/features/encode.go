// Package features turns validated customer tables into numeric feature
// matrices: categorical encoding, scaling and class rebalancing.
package features

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

var (
	ErrTransformation  = errors.New("data transformation")
	ErrUnknownCategory = errors.New("unknown category")
	ErrMissingValue    = errors.New("missing value")
	ErrNonNumeric      = errors.New("non-numeric feature column")
	ErrMissingColumn   = errors.New("missing column")
	ErrColumnMismatch  = errors.New("train and test columns differ")
)

// Transform applies the deterministic encodings of a schema to Frames.
type Transform struct {
	schema *schema.Schema
}

func BuildPipeline(sch *schema.Schema) *Transform {
	return &Transform{schema: sch}
}

func (t *Transform) Schema() *schema.Schema {
	return t.schema
}

// Labels returns the target column, which must be numeric without nulls.
func (t *Transform) Labels(frame *tables.Frame) ([]float64, error) {
	target := t.schema.TargetColumn
	c, ok := frame.Column(target)
	if !ok {
		return nil, fmt.Errorf("%w: target %q", ErrMissingColumn, target)
	}
	if c.Kind != tables.KindNumber {
		return nil, fmt.Errorf("%w: target %q is %s", ErrNonNumeric, target, c.Kind)
	}
	if n := c.NullCount(); n > 0 {
		return nil, fmt.Errorf("%w: target %q has %d nulls", ErrMissingValue, target, n)
	}
	return slices.Clone(c.Numbers), nil
}

// Encode drops the target and identifier columns, maps binary categories to
// their codes, one-hot encodes the remaining categorical columns without their
// first level, renames the generated columns and casts indicators to 0/1.
// One-hot columns follow the other columns, in categorical column order. The
// result is entirely numeric and has no nulls.
func (t *Transform) Encode(frame *tables.Frame) (*tables.Frame, error) {
	sch := t.schema
	frame = frame.Drop(sch.TargetColumn).Drop(sch.IdentifierColumns...)

	oneHot := make(map[string]bool)
	for _, name := range sch.OneHotColumns() {
		oneHot[name] = true
	}

	result := tables.NewFrame()
	add := func(name string, values []float64) error {
		if renamed, ok := sch.Renames[name]; ok {
			name = renamed
		}
		return result.AddNumbers(name, values, nil)
	}

	for _, c := range frame.Columns() {
		if oneHot[c.Name] {
			continue
		}
		if mapping, ok := sch.BinaryColumns[c.Name]; ok {
			values, err := mapBinary(c, mapping)
			if err != nil {
				return nil, err
			}
			err = add(c.Name, values)
			if err != nil {
				return nil, err
			}
			continue
		}
		if c.Kind != tables.KindNumber {
			return nil, fmt.Errorf("%w: %q", ErrNonNumeric, c.Name)
		}
		if n := c.NullCount(); n > 0 {
			return nil, fmt.Errorf("%w: %q has %d nulls", ErrMissingValue, c.Name, n)
		}
		err := add(c.Name, slices.Clone(c.Numbers))
		if err != nil {
			return nil, err
		}
	}

	for _, name := range sch.OneHotColumns() {
		c, ok := frame.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
		levels, err := t.levels(c)
		if err != nil {
			return nil, err
		}
		for _, level := range levels[1:] {
			values := make([]float64, c.Len())
			for i, v := range c.Strings {
				if v == level {
					values[i] = 1
				}
			}
			err = add(name+"_"+level, values)
			if err != nil {
				return nil, err
			}
		}
	}

	for _, name := range sch.IndicatorColumns {
		c, ok := result.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: indicator %q", ErrMissingColumn, name)
		}
		for i, v := range c.Numbers {
			if v != 0 {
				c.Numbers[i] = 1
			}
		}
	}

	return result, nil
}

func mapBinary(c *tables.Column, mapping map[string]float64) ([]float64, error) {
	if c.Kind != tables.KindString {
		return nil, fmt.Errorf("%w: binary column %q is %s", ErrNonNumeric, c.Name, c.Kind)
	}
	values := make([]float64, c.Len())
	for i, v := range c.Strings {
		if c.IsNull(i) {
			return nil, fmt.Errorf("%w: %q row %d", ErrMissingValue, c.Name, i)
		}
		code, ok := mapping[v]
		if !ok {
			return nil, fmt.Errorf("%w: %q value %q", ErrUnknownCategory, c.Name, v)
		}
		values[i] = code
	}
	return values, nil
}

// levels returns the declared levels of a categorical column, or its sorted
// distinct values when none are declared. Values outside declared levels and
// nulls are errors.
func (t *Transform) levels(c *tables.Column) ([]string, error) {
	if c.Kind != tables.KindString {
		return nil, fmt.Errorf("%w: categorical column %q is %s", ErrNonNumeric, c.Name, c.Kind)
	}
	declared := t.schema.Categories[c.Name]

	seen := make(map[string]bool)
	for i, v := range c.Strings {
		if c.IsNull(i) {
			return nil, fmt.Errorf("%w: %q row %d", ErrMissingValue, c.Name, i)
		}
		if len(declared) > 0 && !slices.Contains(declared, v) {
			return nil, fmt.Errorf("%w: %q value %q", ErrUnknownCategory, c.Name, v)
		}
		seen[v] = true
	}
	if len(declared) > 0 {
		return declared, nil
	}

	levels := make([]string, 0, len(seen))
	for v := range seen {
		levels = append(levels, v)
	}
	sort.Strings(levels)
	if len(levels) == 0 {
		return []string{""}, nil
	}
	return levels, nil
}

// EncodeBinary returns the code of a binary column category. A value which is
// already one of the codes, written as a number, is accepted as is.
func (t *Transform) EncodeBinary(column, value string) (float64, error) {
	mapping, ok := t.schema.BinaryColumns[column]
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a binary column", ErrMissingColumn, column)
	}
	if code, ok := mapping[value]; ok {
		return code, nil
	}
	for _, code := range mapping {
		if strconv.FormatFloat(code, 'f', -1, 64) == value {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: %q value %q", ErrUnknownCategory, column, value)
}
