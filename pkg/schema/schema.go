// Package schema reads the declaration of the columns the pipeline expects and
// the role each column plays in feature engineering.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

//go:embed vehicle_insurance.yaml
var vehicleInsurance []byte

var ErrSchema = errors.New("invalid schema")

// Declared column types.
const (
	TypeInt      = "int"
	TypeFloat    = "float"
	TypeCategory = "category"
	TypeString   = "string"
)

type Column struct {
	Name string
	Type string
}

type Scaling struct {
	Standard []string `yaml:"standard"`
	MinMax   []string `yaml:"minmax"`
}

type Schema struct {
	Version      int    `yaml:"version"`
	TargetColumn string `yaml:"target_column"`

	Columns []Column `yaml:"-"`

	IdentifierColumns  []string `yaml:"identifier_columns"`
	NumericalColumns   []string `yaml:"numerical_columns"`
	CategoricalColumns []string `yaml:"categorical_columns"`

	// BinaryColumns maps each category of a two-valued column to its code.
	BinaryColumns map[string]map[string]float64 `yaml:"binary_columns"`
	// Categories fixes the one-hot levels of a categorical column, first level
	// dropped. Columns without declared levels use their sorted distinct values.
	Categories map[string][]string `yaml:"categories"`
	// Renames maps generated one-hot column names to their final names.
	Renames map[string]string `yaml:"renames"`
	// IndicatorColumns are cast to integer 0/1 after encoding.
	IndicatorColumns []string `yaml:"indicator_columns"`

	Scaling Scaling `yaml:"scaling"`
}

type document struct {
	Schema  `yaml:",inline"`
	Columns []map[string]string `yaml:"columns"`
}

// Default returns the built-in vehicle insurance declaration.
func Default() (*Schema, error) {
	return Parse(vehicleInsurance)
}

func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %q: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", path, err)
	}
	return s, nil
}

// Parse decodes and checks a YAML schema declaration.
func Parse(data []byte) (*Schema, error) {
	var doc document
	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}

	s := doc.Schema
	for i, entry := range doc.Columns {
		if len(entry) != 1 {
			return nil, fmt.Errorf("%w: columns[%d] must map one name to one type", ErrSchema, i)
		}
		for name, typ := range entry {
			s.Columns = append(s.Columns, Column{Name: name, Type: typ})
		}
	}

	err = s.Validate()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the internal consistency of the declaration.
func (s *Schema) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrSchema}, args...)...))
	}

	if s.Version < 1 {
		fail("version must be at least 1, got %d", s.Version)
	}
	if len(s.Columns) == 0 {
		fail("no columns declared")
	}

	declared := make(map[string]string, len(s.Columns))
	for _, c := range s.Columns {
		if _, dup := declared[c.Name]; dup {
			fail("column %q declared twice", c.Name)
		}
		switch c.Type {
		case TypeInt, TypeFloat, TypeCategory, TypeString:
		default:
			fail("column %q has unknown type %q", c.Name, c.Type)
		}
		declared[c.Name] = c.Type
	}

	roles := make(map[string][]string)
	for _, group := range []struct {
		role  string
		names []string
	}{
		{"identifier", s.IdentifierColumns},
		{"numerical", s.NumericalColumns},
		{"categorical", s.CategoricalColumns},
	} {
		for _, name := range group.names {
			if _, ok := declared[name]; !ok {
				fail("%s column %q is not declared", group.role, name)
			}
			roles[name] = append(roles[name], group.role)
		}
	}
	for _, c := range s.Columns {
		if len(roles[c.Name]) != 1 {
			fail("column %q must have exactly one of the identifier, numerical or categorical roles, has %v", c.Name, roles[c.Name])
		}
	}

	if s.TargetColumn == "" {
		fail("target_column is required")
	} else if !slices.Contains(s.NumericalColumns, s.TargetColumn) {
		fail("target column %q must be numerical", s.TargetColumn)
	}

	for name, codes := range s.BinaryColumns {
		if !slices.Contains(s.CategoricalColumns, name) {
			fail("binary column %q is not categorical", name)
		}
		if len(codes) != 2 {
			fail("binary column %q must map exactly two categories, has %d", name, len(codes))
		}
	}
	for name, levels := range s.Categories {
		if !slices.Contains(s.CategoricalColumns, name) {
			fail("categories declared for non-categorical column %q", name)
		}
		if _, binary := s.BinaryColumns[name]; binary {
			fail("column %q is both binary and one-hot encoded", name)
		}
		if len(levels) == 0 {
			fail("column %q declares no categories", name)
		}
	}

	scaled := make(map[string]string)
	for _, group := range []struct {
		name    string
		columns []string
	}{
		{"standard", s.Scaling.Standard},
		{"minmax", s.Scaling.MinMax},
	} {
		for _, name := range group.columns {
			if !slices.Contains(s.NumericalColumns, name) || name == s.TargetColumn {
				fail("%s scaled column %q is not a numerical feature", group.name, name)
			}
			if other, dup := scaled[name]; dup {
				fail("column %q is in both the %s and %s scaler groups", name, other, group.name)
			}
			scaled[name] = group.name
		}
	}

	return errors.Join(errs...)
}

// ColumnNames returns the declared column names in declaration order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Kinds returns the Frame column kind of every declared column.
func (s *Schema) Kinds() map[string]tables.Kind {
	kinds := make(map[string]tables.Kind, len(s.Columns))
	for _, c := range s.Columns {
		switch c.Type {
		case TypeInt, TypeFloat:
			kinds[c.Name] = tables.KindNumber
		default:
			kinds[c.Name] = tables.KindString
		}
	}
	return kinds
}

// OneHotColumns returns the categorical columns which are one-hot encoded,
// in declaration order.
func (s *Schema) OneHotColumns() []string {
	var result []string
	for _, name := range s.CategoricalColumns {
		if _, binary := s.BinaryColumns[name]; !binary {
			result = append(result, name)
		}
	}
	return result
}

// BinaryNames returns the binary-encoded columns in sorted order.
func (s *Schema) BinaryNames() []string {
	names := make([]string, 0, len(s.BinaryColumns))
	for name := range s.BinaryColumns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
