package profile

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

// MaxEnum is the largest number of unique values to track before not trying to
// interpret the field as an enum.
const MaxEnum = 20

var ErrMixedTypes = errors.New("field holds mixed types")

// Field accumulates the values seen for one document field. Fields which hold
// both numbers and strings are rejected, but any field may hold nulls.
type Field interface {
	Add(obj any) (Field, error)
	// Kind is the Frame column kind values of this field load as.
	Kind() tables.Kind
	Nulls() int
	String() string
}

// EmptyField represents a field which has only held nulls so far.
// Adding a non-null value returns a typed Field.
type EmptyField struct {
	NullCount int
}

func (f *EmptyField) Add(obj any) (Field, error) {
	var next Field
	switch o := obj.(type) {
	case nil:
		f.NullCount++
		return f, nil
	case bool:
		next = &BoolField{NullCount: f.NullCount}
	case float64, int, int32, int64:
		next = &NumberField{NullCount: f.NullCount, Seen: make(map[float64]int)}
	case string:
		next = &StringField{NullCount: f.NullCount, Seen: make(map[string]int)}
	default:
		return nil, fmt.Errorf("%w: unknown type %T", ErrMixedTypes, o)
	}
	return next.Add(obj)
}

func (f *EmptyField) Kind() tables.Kind {
	return tables.KindString
}

func (f *EmptyField) Nulls() int {
	return f.NullCount
}

func (f *EmptyField) String() string {
	return fmt.Sprintf("empty;nulls:%d", f.NullCount)
}

// BoolField only ever holds JSON booleans. Booleans load as 0/1 numbers.
type BoolField struct {
	True      int
	False     int
	NullCount int
}

func (f *BoolField) Add(obj any) (Field, error) {
	switch o := obj.(type) {
	case nil:
		f.NullCount++
	case bool:
		if o {
			f.True++
		} else {
			f.False++
		}
	default:
		return nil, fmt.Errorf("%w: %T added to %T", ErrMixedTypes, o, f)
	}
	return f, nil
}

func (f *BoolField) Kind() tables.Kind {
	return tables.KindNumber
}

func (f *BoolField) Nulls() int {
	return f.NullCount
}

func (f *BoolField) String() string {
	return fmt.Sprintf("bool;true:%d;false:%d;nulls:%d", f.True, f.False, f.NullCount)
}

// A NumberField only holds numbers.
type NumberField struct {
	// Integral tracks if all instances of this field are integers.
	Integral bool

	Min, Max float64
	Count    int

	NullCount int

	// Seen tracks the unique numbers passed to this field, to detect numeric
	// codes such as region or channel identifiers.
	// Stops collecting values after it contains more than MaxEnum entries.
	Seen map[float64]int
}

func (f *NumberField) Add(obj any) (Field, error) {
	var v float64
	switch o := obj.(type) {
	case nil:
		f.NullCount++
		return f, nil
	case float64:
		v = o
	case int:
		v = float64(o)
	case int32:
		v = float64(o)
	case int64:
		v = float64(o)
	default:
		return nil, fmt.Errorf("%w: %T added to %T", ErrMixedTypes, o, f)
	}

	if f.Count == 0 {
		f.Integral = isIntegral(v)
		f.Min, f.Max = v, v
	} else {
		f.Integral = f.Integral && isIntegral(v)
		f.Min = math.Min(f.Min, v)
		f.Max = math.Max(f.Max, v)
	}
	f.Count++

	if len(f.Seen) <= MaxEnum {
		f.Seen[v]++
	}
	return f, nil
}

func isIntegral(f float64) bool {
	return math.Round(f) == f
}

func (f *NumberField) Kind() tables.Kind {
	return tables.KindNumber
}

func (f *NumberField) Nulls() int {
	return f.NullCount
}

func (f *NumberField) String() string {
	result := strings.Builder{}
	if f.Integral {
		result.WriteString(fmt.Sprintf("int;%d;%d;", int64(f.Min), int64(f.Max)))
	} else {
		result.WriteString(fmt.Sprintf("float;%g;%g;", f.Min, f.Max))
	}
	result.WriteString(fmt.Sprintf("nulls:%d;", f.NullCount))

	if len(f.Seen) <= MaxEnum {
		keys := make([]float64, 0, len(f.Seen))
		for k := range f.Seen {
			keys = append(keys, k)
		}
		sort.Float64s(keys)
		for _, k := range keys {
			result.WriteString(fmt.Sprintf("%g:%d;", k, f.Seen[k]))
		}
	}

	return result.String()
}

// A StringField only holds strings.
type StringField struct {
	NullCount int

	// Seen attempts to determine if the field is actually an enum with a small
	// number of unique values.
	Seen map[string]int
}

func (f *StringField) Add(obj any) (Field, error) {
	switch o := obj.(type) {
	case nil:
		f.NullCount++
	case string:
		if len(f.Seen) <= MaxEnum {
			f.Seen[o]++
		}
	default:
		return nil, fmt.Errorf("%w: %T added to %T", ErrMixedTypes, o, f)
	}
	return f, nil
}

func (f *StringField) Kind() tables.Kind {
	return tables.KindString
}

func (f *StringField) Nulls() int {
	return f.NullCount
}

// Levels returns the distinct values in sorted order, or nil if the field has
// too many distinct values to be an enum.
func (f *StringField) Levels() []string {
	if len(f.Seen) > MaxEnum {
		return nil
	}
	levels := make([]string, 0, len(f.Seen))
	for k := range f.Seen {
		levels = append(levels, k)
	}
	sort.Strings(levels)
	return levels
}

func (f *StringField) String() string {
	result := strings.Builder{}
	levels := f.Levels()
	if levels != nil {
		result.WriteString(fmt.Sprintf("enum;%d;", len(levels)))
		for _, k := range levels {
			result.WriteString(fmt.Sprintf("%s:%d;", k, f.Seen[k]))
		}
	} else {
		result.WriteString("string;")
	}
	result.WriteString(fmt.Sprintf("nulls:%d", f.NullCount))

	return result.String()
}
