package features

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

var ErrNotFitted = errors.New("preprocessor is not fitted")

const (
	Standard    = "standard"
	MinMax      = "minmax"
	Passthrough = "passthrough"
)

// Scaler maps a column value x to (x - Center) / Scale.
type Scaler struct {
	Column string
	Method string
	Center float64
	Scale  float64
}

func (s Scaler) apply(x float64) float64 {
	return (x - s.Center) / s.Scale
}

// Preprocessor scales encoded feature columns with parameters fit on the
// training table. Its outputs are the standard-scaled columns, then the
// min-max scaled columns, then every other column in input order.
type Preprocessor struct {
	Inputs  []string
	Scalers []Scaler
}

// Outputs lists the output column names in order.
func (p *Preprocessor) Outputs() []string {
	names := make([]string, len(p.Scalers))
	for i, s := range p.Scalers {
		names[i] = s.Column
	}
	return names
}

func fitStandard(column string, values []float64) Scaler {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(values)))
	if std == 0 {
		std = 1
	}
	return Scaler{Column: column, Method: Standard, Center: mean, Scale: std}
}

func fitMinMax(column string, values []float64) Scaler {
	lo, hi := slices.Min(values), slices.Max(values)
	scale := hi - lo
	if scale == 0 {
		scale = 1
	}
	return Scaler{Column: column, Method: MinMax, Center: lo, Scale: scale}
}

// Fit learns scaling parameters from an encoded training Frame.
func Fit(encoded *tables.Frame, scaling schema.Scaling) (*Preprocessor, error) {
	if encoded.NumRows() == 0 {
		return nil, fmt.Errorf("%w: fitting on an empty table", ErrTransformation)
	}
	p := &Preprocessor{Inputs: encoded.Names()}

	scaled := make(map[string]bool)
	for _, group := range []struct {
		method  string
		columns []string
		fit     func(string, []float64) Scaler
	}{
		{Standard, scaling.Standard, fitStandard},
		{MinMax, scaling.MinMax, fitMinMax},
	} {
		for _, name := range group.columns {
			c, ok := encoded.Column(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s column %q", ErrMissingColumn, group.method, name)
			}
			if c.Kind != tables.KindNumber {
				return nil, fmt.Errorf("%w: %q", ErrNonNumeric, name)
			}
			p.Scalers = append(p.Scalers, group.fit(name, c.Numbers))
			scaled[name] = true
		}
	}

	for _, name := range p.Inputs {
		if !scaled[name] {
			p.Scalers = append(p.Scalers, Scaler{Column: name, Method: Passthrough, Scale: 1})
		}
	}
	return p, nil
}

func (p *Preprocessor) checkInputs(names []string) error {
	if len(p.Scalers) == 0 {
		return ErrNotFitted
	}
	if slices.Equal(names, p.Inputs) {
		return nil
	}
	for _, name := range p.Inputs {
		if !slices.Contains(names, name) {
			return fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}
	return fmt.Errorf("%w: got %v, fitted on %v", ErrColumnMismatch, names, p.Inputs)
}

// Transform scales an encoded Frame with the same columns the Preprocessor
// was fit on.
func (p *Preprocessor) Transform(encoded *tables.Frame) (*tables.Matrix, error) {
	err := p.checkInputs(encoded.Names())
	if err != nil {
		return nil, err
	}

	columns := make([]*tables.Column, len(p.Scalers))
	for j, s := range p.Scalers {
		c, _ := encoded.Column(s.Column)
		if c.Kind != tables.KindNumber {
			return nil, fmt.Errorf("%w: %q", ErrNonNumeric, s.Column)
		}
		if n := c.NullCount(); n > 0 {
			return nil, fmt.Errorf("%w: %q has %d nulls", ErrMissingValue, s.Column, n)
		}
		columns[j] = c
	}

	m := &tables.Matrix{
		Columns: p.Outputs(),
		Rows:    make([][]float64, encoded.NumRows()),
	}
	for i := range m.Rows {
		row := make([]float64, len(columns))
		for j, c := range columns {
			row[j] = p.Scalers[j].apply(c.Numbers[i])
		}
		m.Rows[i] = row
	}
	return m, nil
}

// TransformRow scales one encoded record keyed by input column name.
func (p *Preprocessor) TransformRow(values map[string]float64) ([]float64, error) {
	if len(p.Scalers) == 0 {
		return nil, ErrNotFitted
	}
	row := make([]float64, len(p.Scalers))
	for j, s := range p.Scalers {
		v, ok := values[s.Column]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, s.Column)
		}
		row[j] = s.apply(v)
	}
	return row, nil
}

func (p *Preprocessor) Save(path string) error {
	err := artifact.Prepare(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating preprocessor file %q: %w", path, err)
	}
	err = gob.NewEncoder(f).Encode(p)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding preprocessor: %w", err)
	}
	return f.Close()
}

func LoadPreprocessor(path string) (*Preprocessor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening preprocessor file %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var p Preprocessor
	err = gob.NewDecoder(f).Decode(&p)
	if err != nil {
		return nil, fmt.Errorf("decoding preprocessor %q: %w", path, err)
	}
	return &p, nil
}
