package tables

import (
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/csv"
	"github.com/apache/arrow/go/v18/arrow/memory"
)

var ErrUnsupportedType = errors.New("unsupported column type")

// Record converts the Frame to a single Arrow record. Numeric columns become
// float64 fields and string columns become utf8 fields; nulls are preserved.
func (f *Frame) Record(allocator memory.Allocator) arrow.Record {
	fields := make([]arrow.Field, len(f.columns))
	for i, c := range f.columns {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Kind), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	builder := array.NewRecordBuilder(allocator, schema)
	defer builder.Release()

	for i, c := range f.columns {
		switch c.Kind {
		case KindNumber:
			fb := builder.Field(i).(*array.Float64Builder)
			fb.Reserve(f.rows)
			for row, v := range c.Numbers {
				if c.IsNull(row) {
					fb.AppendNull()
				} else {
					fb.Append(v)
				}
			}
		case KindString:
			sb := builder.Field(i).(*array.StringBuilder)
			sb.Reserve(f.rows)
			for row, v := range c.Strings {
				if c.IsNull(row) {
					sb.AppendNull()
				} else {
					sb.Append(v)
				}
			}
		}
	}

	return builder.NewRecord()
}

func arrowType(k Kind) arrow.DataType {
	if k == KindNumber {
		return arrow.PrimitiveTypes.Float64
	}
	return arrow.BinaryTypes.String
}

// WriteCSV writes the Frame as comma-separated values with a header row and no
// index column. Nulls are written as empty cells, and so are empty strings.
// ReadCSV reads every empty cell back as null, so an empty string does not
// survive the round trip. The ingestion loader already turns empty strings
// into nulls, so frames written by the pipeline never hold one.
func WriteCSV(path string, f *Frame) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}

	record := f.Record(memory.NewGoAllocator())
	defer record.Release()

	writer := csv.NewWriter(out, record.Schema(),
		csv.WithHeader(true),
		csv.WithNullWriter(""),
	)
	err = writer.Write(record)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("writing %q: %w", path, err)
	}
	err = writer.Flush()
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("flushing %q: %w", path, err)
	}

	err = out.Close()
	if err != nil {
		return fmt.Errorf("closing %q: %w", path, err)
	}
	return nil
}

// ReadCSV reads a CSV file with a header row. Columns named in kinds are read
// with that Kind; the types of all other columns are inferred. Empty cells are
// read as nulls.
func ReadCSV(path string, kinds map[string]Kind) (*Frame, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer func() {
		_ = in.Close()
	}()

	types := make(map[string]arrow.DataType, len(kinds))
	for name, kind := range kinds {
		types[name] = arrowType(kind)
	}

	reader := csv.NewInferringReader(in,
		csv.WithHeader(true),
		csv.WithColumnTypes(types),
		csv.WithNullReader(true, ""),
		csv.WithChunk(-1),
	)
	defer reader.Release()

	var columns []*Column
	for reader.Next() {
		record := reader.Record()
		if columns == nil {
			columns = make([]*Column, record.NumCols())
			for i, field := range record.Schema().Fields() {
				columns[i] = &Column{Name: field.Name, Kind: kindOf(field.Type)}
			}
		}

		for i, arr := range record.Columns() {
			err = appendArray(columns[i], arr)
			if err != nil {
				return nil, fmt.Errorf("reading %q column %q: %w", path, columns[i].Name, err)
			}
		}
	}
	if err = reader.Err(); err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	frame := NewFrame()
	for _, c := range columns {
		err = frame.add(c)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
	}
	return frame, nil
}

func kindOf(t arrow.DataType) Kind {
	switch t.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return KindString
	default:
		return KindNumber
	}
}

func appendArray(c *Column, arr arrow.Array) error {
	offset := c.Len()
	if arr.NullN() > 0 && c.Null == nil {
		c.Null = make([]bool, offset)
	}

	for row := 0; row < arr.Len(); row++ {
		isNull := arr.IsNull(row)
		if c.Null != nil {
			c.Null = append(c.Null, isNull)
		}

		switch a := arr.(type) {
		case *array.Float64:
			c.Numbers = append(c.Numbers, a.Value(row))
		case *array.Int64:
			c.Numbers = append(c.Numbers, float64(a.Value(row)))
		case *array.Boolean:
			v := 0.0
			if a.Value(row) {
				v = 1.0
			}
			c.Numbers = append(c.Numbers, v)
		case *array.String:
			c.Strings = append(c.Strings, a.Value(row))
		default:
			if c.Kind != KindString {
				return fmt.Errorf("%w: %s", ErrUnsupportedType, arr.DataType())
			}
			c.Strings = append(c.Strings, arr.ValueStr(row))
		}
	}
	return nil
}
