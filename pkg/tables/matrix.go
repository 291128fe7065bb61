package tables

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
)

const (
	batchSize = 1 << 16

	matrixFormatVersion = "1"
)

var ErrMatrixShape = errors.New("malformed matrix")

// Matrix is a dense row-major table of float64 values. When a Matrix carries a
// label, the label is the last column.
type Matrix struct {
	Columns []string
	Rows    [][]float64
}

func (m *Matrix) NumRows() int {
	return len(m.Rows)
}

func (m *Matrix) NumColumns() int {
	return len(m.Columns)
}

// ColumnIndex returns the position of the named column, or -1.
func (m *Matrix) ColumnIndex(name string) int {
	return slices.Index(m.Columns, name)
}

// SplitLabel separates the last column from the rest.
func (m *Matrix) SplitLabel() (*Matrix, []float64, error) {
	if len(m.Columns) < 2 {
		return nil, nil, fmt.Errorf("%w: %d columns, need features and a label", ErrMatrixShape, len(m.Columns))
	}
	last := len(m.Columns) - 1

	features := &Matrix{
		Columns: slices.Clone(m.Columns[:last]),
		Rows:    make([][]float64, len(m.Rows)),
	}
	labels := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		features.Rows[i] = row[:last:last]
		labels[i] = row[last]
	}
	return features, labels, nil
}

// WithLabel returns a Matrix with labels appended as the final column.
func (m *Matrix) WithLabel(name string, labels []float64) (*Matrix, error) {
	if len(labels) != len(m.Rows) {
		return nil, fmt.Errorf("%w: %d rows and %d labels", ErrMatrixShape, len(m.Rows), len(labels))
	}
	result := &Matrix{
		Columns: append(slices.Clone(m.Columns), name),
		Rows:    make([][]float64, len(m.Rows)),
	}
	for i, row := range m.Rows {
		result.Rows[i] = append(slices.Clone(row), labels[i])
	}
	return result, nil
}

func (m *Matrix) schema() *arrow.Schema {
	fields := make([]arrow.Field, len(m.Columns))
	last := len(m.Columns) - 1
	for i, name := range m.Columns {
		role := "feature"
		if i == last {
			role = "label"
		}
		fields[i] = arrow.Field{
			Name:     name,
			Type:     arrow.PrimitiveTypes.Float64,
			Metadata: NewMetadataBuilder().Add(comment, role).Build(),
		}
	}

	label := ""
	if last >= 0 {
		label = m.Columns[last]
	}
	metadata := NewMetadataBuilder().
		Add(versionKey, matrixFormatVersion).
		Add(labelKey, label).
		AddInt(rowsKey, len(m.Rows)).
		BuildReference()

	return arrow.NewSchema(fields, metadata)
}

// WriteMatrix writes the Matrix as a gzip-compressed Parquet file with one
// float64 column per Matrix column.
func WriteMatrix(path string, m *Matrix) error {
	for i, row := range m.Rows {
		if len(row) != len(m.Columns) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrMatrixShape, i, len(row), len(m.Columns))
		}
	}

	schema := m.schema()
	allocator := memory.NewGoAllocator()

	outFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating matrix file %q: %w", path, err)
	}
	// Don't close outFile; parquet handles closing it.
	writer, err := pqarrow.NewFileWriter(
		schema,
		outFile,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Gzip),
			parquet.WithCompressionLevel(gzip.BestCompression)),
		pqarrow.DefaultWriterProps(),
	)
	if err != nil {
		_ = outFile.Close()
		return fmt.Errorf("creating matrix writer: %w", err)
	}

	recordBuilder := array.NewRecordBuilder(allocator, schema)
	defer recordBuilder.Release()

	builders := make([]*array.Float64Builder, len(m.Columns))
	for j := range m.Columns {
		builders[j] = recordBuilder.Field(j).(*array.Float64Builder)
	}

	for start := 0; start < len(m.Rows); start += batchSize {
		end := min(start+batchSize, len(m.Rows))
		for _, row := range m.Rows[start:end] {
			for j, v := range row {
				builders[j].Append(v)
			}
		}

		record := recordBuilder.NewRecord()
		err = writer.Write(record)
		record.Release()
		if err != nil {
			_ = writer.Close()
			return fmt.Errorf("writing matrix %q: %w", path, err)
		}
	}

	err = writer.Close()
	if err != nil {
		return fmt.Errorf("closing matrix %q: %w", path, err)
	}
	return nil
}

// ReadMatrix reads a file written by WriteMatrix.
func ReadMatrix(ctx context.Context, path string) (*Matrix, error) {
	allocator := memory.NewGoAllocator()
	inFileReader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening parquet file %q: %w", path, err)
	}
	defer func() {
		_ = inFileReader.Close()
	}()

	inReader, err := pqarrow.NewFileReader(inFileReader,
		pqarrow.ArrowReadProperties{BatchSize: batchSize},
		allocator,
	)
	if err != nil {
		return nil, fmt.Errorf("creating pqarrow FileReader: %w", err)
	}

	schema, err := inReader.Schema()
	if err != nil {
		return nil, fmt.Errorf("getting schema: %w", err)
	}

	m := &Matrix{Columns: make([]string, schema.NumFields())}
	for i, field := range schema.Fields() {
		if field.Type.ID() != arrow.FLOAT64 {
			return nil, fmt.Errorf("%w: column %q has type %s", ErrMatrixShape, field.Name, field.Type)
		}
		m.Columns[i] = field.Name
	}
	metadata := schema.Metadata()
	if i := metadata.FindKey(rowsKey); i >= 0 {
		if n, err := strconv.Atoi(metadata.Values()[i]); err == nil {
			m.Rows = make([][]float64, 0, n)
		}
	}

	recordReader, err := inReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("getting record reader: %w", err)
	}
	defer recordReader.Release()

	var record arrow.Record
	for record, err = recordReader.Read(); err == nil; record, err = recordReader.Read() {
		columns := make([]*array.Float64, record.NumCols())
		for j, col := range record.Columns() {
			columns[j] = col.(*array.Float64)
		}
		for i := 0; i < int(record.NumRows()); i++ {
			row := make([]float64, len(columns))
			for j, col := range columns {
				row[j] = col.Value(i)
			}
			m.Rows = append(m.Rows, row)
		}
	}
	if !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading records: %w", err)
	}

	return m, nil
}
