package tables

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T) *Frame {
	t.Helper()
	f := NewFrame()
	require.NoError(t, f.AddStrings("Gender", []string{"Male", "Female", "", "Male"}, []bool{false, false, true, false}))
	require.NoError(t, f.AddNumbers("Age", []float64{44, 76, math.NaN(), 21}, nil))
	require.NoError(t, f.AddNumbers("Response", []float64{1, 0, 1, 0}, nil))
	return f
}

func TestFrame_AddRejectsMismatchedLength(t *testing.T) {
	f := NewFrame()
	require.NoError(t, f.AddNumbers("a", []float64{1, 2}, nil))

	err := f.AddNumbers("b", []float64{1}, nil)
	assert.ErrorIs(t, err, ErrColumnLength)

	err = f.AddNumbers("a", []float64{3, 4}, nil)
	assert.ErrorIs(t, err, ErrDuplicateColumn)
}

func TestFrame_NaNIsNull(t *testing.T) {
	f := testFrame(t)
	age, ok := f.Column("Age")
	require.True(t, ok)

	assert.False(t, age.IsNull(0))
	assert.True(t, age.IsNull(2))
	assert.Equal(t, 1, age.NullCount())
}

func TestFrame_TakeAndDrop(t *testing.T) {
	f := testFrame(t)

	got := f.Take([]int{3, 0}).Drop("Response", "missing")

	assert.Equal(t, []string{"Gender", "Age"}, got.Names())
	assert.Equal(t, 2, got.NumRows())
	gender, _ := got.Column("Gender")
	assert.Equal(t, []string{"Male", "Male"}, gender.Strings)
	age, _ := got.Column("Age")
	assert.Equal(t, []float64{21, 44}, age.Numbers)

	// The source frame is unchanged.
	assert.Equal(t, 4, f.NumRows())
	assert.Equal(t, 3, f.NumColumns())
}

func TestFrame_Replace(t *testing.T) {
	f := testFrame(t)

	got, err := f.Replace(&Column{Name: "Gender", Kind: KindNumber, Numbers: []float64{1, 0, 0, 1}})
	require.NoError(t, err)

	assert.Equal(t, f.Names(), got.Names())
	gender, _ := got.Column("Gender")
	assert.Equal(t, KindNumber, gender.Kind)
	original, _ := f.Column("Gender")
	assert.Equal(t, KindString, original.Kind)

	_, err = f.Replace(&Column{Name: "Vintage", Kind: KindNumber, Numbers: []float64{1, 2, 3, 4}})
	assert.ErrorIs(t, err, ErrNoColumn)
}

func TestCSV_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data"+CSVExt)
	f := testFrame(t)

	require.NoError(t, WriteCSV(path, f))

	got, err := ReadCSV(path, map[string]Kind{"Gender": KindString, "Age": KindNumber, "Response": KindNumber})
	require.NoError(t, err)

	assert.Equal(t, f.Names(), got.Names())
	assert.Equal(t, f.NumRows(), got.NumRows())

	gender, _ := got.Column("Gender")
	assert.True(t, gender.IsNull(2))
	assert.Equal(t, "Female", gender.Strings[1])

	age, _ := got.Column("Age")
	assert.True(t, age.IsNull(2))
	assert.Equal(t, 76.0, age.Numbers[1])

	response, _ := got.Column("Response")
	if diff := cmp.Diff([]float64{1, 0, 1, 0}, response.Numbers); diff != "" {
		t.Errorf("Response mismatch (-want +got):\n%s", diff)
	}
}

func TestCSV_EmptyStringReadsAsNull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data"+CSVExt)
	f := NewFrame()
	require.NoError(t, f.AddStrings("Region", []string{"north", "", "south"}, nil))

	require.NoError(t, WriteCSV(path, f))

	got, err := ReadCSV(path, map[string]Kind{"Region": KindString})
	require.NoError(t, err)

	region, ok := got.Column("Region")
	require.True(t, ok)
	assert.False(t, region.IsNull(0))
	assert.True(t, region.IsNull(1))
	assert.Equal(t, "south", region.Strings[2])
}

func TestMatrix_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train"+ParquetExt)
	m := &Matrix{
		Columns: []string{"Age", "Vintage", "Response"},
		Rows: [][]float64{
			{-0.5, 1.25, 0},
			{0.75, -1.5, 1},
			{0, 0, 1},
		},
	}

	require.NoError(t, WriteMatrix(path, m))

	got, err := ReadMatrix(context.Background(), path)
	require.NoError(t, err)

	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("matrix mismatch (-want +got):\n%s", diff)
	}
}

func TestMatrix_WriteRejectsRaggedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+ParquetExt)
	m := &Matrix{Columns: []string{"a", "b"}, Rows: [][]float64{{1, 2}, {3}}}

	err := WriteMatrix(path, m)
	assert.ErrorIs(t, err, ErrMatrixShape)
}

func TestMatrix_SplitLabel(t *testing.T) {
	m := &Matrix{Columns: []string{"a", "b", "y"}, Rows: [][]float64{{1, 2, 0}, {3, 4, 1}}}

	features, labels, err := m.SplitLabel()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, features.Columns)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, features.Rows)
	assert.Equal(t, []float64{0, 1}, labels)

	joined, err := features.WithLabel("y", labels)
	require.NoError(t, err)
	assert.Equal(t, m, joined)
}
