package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

func TestDefault(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 1, s.Version)
	assert.Equal(t, "Response", s.TargetColumn)
	assert.Len(t, s.Columns, 12)
	assert.Equal(t, "_id", s.Columns[0].Name)
	assert.Equal(t, []string{"Vehicle_Age", "Vehicle_Damage"}, s.OneHotColumns())
	assert.Equal(t, []string{"Gender"}, s.BinaryNames())
	assert.Equal(t, map[string]float64{"Female": 0, "Male": 1}, s.BinaryColumns["Gender"])
	assert.Equal(t, []string{"1-2 Year", "< 1 Year", "> 2 Years"}, s.Categories["Vehicle_Age"])
	assert.Equal(t, "Vehicle_Age_lt_1_Year", s.Renames["Vehicle_Age_< 1 Year"])

	kinds := s.Kinds()
	assert.Equal(t, tables.KindString, kinds["Gender"])
	assert.Equal(t, tables.KindNumber, kinds["Annual_Premium"])
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, vehicleInsurance, 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	want, err := Default()
	require.NoError(t, err)
	assert.Equal(t, want, s)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "column without role",
			yaml: `
version: 1
target_column: y
columns:
  - a: int
  - y: int
numerical_columns: [y]
`,
		},
		{
			name: "column with two roles",
			yaml: `
version: 1
target_column: y
columns:
  - a: int
  - y: int
numerical_columns: [a, y]
categorical_columns: [a]
`,
		},
		{
			name: "overlapping scaler groups",
			yaml: `
version: 1
target_column: y
columns:
  - a: int
  - y: int
numerical_columns: [a, y]
scaling:
  standard: [a]
  minmax: [a]
`,
		},
		{
			name: "scaled target",
			yaml: `
version: 1
target_column: y
columns:
  - y: int
numerical_columns: [y]
scaling:
  standard: [y]
`,
		},
		{
			name: "categorical target",
			yaml: `
version: 1
target_column: y
columns:
  - y: category
categorical_columns: [y]
`,
		},
		{
			name: "unknown type",
			yaml: `
version: 1
target_column: y
columns:
  - y: decimal
numerical_columns: [y]
`,
		},
		{
			name: "missing version",
			yaml: `
target_column: y
columns:
  - y: int
numerical_columns: [y]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}
