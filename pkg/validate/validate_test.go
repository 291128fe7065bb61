package validate

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

// conformingFrame has one row and every declared column.
func conformingFrame(t *testing.T, sch *schema.Schema) *tables.Frame {
	t.Helper()
	f := tables.NewFrame()
	for _, c := range sch.Columns {
		var err error
		if sch.Kinds()[c.Name] == tables.KindNumber {
			err = f.AddNumbers(c.Name, []float64{1}, nil)
		} else {
			err = f.AddStrings(c.Name, []string{"x"}, nil)
		}
		require.NoError(t, err)
	}
	return f
}

func TestValidate_Conforming(t *testing.T) {
	sch, err := schema.Default()
	require.NoError(t, err)
	f := conformingFrame(t, sch)

	report := Validate(f, f, sch)

	assert.True(t, report.Passed)
	assert.Empty(t, report.Message)
}

func TestValidate_MissingCategorical(t *testing.T) {
	sch, err := schema.Default()
	require.NoError(t, err)
	f := conformingFrame(t, sch)

	report := Validate(f, f.Drop("Vehicle_Damage"), sch)

	assert.False(t, report.Passed)
	assert.Equal(t,
		"test dataframe has 11 columns, schema declares 12; "+
			"test dataframe is missing categorical columns: Vehicle_Damage",
		report.Message)
}

func TestValidate_AccumulatesAcrossPartitions(t *testing.T) {
	sch, err := schema.Default()
	require.NoError(t, err)
	f := conformingFrame(t, sch)

	report := Validate(f.Drop("Age"), f.Drop("Gender"), sch)

	assert.False(t, report.Passed)
	assert.Contains(t, report.Message, "train dataframe is missing numerical columns: Age")
	assert.Contains(t, report.Message, "test dataframe is missing categorical columns: Gender")
}

func TestValidator_Run(t *testing.T) {
	sch, err := schema.Default()
	require.NoError(t, err)
	layout := artifact.Layout{Root: t.TempDir()}
	require.NoError(t, artifact.Prepare(layout.TrainCSV()))

	f := conformingFrame(t, sch)
	require.NoError(t, tables.WriteCSV(layout.TrainCSV(), f))
	require.NoError(t, tables.WriteCSV(layout.TestCSV(), f.Drop("Vintage")))

	result, err := NewValidator(sch, layout, zap.NewNop()).Run(context.Background(), artifact.Ingestion{
		TrainPath: layout.TrainCSV(),
		TestPath:  layout.TestCSV(),
	})
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, layout.ValidationReport(), result.ReportPath)

	data, err := os.ReadFile(result.ReportPath)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, Report{Passed: false, Message: result.Message}, report)
}
