// Package validate checks ingested partitions against the schema declaration.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

var (
	ErrValidation       = errors.New("data validation")
	ErrValidationFailed = errors.New("data validation failed")
)

// Report is the outcome of validating both partitions. Passed is true exactly
// when Message is empty.
type Report struct {
	Passed  bool   `json:"validation_status"`
	Message string `json:"message"`
}

func checkColumnCount(name string, frame *tables.Frame, sch *schema.Schema) []string {
	if frame.NumColumns() == len(sch.Columns) {
		return nil
	}
	return []string{fmt.Sprintf("%s dataframe has %d columns, schema declares %d", name, frame.NumColumns(), len(sch.Columns))}
}

func checkRequiredColumns(name string, frame *tables.Frame, sch *schema.Schema) []string {
	var messages []string

	var missingNumerical []string
	for _, column := range sch.NumericalColumns {
		if !frame.Has(column) {
			missingNumerical = append(missingNumerical, column)
		}
	}
	if len(missingNumerical) > 0 {
		messages = append(messages, fmt.Sprintf("%s dataframe is missing numerical columns: %s", name, strings.Join(missingNumerical, ", ")))
	}

	var missingCategorical []string
	for _, column := range sch.CategoricalColumns {
		if !frame.Has(column) {
			missingCategorical = append(missingCategorical, column)
		}
	}
	if len(missingCategorical) > 0 {
		messages = append(messages, fmt.Sprintf("%s dataframe is missing categorical columns: %s", name, strings.Join(missingCategorical, ", ")))
	}

	return messages
}

// Validate runs every check on both partitions and collects all failures.
func Validate(train, test *tables.Frame, sch *schema.Schema) Report {
	var messages []string
	for _, partition := range []struct {
		name  string
		frame *tables.Frame
	}{
		{"train", train},
		{"test", test},
	} {
		messages = append(messages, checkColumnCount(partition.name, partition.frame, sch)...)
		messages = append(messages, checkRequiredColumns(partition.name, partition.frame, sch)...)
	}

	return Report{
		Passed:  len(messages) == 0,
		Message: strings.Join(messages, "; "),
	}
}

// WriteReport writes the report as JSON to path.
func WriteReport(path string, report Report) error {
	err := artifact.Prepare(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validator runs the validation stage of a pipeline run.
type Validator struct {
	schema     *schema.Schema
	reportPath string
	logger     *zap.Logger
}

func NewValidator(sch *schema.Schema, layout artifact.Layout, logger *zap.Logger) *Validator {
	return &Validator{schema: sch, reportPath: layout.ValidationReport(), logger: logger}
}

// Run validates the ingested partitions and writes the report. A failed
// validation is reported in the result, not as an error.
func (v *Validator) Run(_ context.Context, ingestion artifact.Ingestion) (artifact.Validation, error) {
	kinds := v.schema.Kinds()
	train, err := tables.ReadCSV(ingestion.TrainPath, kinds)
	if err != nil {
		return artifact.Validation{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	test, err := tables.ReadCSV(ingestion.TestPath, kinds)
	if err != nil {
		return artifact.Validation{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	report := Validate(train, test, v.schema)
	err = WriteReport(v.reportPath, report)
	if err != nil {
		return artifact.Validation{}, fmt.Errorf("%w: writing report: %w", ErrValidation, err)
	}

	if report.Passed {
		v.logger.Info("validation passed", zap.String("report", v.reportPath))
	} else {
		v.logger.Warn("validation failed",
			zap.String("report", v.reportPath),
			zap.String("message", report.Message))
	}

	return artifact.Validation{
		Passed:     report.Passed,
		Message:    report.Message,
		ReportPath: v.reportPath,
	}, nil
}
