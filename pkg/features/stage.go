package features

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
	"github.com/willbeason/insurance-eligibility/pkg/validate"
)

// Transformer runs the transformation stage of a pipeline run.
type Transformer struct {
	transform *Transform
	cfg       config.Transformation
	layout    artifact.Layout
	logger    *zap.Logger
}

func NewTransformer(transform *Transform, cfg config.Transformation, layout artifact.Layout, logger *zap.Logger) *Transformer {
	return &Transformer{transform: transform, cfg: cfg, layout: layout, logger: logger}
}

// Prepare reads an ingested CSV partition and returns its encoded features
// and labels.
func (t *Transform) Prepare(path string) (*tables.Frame, []float64, error) {
	frame, err := tables.ReadCSV(path, t.schema.Kinds())
	if err != nil {
		return nil, nil, err
	}
	labels, err := t.Labels(frame)
	if err != nil {
		return nil, nil, err
	}
	encoded, err := t.Encode(frame)
	if err != nil {
		return nil, nil, err
	}
	return encoded, labels, nil
}

func (s *Transformer) resample(ctx context.Context, m *tables.Matrix, labels []float64, seed int64) (*tables.Matrix, error) {
	r := Resampler{
		SmoteNeighbors: s.cfg.SmoteNeighbors,
		EnnNeighbors:   s.cfg.EnnNeighbors,
		Seed:           seed,
	}
	rows, labels, err := r.Resample(ctx, m.Rows, labels)
	if err != nil {
		return nil, err
	}
	return (&tables.Matrix{Columns: m.Columns, Rows: rows}).WithLabel(s.transform.schema.TargetColumn, labels)
}

// Run encodes and scales both partitions, rebalances them and writes the
// matrices and the fitted preprocessor. It refuses partitions that failed
// validation.
func (s *Transformer) Run(ctx context.Context, ingestion artifact.Ingestion, validation artifact.Validation) (artifact.Transformation, error) {
	if !validation.Passed {
		return artifact.Transformation{}, fmt.Errorf("%w: %s", validate.ErrValidationFailed, validation.Message)
	}

	trainEncoded, trainLabels, err := s.transform.Prepare(ingestion.TrainPath)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: train: %w", ErrTransformation, err)
	}
	testEncoded, testLabels, err := s.transform.Prepare(ingestion.TestPath)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: test: %w", ErrTransformation, err)
	}
	if !slices.Equal(trainEncoded.Names(), testEncoded.Names()) {
		return artifact.Transformation{}, fmt.Errorf("%w: %w: train %v, test %v",
			ErrTransformation, ErrColumnMismatch, trainEncoded.Names(), testEncoded.Names())
	}

	preprocessor, err := Fit(trainEncoded, s.transform.schema.Scaling)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: %w", ErrTransformation, err)
	}
	trainScaled, err := preprocessor.Transform(trainEncoded)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: train: %w", ErrTransformation, err)
	}
	testScaled, err := preprocessor.Transform(testEncoded)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: test: %w", ErrTransformation, err)
	}

	train, err := s.resample(ctx, trainScaled, trainLabels, s.cfg.Seed)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: resampling train: %w", ErrTransformation, err)
	}
	var test *tables.Matrix
	if s.cfg.ResampleTest {
		s.logger.Warn("resampling the test partition; test metrics will not reflect the deployed class balance")
		test, err = s.resample(ctx, testScaled, testLabels, s.cfg.Seed)
		if err != nil {
			return artifact.Transformation{}, fmt.Errorf("%w: resampling test: %w", ErrTransformation, err)
		}
	} else {
		test, err = testScaled.WithLabel(s.transform.schema.TargetColumn, testLabels)
		if err != nil {
			return artifact.Transformation{}, fmt.Errorf("%w: %w", ErrTransformation, err)
		}
	}

	result := artifact.Transformation{
		PreprocessorPath: s.layout.Preprocessor(),
		TrainPath:        s.layout.TrainMatrix(),
		TestPath:         s.layout.TestMatrix(),
		Columns:          train.Columns,
		TrainRows:        train.NumRows(),
		TestRows:         test.NumRows(),
	}

	err = artifact.Prepare(result.TrainPath, result.TestPath)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: %w", ErrTransformation, err)
	}
	err = tables.WriteMatrix(result.TrainPath, train)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: %w", ErrTransformation, err)
	}
	err = tables.WriteMatrix(result.TestPath, test)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: %w", ErrTransformation, err)
	}
	err = preprocessor.Save(result.PreprocessorPath)
	if err != nil {
		return artifact.Transformation{}, fmt.Errorf("%w: %w", ErrTransformation, err)
	}

	s.logger.Info("transformation complete",
		zap.Strings("columns", result.Columns),
		zap.Int("train_rows", result.TrainRows),
		zap.Int("test_rows", result.TestRows),
		zap.String("preprocessor", result.PreprocessorPath))
	return result, nil
}
