// Package evaluate decides whether a newly trained model replaces the one
// currently deployed.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/features"
	"github.com/willbeason/insurance-eligibility/pkg/ml"
	"github.com/willbeason/insurance-eligibility/pkg/model"
	"github.com/willbeason/insurance-eligibility/pkg/objstore"
)

var ErrEvaluation = errors.New("model evaluation")

// Incumbent is the deployed model, if there is one.
type Incumbent struct {
	Found bool
	Model *model.Artifact
}

// FetchIncumbent looks up the deployed model. A missing object is not an
// error; an object that cannot be decoded is.
func FetchIncumbent(ctx context.Context, store objstore.Store, key string) (Incumbent, error) {
	lookup, err := store.Fetch(ctx, key)
	if err != nil {
		return Incumbent{}, err
	}
	if !lookup.Found {
		return Incumbent{}, nil
	}
	m, err := model.Decode(lookup.Object)
	if err != nil {
		return Incumbent{}, fmt.Errorf("decoding deployed model %q: %w", key, err)
	}
	return Incumbent{Found: true, Model: m}, nil
}

// Decide accepts a trained model only when its F1 strictly exceeds the
// deployed model's, or zero when nothing is deployed.
func Decide(trainedF1 float64, bestF1 *float64) (accepted bool, difference float64) {
	baseline := 0.0
	if bestF1 != nil {
		baseline = *bestF1
	}
	return trainedF1 > baseline, trainedF1 - baseline
}

func WriteReport(path string, report artifact.Evaluation) error {
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

// Evaluator runs the evaluation stage of a pipeline run.
type Evaluator struct {
	store      objstore.Store
	transform  *features.Transform
	key        string
	reportPath string
	logger     *zap.Logger
}

func NewEvaluator(store objstore.Store, transform *features.Transform, key string, layout artifact.Layout, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		store:      store,
		transform:  transform,
		key:        key,
		reportPath: layout.EvaluationReport(),
		logger:     logger,
	}
}

// score computes the deployed model's F1 on the raw ingested test partition,
// encoded the same way as during transformation.
func (e *Evaluator) score(incumbent *model.Artifact, testPath string) (float64, error) {
	encoded, labels, err := e.transform.Prepare(testPath)
	if err != nil {
		return 0, err
	}
	predicted, err := incumbent.Predict(encoded)
	if err != nil {
		return 0, fmt.Errorf("scoring deployed model: %w", err)
	}
	return ml.F1(labels, predicted), nil
}

func (e *Evaluator) Run(ctx context.Context, ingestion artifact.Ingestion, trainer artifact.Trainer) (artifact.Evaluation, error) {
	incumbent, err := FetchIncumbent(ctx, e.store, e.key)
	if err != nil {
		return artifact.Evaluation{}, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	var bestF1 *float64
	if incumbent.Found {
		f1, err := e.score(incumbent.Model, ingestion.TestPath)
		if err != nil {
			return artifact.Evaluation{}, fmt.Errorf("%w: %w", ErrEvaluation, err)
		}
		bestF1 = &f1
	} else {
		e.logger.Info("no deployed model", zap.String("bucket", e.store.Bucket()), zap.String("key", e.key))
	}

	accepted, difference := Decide(trainer.Metrics.F1, bestF1)
	result := artifact.Evaluation{
		TrainedF1:  trainer.Metrics.F1,
		BestF1:     bestF1,
		Accepted:   accepted,
		Difference: difference,
		ModelPath:  trainer.ModelPath,
		ModelKey:   e.key,
		ReportPath: e.reportPath,
	}
	err = WriteReport(e.reportPath, result)
	if err != nil {
		return artifact.Evaluation{}, fmt.Errorf("%w: writing report: %w", ErrEvaluation, err)
	}

	fields := []zap.Field{
		zap.Float64("trained_f1", result.TrainedF1),
		zap.Bool("accepted", result.Accepted),
		zap.Float64("difference", result.Difference),
	}
	if bestF1 != nil {
		fields = append(fields, zap.Float64("best_f1", *bestF1))
	}
	e.logger.Info("model evaluated", fields...)
	return result, nil
}
