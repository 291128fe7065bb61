// Package train fits the eligibility classifier on the transformed matrices.
package train

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/features"
	"github.com/willbeason/insurance-eligibility/pkg/ml"
	"github.com/willbeason/insurance-eligibility/pkg/model"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

var (
	ErrTrainer            = errors.New("model trainer")
	ErrBelowAccuracyFloor = errors.New("training accuracy below expected accuracy")
)

// ForestOptions maps trainer configuration onto forest hyperparameters.
func ForestOptions(cfg config.Trainer) []ml.ForestOption {
	return []ml.ForestOption{
		ml.WithEstimators(cfg.NEstimators),
		ml.WithRandomState(cfg.RandomState),
		ml.WithFeatureSampling(cfg.MaxFeatures),
		ml.WithTreeOptions(
			ml.WithMaxDepth(cfg.MaxDepth),
			ml.WithMinSamplesSplit(cfg.MinSamplesSplit),
			ml.WithMinSamplesLeaf(cfg.MinSamplesLeaf),
			ml.WithCriterion(ml.Criterion(cfg.Criterion)),
		),
	}
}

// Scores computes the classification metrics of predictions against truth.
func Scores(truth, predicted []float64) artifact.Metrics {
	c := ml.NewConfusion(truth, predicted)
	return artifact.Metrics{
		Accuracy:  c.Accuracy(),
		F1:        c.F1(),
		Precision: c.Precision(),
		Recall:    c.Recall(),
	}
}

// Train fits a forest on the train matrix and scores it on the test matrix.
// Both matrices carry the label as their last column.
func Train(ctx context.Context, train, test *tables.Matrix, cfg config.Trainer) (*ml.Forest, artifact.Metrics, error) {
	if !slices.Equal(train.Columns, test.Columns) {
		return nil, artifact.Metrics{}, fmt.Errorf("%w: train columns %v, test columns %v",
			features.ErrColumnMismatch, train.Columns, test.Columns)
	}
	xTrain, yTrain, err := train.SplitLabel()
	if err != nil {
		return nil, artifact.Metrics{}, err
	}
	xTest, yTest, err := test.SplitLabel()
	if err != nil {
		return nil, artifact.Metrics{}, err
	}

	forest := ml.NewForest(ForestOptions(cfg)...)
	err = forest.Fit(ctx, xTrain.Rows, yTrain)
	if err != nil {
		return nil, artifact.Metrics{}, err
	}

	predicted, err := forest.Predict(xTest.Rows)
	if err != nil {
		return nil, artifact.Metrics{}, err
	}
	return forest, Scores(yTest, predicted), nil
}

// Trainer runs the training stage of a pipeline run.
type Trainer struct {
	cfg       config.Trainer
	modelPath string
	logger    *zap.Logger
}

func NewTrainer(cfg config.Trainer, layout artifact.Layout, logger *zap.Logger) *Trainer {
	return &Trainer{cfg: cfg, modelPath: layout.Model(), logger: logger}
}

// Run trains on the transformed matrices. When the model's accuracy on its own
// training rows is below the expected accuracy, no model is saved.
func (t *Trainer) Run(ctx context.Context, transformation artifact.Transformation) (artifact.Trainer, error) {
	trainMatrix, err := tables.ReadMatrix(ctx, transformation.TrainPath)
	if err != nil {
		return artifact.Trainer{}, fmt.Errorf("%w: %w", ErrTrainer, err)
	}
	testMatrix, err := tables.ReadMatrix(ctx, transformation.TestPath)
	if err != nil {
		return artifact.Trainer{}, fmt.Errorf("%w: %w", ErrTrainer, err)
	}

	t.logger.Info("training model",
		zap.Int("train_rows", trainMatrix.NumRows()),
		zap.Int("estimators", t.cfg.NEstimators))
	forest, metrics, err := Train(ctx, trainMatrix, testMatrix, t.cfg)
	if err != nil {
		return artifact.Trainer{}, fmt.Errorf("%w: %w", ErrTrainer, err)
	}

	xTrain, yTrain, err := trainMatrix.SplitLabel()
	if err != nil {
		return artifact.Trainer{}, fmt.Errorf("%w: %w", ErrTrainer, err)
	}
	fitted, err := forest.Predict(xTrain.Rows)
	if err != nil {
		return artifact.Trainer{}, fmt.Errorf("%w: %w", ErrTrainer, err)
	}
	trainAccuracy := ml.Accuracy(yTrain, fitted)
	if trainAccuracy < t.cfg.ExpectedAccuracy {
		return artifact.Trainer{}, fmt.Errorf("%w: %w: %.4f < %.4f",
			ErrTrainer, ErrBelowAccuracyFloor, trainAccuracy, t.cfg.ExpectedAccuracy)
	}

	preprocessor, err := features.LoadPreprocessor(transformation.PreprocessorPath)
	if err != nil {
		return artifact.Trainer{}, fmt.Errorf("%w: %w", ErrTrainer, err)
	}
	bundle := &model.Artifact{Preprocessor: preprocessor, Classifier: forest}
	err = bundle.Save(t.modelPath)
	if err != nil {
		return artifact.Trainer{}, fmt.Errorf("%w: saving model: %w", ErrTrainer, err)
	}

	t.logger.Info("model trained",
		zap.String("model", t.modelPath),
		zap.Float64("train_accuracy", trainAccuracy),
		zap.Float64("test_accuracy", metrics.Accuracy),
		zap.Float64("test_f1", metrics.F1),
		zap.Float64("test_precision", metrics.Precision),
		zap.Float64("test_recall", metrics.Recall))

	return artifact.Trainer{
		ModelPath:     t.modelPath,
		TrainAccuracy: trainAccuracy,
		Metrics:       metrics,
	}, nil
}
