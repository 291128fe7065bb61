// Package pipeline runs the training stages in order: ingestion, validation,
// transformation, training, evaluation and, for accepted models, push.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/docstore"
	"github.com/willbeason/insurance-eligibility/pkg/evaluate"
	"github.com/willbeason/insurance-eligibility/pkg/features"
	"github.com/willbeason/insurance-eligibility/pkg/ingest"
	"github.com/willbeason/insurance-eligibility/pkg/objstore"
	"github.com/willbeason/insurance-eligibility/pkg/push"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/train"
	"github.com/willbeason/insurance-eligibility/pkg/validate"
)

var ErrPipeline = errors.New("training pipeline")

const (
	StageIngestion      = "data_ingestion"
	StageValidation     = "data_validation"
	StageTransformation = "data_transformation"
	StageTrainer        = "model_trainer"
	StageEvaluation     = "model_evaluation"
	StagePusher         = "model_pusher"
)

// Result holds the artifacts of every stage that ran. Pusher is set only when
// the trained model was accepted.
type Result struct {
	RunID          string
	Layout         artifact.Layout
	Ingestion      artifact.Ingestion
	Validation     artifact.Validation
	Transformation artifact.Transformation
	Trainer        artifact.Trainer
	Evaluation     artifact.Evaluation
	Pusher         *artifact.Pusher
}

func (r Result) Pushed() bool {
	return r.Pusher != nil
}

// Pipeline owns nothing it is given: the caller opens and closes the stores.
type Pipeline struct {
	cfg       *config.Config
	schema    *schema.Schema
	documents docstore.Store
	objects   objstore.Store
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *zap.Logger

	now func() time.Time
}

func New(cfg *config.Config, sch *schema.Schema, documents docstore.Store, objects objstore.Store, metrics *Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		schema:    sch,
		documents: documents,
		objects:   objects,
		metrics:   metrics,
		tracer:    otel.Tracer("insurance-eligibility/pipeline"),
		logger:    logger,
		now:       time.Now,
	}
}

type run struct {
	*Pipeline
	id     string
	logger *zap.Logger
}

// stage runs fn inside a span, records its duration and wraps its error with
// the stage name.
func stage[T any](ctx context.Context, r run, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := r.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("stage", name),
	))
	defer span.End()

	r.logger.Info("starting stage", zap.String("stage", name))
	start := r.now()
	out, err := fn(ctx)
	elapsed := r.now().Sub(start)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("stage failed", zap.String("stage", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		err = fmt.Errorf("%w: %s: %w", ErrPipeline, name, err)
	} else {
		span.SetStatus(codes.Ok, "")
		r.logger.Info("finished stage", zap.String("stage", name), zap.Duration("elapsed", elapsed))
	}
	r.metrics.stageDuration.WithLabelValues(name, status).Observe(elapsed.Seconds())
	return out, err
}

// Run executes one pipeline run. The first stage error ends the run.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	r := run{Pipeline: p, id: uuid.NewString()}
	r.logger = p.logger.With(zap.String("run_id", r.id))

	ctx, span := p.tracer.Start(ctx, "pipeline", trace.WithAttributes(attribute.String("run.id", r.id)))
	defer span.End()

	result, err := r.execute(ctx)
	outcome := "failed"
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result.Pushed():
		outcome = "pushed"
	default:
		outcome = "rejected"
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	p.metrics.runs.WithLabelValues(outcome).Inc()
	r.logger.Info("pipeline finished", zap.String("outcome", outcome))
	return result, err
}

func (r run) execute(ctx context.Context) (Result, error) {
	cfg := r.cfg
	layout := artifact.NewLayout(cfg.ArtifactDir, r.now())
	result := Result{RunID: r.id, Layout: layout}
	r.logger.Info("starting pipeline", zap.String("artifacts", layout.Root))

	transform := features.BuildPipeline(r.schema)

	loader := ingest.NewLoader(r.documents, r.schema, cfg.Ingestion, r.logger)
	ingestor := ingest.NewIngestor(loader, cfg.DocumentStore.Collection, cfg.Ingestion, layout, r.logger)
	var err error
	result.Ingestion, err = stage(ctx, r, StageIngestion, func(ctx context.Context) (artifact.Ingestion, error) {
		return ingestor.Run(ctx)
	})
	if err != nil {
		return result, err
	}

	validator := validate.NewValidator(r.schema, layout, r.logger)
	result.Validation, err = stage(ctx, r, StageValidation, func(ctx context.Context) (artifact.Validation, error) {
		v, err := validator.Run(ctx, result.Ingestion)
		if err == nil && !v.Passed {
			err = fmt.Errorf("%w: %s", validate.ErrValidationFailed, v.Message)
		}
		return v, err
	})
	if err != nil {
		return result, err
	}

	transformer := features.NewTransformer(transform, cfg.Transformation, layout, r.logger)
	result.Transformation, err = stage(ctx, r, StageTransformation, func(ctx context.Context) (artifact.Transformation, error) {
		return transformer.Run(ctx, result.Ingestion, result.Validation)
	})
	if err != nil {
		return result, err
	}

	trainer := train.NewTrainer(cfg.Trainer, layout, r.logger)
	result.Trainer, err = stage(ctx, r, StageTrainer, func(ctx context.Context) (artifact.Trainer, error) {
		return trainer.Run(ctx, result.Transformation)
	})
	if err != nil {
		return result, err
	}
	r.metrics.modelF1.WithLabelValues("trained").Set(result.Trainer.Metrics.F1)

	evaluator := evaluate.NewEvaluator(r.objects, transform, cfg.Evaluation.ModelKey, layout, r.logger)
	result.Evaluation, err = stage(ctx, r, StageEvaluation, func(ctx context.Context) (artifact.Evaluation, error) {
		return evaluator.Run(ctx, result.Ingestion, result.Trainer)
	})
	if err != nil {
		return result, err
	}
	if result.Evaluation.BestF1 != nil {
		r.metrics.modelF1.WithLabelValues("deployed").Set(*result.Evaluation.BestF1)
	}

	if !result.Evaluation.Accepted {
		r.logger.Info("trained model is not better than the deployed model",
			zap.Float64("difference", result.Evaluation.Difference))
		return result, nil
	}

	pusher := push.NewPusher(r.objects, r.logger)
	pushed, err := stage(ctx, r, StagePusher, func(ctx context.Context) (artifact.Pusher, error) {
		return pusher.Run(ctx, result.Evaluation)
	})
	if err != nil {
		return result, err
	}
	result.Pusher = &pushed
	return result, nil
}
