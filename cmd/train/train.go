package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/docstore"
	"github.com/willbeason/insurance-eligibility/pkg/logging"
	"github.com/willbeason/insurance-eligibility/pkg/objstore"
	"github.com/willbeason/insurance-eligibility/pkg/pipeline"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/telemetry"
)

const (
	FlagConfig      = "config"
	FlagSchema      = "schema"
	FlagSeed        = "seed"
	FlagTrace       = "trace"
	FlagMetricsFile = "metrics-file"
)

func init() {
	cmd.Flags().String(FlagConfig, "", "pipeline configuration file (default: built-in defaults)")
	cmd.Flags().String(FlagSchema, "", "schema declaration file (default: built-in vehicle insurance schema)")
	cmd.Flags().Int64(FlagSeed, 0, "random seed for splitting, resampling and training")
	cmd.Flags().Bool(FlagTrace, false, "print stage spans to stderr")
	cmd.Flags().String(FlagMetricsFile, "", "write run metrics in Prometheus text format to this file")
}

func main() {
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var cmd = cobra.Command{
	Use:     "train",
	Short:   "runs the vehicle insurance eligibility training pipeline",
	Args:    cobra.NoArgs,
	Version: "0.1.0",
	RunE:    runE,
}

var ErrTrain = errors.New("running training pipeline")

func runE(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTrain, err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTrain, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.Telemetry.Trace {
		shutdown, err := telemetry.InitTracing(os.Stderr, "insurance-eligibility", cmd.Version)
		if err != nil {
			return fmt.Errorf("%w: initializing tracing: %w", ErrTrain, err)
		}
		defer func() {
			err := shutdown(context.Background())
			if err != nil {
				logger.Warn("flushing spans", zap.Error(err))
			}
		}()
	}

	sch, err := loadSchema(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTrain, err)
	}

	documents, err := docstore.Open(ctx, cfg.DocumentStore)
	if err != nil {
		return fmt.Errorf("%w: opening document store: %w", ErrTrain, err)
	}
	defer func() {
		err := documents.Close(context.Background())
		if err != nil {
			logger.Warn("closing document store", zap.Error(err))
		}
	}()

	objects, err := objstore.Open(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("%w: opening object store: %w", ErrTrain, err)
	}
	defer func() {
		err := objects.Close()
		if err != nil {
			logger.Warn("closing object store", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	p := pipeline.New(cfg, sch, documents, objects, pipeline.NewMetrics(registry), logger)
	result, runErr := p.Run(ctx)

	if cfg.Telemetry.MetricsFile != "" {
		err := prometheus.WriteToTextfile(cfg.Telemetry.MetricsFile, registry)
		if err != nil {
			logger.Warn("writing metrics", zap.String("path", cfg.Telemetry.MetricsFile), zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}

	if result.Pushed() {
		fmt.Printf("pushed %s/%s (blake2b %s)\n", result.Pusher.Bucket, result.Pusher.Key, result.Pusher.Digest)
	} else {
		fmt.Printf("kept deployed model: trained F1 %.4f did not beat it\n", result.Evaluation.TrainedF1)
	}
	return nil
}

// loadConfig reads the configuration file and applies the flags the user set
// over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]any)
	var flagErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case FlagSeed:
			seed, err := cmd.Flags().GetInt64(FlagSeed)
			if err != nil {
				flagErr = err
				return
			}
			overrides["ingestion.seed"] = seed
			overrides["transformation.seed"] = seed
			overrides["trainer.random_state"] = seed
		case FlagSchema:
			overrides["schema_path"] = f.Value.String()
		case FlagTrace:
			overrides["telemetry.trace"] = f.Value.String() == "true"
		case FlagMetricsFile:
			overrides["telemetry.metrics_file"] = f.Value.String()
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	return config.Load(path, overrides)
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.Default()
	}
	return schema.Load(path)
}
