package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/docstore"
	"github.com/willbeason/insurance-eligibility/pkg/ingest"
	"github.com/willbeason/insurance-eligibility/pkg/logging"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
)

const (
	FlagConfig     = "config"
	FlagSplitRatio = "split-ratio"
	FlagSeed       = "seed"
)

func init() {
	cmd.Flags().String(FlagConfig, "", "pipeline configuration file (default: built-in defaults)")
	cmd.Flags().Float64(FlagSplitRatio, 0.25, "fraction of rows in the test partition")
	cmd.Flags().Int64(FlagSeed, 0, "random seed (default: the configured ingestion seed)")
}

func main() {
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var cmd = cobra.Command{
	Use:     "ingest OUT_DIR",
	Short:   "loads the customer collection and splits it into train and test CSV files",
	Args:    cobra.ExactArgs(1),
	Version: "0.1.0",
	RunE:    runE,
}

func runE(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	outDir := args[0]

	configPath, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed(FlagSplitRatio) {
		cfg.Ingestion.SplitRatio, err = cmd.Flags().GetFloat64(FlagSplitRatio)
		if err != nil {
			return fmt.Errorf("getting split ratio: %w", err)
		}
	}
	cfg.Ingestion.Seed, err = getSeed(cmd, cfg.Ingestion.Seed)
	if err != nil {
		return fmt.Errorf("getting seed: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	sch, err := schema.Default()
	if cfg.SchemaPath != "" {
		sch, err = schema.Load(cfg.SchemaPath)
	}
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	documents, err := docstore.Open(ctx, cfg.DocumentStore)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer func() {
		err := documents.Close(context.Background())
		if err != nil {
			fmt.Println(err)
		}
	}()

	layout := artifact.NewLayout(outDir, time.Now())
	loader := ingest.NewLoader(documents, sch, cfg.Ingestion, logger)
	result, err := ingest.NewIngestor(loader, cfg.DocumentStore.Collection, cfg.Ingestion, layout, logger).Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("wrote partitions",
		zap.String("train", result.TrainPath),
		zap.String("test", result.TestPath),
		zap.Int64("seed", cfg.Ingestion.Seed))
	fmt.Println(result.TrainRows)
	fmt.Println(result.TestRows)
	return nil
}

func getSeed(cmd *cobra.Command, configured int64) (int64, error) {
	// Check if the user set the seed manually.
	seedSet := false
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name == FlagSeed {
			seedSet = true
		}
	})

	if !seedSet {
		return configured, nil
	}
	return cmd.Flags().GetInt64(FlagSeed)
}
