package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/features"
	"github.com/willbeason/insurance-eligibility/pkg/logging"
	"github.com/willbeason/insurance-eligibility/pkg/objstore"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/serve"
	"github.com/willbeason/insurance-eligibility/pkg/telemetry"
)

const (
	FlagConfig    = "config"
	FlagAddr      = "addr"
	FlagModelFile = "model-file"
	FlagWatch     = "watch"
	FlagTrace     = "trace"
)

const shutdownTimeout = 10 * time.Second

func init() {
	cmd.Flags().String(FlagConfig, "", "pipeline configuration file (default: built-in defaults)")
	cmd.Flags().String(FlagAddr, ":5000", "address to listen on")
	cmd.Flags().String(FlagModelFile, "", "serve this local model artifact instead of the deployed model")
	cmd.Flags().Bool(FlagWatch, false, "reload the local model artifact when it changes")
	cmd.Flags().Bool(FlagTrace, false, "print request spans to stderr")
}

func main() {
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var cmd = cobra.Command{
	Use:     "serve",
	Short:   "serves vehicle insurance eligibility predictions over HTTP",
	Args:    cobra.NoArgs,
	Version: "0.1.0",
	RunE:    runE,
}

var ErrServe = errors.New("serving predictions")

func runE(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServe, err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServe, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.Telemetry.Trace {
		shutdown, err := telemetry.InitTracing(os.Stderr, "insurance-eligibility-serve", cmd.Version)
		if err != nil {
			return fmt.Errorf("%w: initializing tracing: %w", ErrServe, err)
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	sch, err := schema.Default()
	if cfg.SchemaPath != "" {
		sch, err = schema.Load(cfg.SchemaPath)
	}
	if err != nil {
		return fmt.Errorf("%w: loading schema: %w", ErrServe, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	server := serve.New(features.BuildPipeline(sch), cfg.Server.BasePath, registry, logger)

	err = loadModel(ctx, cfg, server)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServe, err)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("base_path", cfg.Server.BasePath))
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if cfg.Server.ModelFile != "" && cfg.Server.Watch {
		g.Go(func() error {
			return server.Watch(ctx, cfg.Server.ModelFile)
		})
	}

	err = g.Wait()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServe, err)
	}
	return nil
}

func loadModel(ctx context.Context, cfg *config.Config, server *serve.Server) error {
	if cfg.Server.ModelFile != "" {
		return server.LoadFile(cfg.Server.ModelFile)
	}

	objects, err := objstore.Open(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("opening object store: %w", err)
	}
	defer func() {
		_ = objects.Close()
	}()
	return server.LoadFromStore(ctx, objects, cfg.Evaluation.ModelKey)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]any)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case FlagAddr:
			overrides["server.addr"] = f.Value.String()
		case FlagModelFile:
			overrides["server.model_file"] = f.Value.String()
		case FlagWatch:
			overrides["server.watch"] = f.Value.String() == "true"
		case FlagTrace:
			overrides["telemetry.trace"] = f.Value.String() == "true"
		}
	})

	return config.Load(path, overrides)
}
