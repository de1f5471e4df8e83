package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/apresai/newsdesk/internal/config"
	"github.com/apresai/newsdesk/internal/llm"
	"github.com/apresai/newsdesk/internal/observability"
	"github.com/apresai/newsdesk/internal/pipeline"
	"github.com/apresai/newsdesk/internal/server"
	"github.com/apresai/newsdesk/internal/store"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("NEWSDESK_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel)
	logger.Info("Newsdesk server starting...", "version", version, "provider", cfg.LLM.Provider, "store", cfg.Store.Backend)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Observability.Tracing {
		tp, err := observability.InitTracer(ctx, cfg.Observability.ServiceName, version, cfg.Observability.Environment)
		if err != nil {
			logger.Warn("Failed to init tracer, continuing without tracing", "error", err)
		} else {
			defer func() {
				if err := tp.Shutdown(context.Background()); err != nil {
					logger.Error("Tracer shutdown error", "error", err)
				}
			}()
		}
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var awsCfg *aws.Config
	if needsAWS(cfg) {
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		otelaws.AppendMiddlewares(&c.APIOptions)
		awsCfg = &c
	}

	if cfg.AWS.SecretPrefix != "" {
		n := config.LoadSecrets(ctx, secretsmanager.NewFromConfig(*awsCfg), cfg.AWS.SecretPrefix, logger)
		logger.Info("Secrets loaded", "count", n)
	}

	settings := cfg.LLMSettings()
	client, err := llm.New(ctx, settings)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	orch := pipeline.New(client,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithStageTimeout(cfg.Pipeline.StageTimeout),
		pipeline.WithProvenance(settings.Provider, settings.Model),
	)

	var st store.EpisodeStore
	switch cfg.Store.Backend {
	case "dynamodb":
		st = store.NewDynamo(dynamodb.NewFromConfig(*awsCfg), cfg.Store.Table)
	default:
		st = store.NewMemory()
	}

	// A nil *store.Archive must not reach the interface.
	var archive server.Publisher
	if cfg.Store.Bucket != "" {
		archive = store.NewArchive(s3.NewFromConfig(*awsCfg), cfg.Store.Bucket, cfg.Store.CDNBaseURL)
	}

	svc := server.NewService(orch, st, archive, metrics, server.ServiceConfig{
		MaxRuns:  cfg.Server.MaxRuns,
		Editor:   cfg.Pipeline.Editor,
		Provider: settings.Provider,
		Model:    settings.Model,
	}, logger)

	// Generations derive from baseCtx so a client disconnect does not cancel
	// them; shutdown does.
	baseCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	srv := server.New(baseCtx, svc, st, reg, server.Config{Port: cfg.Server.Port, Version: version}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, waiting for in-flight generations...", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		cancelRuns()
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Store.Backend == "dynamodb" || cfg.Store.Bucket != "" || cfg.AWS.SecretPrefix != ""
}
