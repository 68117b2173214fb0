package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/shirkeanjali/medgenix/config"
	"github.com/shirkeanjali/medgenix/pkg/startup"
	"github.com/shirkeanjali/medgenix/pkg/tracing"
	"github.com/shirkeanjali/medgenix/pkg/tracing/exporters"
)

// version is stamped at build time
var version = "dev"

func main() {
	// Missing .env is fine, containers get their env from the orchestrator
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)
	logger.WithFields(map[string]any{
		"app":     cfg.AppName,
		"version": version,
	}).Info("Starting MedGenix stats service")

	ctx := context.Background()

	shutdownTracing, err := initTracing(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		os.Exit(1)
	}
	defer shutdownTracing()

	dbDep := &databaseDependency{cfg: cfg, logger: logger}
	redisDep := &redisDependency{cfg: cfg, logger: logger}
	kafkaDep := &kafkaDependency{cfg: cfg, logger: logger}
	httpDep := &httpServerDependency{cfg: cfg, logger: logger, db: dbDep, redis: redisDep, kafka: kafkaDep}
	prunerDep := &prunerDependency{cfg: cfg, logger: logger, db: dbDep, redis: redisDep}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(dbDep)
	boot.AddDependency(redisDep)
	boot.AddDependency(kafkaDep)
	boot.AddDependency(httpDep)
	boot.AddDependency(prunerDep)

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}

	httpDep.health.SetReady(true)
	logger.Info("Service is ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

func newLogger(cfg *config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func initTracing(ctx context.Context, cfg *config.Config) (func(), error) {
	var opts []sdktrace.TracerProviderOption

	opts = append(opts, sdktrace.WithResource(resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", version),
	)))

	if cfg.OTLPEnabled {
		exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else {
		opts = append(opts, sdktrace.WithBatcher(&exporters.ConsoleExporter{}))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}, nil
}
