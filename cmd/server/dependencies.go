package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/shirkeanjali/medgenix/config"
	"github.com/shirkeanjali/medgenix/internal/handlers"
	"github.com/shirkeanjali/medgenix/pkg/database"
	"github.com/shirkeanjali/medgenix/pkg/health"
	"github.com/shirkeanjali/medgenix/pkg/kafka"
	"github.com/shirkeanjali/medgenix/pkg/middleware"
	"github.com/shirkeanjali/medgenix/pkg/redis"
	"github.com/shirkeanjali/medgenix/pkg/repositories"
	"github.com/shirkeanjali/medgenix/pkg/scheduler"
	"github.com/shirkeanjali/medgenix/pkg/stats"
)

type databaseDependency struct {
	cfg    *config.Config
	logger ectologger.Logger

	sqlxDB *sqlx.DB
	db     database.DB
}

func (d *databaseDependency) GetName() string { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.cfg.DatabaseHost, d.cfg.DatabasePort, d.cfg.DatabaseUserName,
		d.cfg.DatabasePassword, d.cfg.DatabaseName, d.cfg.DatabaseSSLMode)

	sqlxDB, err := sqlx.ConnectContext(ctx, d.cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlxDB.SetMaxOpenConns(d.cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(d.cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(d.cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	migrations := database.NewMigrationService(d.logger, &database.MigrationConfig{
		MigrationFolderPath: d.cfg.DatabaseMigrationFolderPath,
		Version:             uint(d.cfg.DatabaseMigrationVersion),
		Force:               d.cfg.DatabaseMigrationForce,
		AutoRollback:        d.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(d.cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.sqlxDB = sqlxDB
	d.db = database.NewDatabaseInstance(sqlxDB, d.logger)
	return nil
}

func (d *databaseDependency) Stop(_ context.Context) error {
	if d.sqlxDB == nil {
		return nil
	}
	return d.sqlxDB.Close()
}

type redisDependency struct {
	cfg    *config.Config
	logger ectologger.Logger

	client *redis.Client
}

func (d *redisDependency) GetName() string { return "redis" }
func (d *redisDependency) DependsOn() []string { return nil }

func (d *redisDependency) Start(_ context.Context) error {
	client, err := redis.NewClient(redis.Config{
		Host:     d.cfg.RedisHost,
		Port:     d.cfg.RedisPort,
		Password: d.cfg.RedisPassword,
		DB:       d.cfg.RedisDB,
	}, d.logger)
	if err != nil {
		return err
	}

	d.client = client
	return nil
}

func (d *redisDependency) Stop(_ context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

type kafkaDependency struct {
	cfg    *config.Config
	logger ectologger.Logger

	producer *kafka.Producer
}

func (d *kafkaDependency) GetName() string { return "kafka" }
func (d *kafkaDependency) DependsOn() []string { return nil }

func (d *kafkaDependency) Start(_ context.Context) error {
	d.producer = kafka.NewProducer(
		kafka.ParseConfig(d.cfg.KafkaBrokers, d.cfg.KafkaSearchTopic), d.logger)
	return nil
}

func (d *kafkaDependency) Stop(_ context.Context) error {
	if d.producer == nil {
		return nil
	}
	return d.producer.Close()
}

type prunerDependency struct {
	cfg    *config.Config
	logger ectologger.Logger
	db     *databaseDependency
	redis  *redisDependency

	pruner *scheduler.Pruner
}

func (d *prunerDependency) GetName() string { return "pruner" }
func (d *prunerDependency) DependsOn() []string { return []string{"database", "redis"} }

func (d *prunerDependency) Start(ctx context.Context) error {
	if !d.cfg.PrunerEnabled {
		d.logger.Info("Prune sweeper disabled")
		return nil
	}

	repo := repositories.NewMedicineStatsRepository(d.db.db, d.logger)
	locker := redis.NewLocker(d.redis.client, "medgenix:lock:")

	d.pruner = scheduler.NewPruner(repo, locker, scheduler.Config{
		PollInterval: d.cfg.PrunerPollInterval,
	}, d.logger)

	return d.pruner.Start(ctx)
}

func (d *prunerDependency) Stop(ctx context.Context) error {
	if d.pruner == nil {
		return nil
	}
	return d.pruner.Stop(ctx)
}

type httpServerDependency struct {
	cfg    *config.Config
	logger ectologger.Logger
	db     *databaseDependency
	redis  *redisDependency
	kafka  *kafkaDependency

	echo   *echo.Echo
	health *health.Checker
}

func (d *httpServerDependency) GetName() string { return "http-server" }
func (d *httpServerDependency) DependsOn() []string {
	return []string{"database", "redis", "kafka"}
}

func (d *httpServerDependency) Start(_ context.Context) error {
	repo := repositories.NewMedicineStatsRepository(d.db.db, d.logger)

	var cache stats.TrendCache
	if d.cfg.TrendingCacheTTL > 0 {
		cache = redis.NewCache(d.redis.client, "medgenix:cache:")
	}

	service := stats.NewService(repo, d.kafka.producer, cache, d.cfg.TrendingCacheTTL, d.logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(d.logger)

	e.Use(otelecho.Middleware(d.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(d.logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: d.cfg.AllowOrigins,
		AllowMethods: d.cfg.AllowMethods,
	}))
	e.Use(echomiddleware.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	d.health = health.NewChecker(d.db.db, d.redis.client, version)
	d.health.RegisterRoutes(e)

	medicines := e.Group("/api/v1/medicines")
	if d.cfg.AuthEnabled {
		medicines.Use(middleware.Authentication(d.logger, d.cfg.AuthIssuerURL, d.cfg.AuthClientID))
	}

	var writeMiddleware []echo.MiddlewareFunc
	if d.cfg.UpdateRateLimit > 0 {
		limiter := redis.NewRateLimiter(d.redis.client, "medgenix:ratelimit:")
		writeMiddleware = append(writeMiddleware,
			middleware.RateLimit(limiter, int64(d.cfg.UpdateRateLimit), d.cfg.UpdateRateWindow, d.logger))
	}

	handlers.NewMedicineHandler(service, d.logger).Register(medicines, writeMiddleware...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.cfg.Port),
		ReadTimeout:       time.Duration(d.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(d.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(d.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(d.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    d.cfg.MaxHeaderBytes,
	}

	d.echo = e
	go func() {
		d.logger.Infof("HTTP server listening on %s", srv.Addr)
		if err := e.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.WithError(err).Error("HTTP server exited unexpectedly")
		}
	}()

	return nil
}

func (d *httpServerDependency) Stop(ctx context.Context) error {
	if d.echo == nil {
		return nil
	}
	if d.health != nil {
		d.health.SetReady(false)
	}
	return d.echo.Shutdown(ctx)
}
