package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/cartengine/internal/catalog"
	"github.com/utafrali/cartengine/internal/config"
	"github.com/utafrali/cartengine/internal/event"
	handler "github.com/utafrali/cartengine/internal/handler/http"
	"github.com/utafrali/cartengine/internal/repository"
	filerepo "github.com/utafrali/cartengine/internal/repository/file"
	"github.com/utafrali/cartengine/internal/repository/memory"
	"github.com/utafrali/cartengine/internal/repository/postgres"
	"github.com/utafrali/cartengine/internal/repository/postgres/migrations"
	redisrepo "github.com/utafrali/cartengine/internal/repository/redis"
	"github.com/utafrali/cartengine/internal/service"
	"github.com/utafrali/cartengine/internal/stock"
	"github.com/utafrali/cartengine/pkg/database"
	"github.com/utafrali/cartengine/pkg/health"
	"github.com/utafrali/cartengine/pkg/httpclient"
	pkgkafka "github.com/utafrali/cartengine/pkg/kafka"
	"github.com/utafrali/cartengine/pkg/middleware"
	"github.com/utafrali/cartengine/pkg/tracing"
)

// App wires together all dependencies and runs the cart engine.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	storage        repository.Storage
	closeStorage   func() error
	producer       *pkgkafka.Producer
	carts          *service.CartService
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "cart",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	storage, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}

	// Catalog client with circuit breaker.
	baseClient := httpclient.New(cfg.CatalogClientConfig())
	cbCfg := cfg.CircuitBreakerConfig("catalog")
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, logger)
	logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)
	catalogClient := catalog.NewClient(cbClient, cfg.CatalogServiceURL, logger)
	validator := stock.NewValidator(catalogClient, cfg.Policy(), logger)
	logger.Info("stock validator initialized",
		slog.String("catalog_url", cfg.CatalogServiceURL),
		slog.String("policy", cfg.Policy().String()),
	)

	// Optional Kafka producer. Publishing happens inside the commit
	// notification path, so the writer runs asynchronously.
	var (
		producer  *pkgkafka.Producer
		publisher service.EventPublisher
	)
	if cfg.KafkaEnabled {
		kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
		kafkaCfg.Async = true
		producer = pkgkafka.NewProducer(kafkaCfg, logger)
		publisher = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	carts := service.NewCartService(validator, storage, cfg.StorageNamespace, publisher, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("storage", storage.Ping)
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}
	healthHandler.RegisterNonCritical("catalog", func(context.Context) error {
		if cbClient.State() == gobreaker.StateOpen {
			return errors.New("catalog circuit breaker is open")
		}
		return nil
	})

	// HTTP router.
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	cors.Environment = cfg.Environment
	router := handler.NewRouter(carts, healthHandler, logger, cors)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		storage:        storage,
		closeStorage:   closeStorage,
		producer:       producer,
		carts:          carts,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// openStorage connects the snapshot storage selected by CART_STORAGE. The
// returned close function releases its connections.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Storage, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage {
	case config.StorageRedis:
		redisCfg := cfg.RedisConfig()
		rdb, err := database.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis",
			slog.String("addr", redisCfg.Addr()),
			slog.Int("db", redisCfg.DB),
		)
		return redisrepo.NewStorage(rdb, cfg.CartTTLDuration()), rdb.Close, nil

	case config.StoragePostgres:
		pgCfg := cfg.PostgresConfig()
		pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		logger.Info("connected to PostgreSQL",
			slog.String("host", pgCfg.Host),
			slog.Int("port", pgCfg.Port),
			slog.String("database", pgCfg.DBName),
		)
		database.RegisterPoolMetrics(pool, "cart")

		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")

		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
		}
		return postgres.NewStorage(pool), func() error { pool.Close(); return nil }, nil

	case config.StorageFile:
		st, err := filerepo.NewStorage(cfg.FileDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}
		logger.Info("using file storage", slog.String("dir", cfg.FileDir))
		return st, noop, nil

	case config.StorageMemory:
		logger.Warn("using in-memory storage, carts are lost on restart")
		return memory.NewStorage(), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	idle := a.cfg.SessionIdle()
	go a.carts.RunSweeper(sweepCtx, idle/2, idle)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer (flush async batches)
// 4. Storage connections
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producer.
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close storage connections.
	if err := a.closeStorage(); err != nil {
		a.logger.Error("storage close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
