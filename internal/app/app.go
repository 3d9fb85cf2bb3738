package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/NurzhauganovA/galmart/internal/config"
	"github.com/NurzhauganovA/galmart/internal/event"
	handler "github.com/NurzhauganovA/galmart/internal/handler/http"
	"github.com/NurzhauganovA/galmart/internal/outbox"
	"github.com/NurzhauganovA/galmart/internal/reaper"
	"github.com/NurzhauganovA/galmart/internal/repository/postgres"
	"github.com/NurzhauganovA/galmart/internal/service"
	"github.com/NurzhauganovA/galmart/migrations"
	"github.com/NurzhauganovA/galmart/pkg/database"
	"github.com/NurzhauganovA/galmart/pkg/health"
	pkgkafka "github.com/NurzhauganovA/galmart/pkg/kafka"
	"github.com/NurzhauganovA/galmart/pkg/tracing"
)

// App wires together all dependencies and runs the reservation service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	httpServer     *http.Server
	publisher      *outbox.Publisher
	reaper         *reaper.Reaper
	notifications  *pkgkafka.Consumer
	analytics      *pkgkafka.Consumer
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "reservation",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "reservation")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Redis backs the advisory availability cache and analytics counters.
	rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Warn("redis unavailable, advisory cache disabled", slog.String("error", err.Error()))
		rdb = nil
	}

	// Initialize Kafka producer with connection validation and retry.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	ledger := postgres.NewLedger(pool, cfg.LedgerLocking, cfg.LedgerRetryMax)
	reservationStore := postgres.NewReservationStore(pool)
	outboxStore := postgres.NewOutboxStore(pool)
	productStore := postgres.NewProductStore(pool)
	idempotencyStore := postgres.NewIdempotencyStore(pool)

	reservationService := service.NewReservationService(
		pool,
		ledger,
		reservationStore,
		outboxStore,
		productStore,
		idempotencyStore,
		rdb,
		logger,
		service.Config{
			TTL:              cfg.ReservationTTL(),
			MaxActivePerUser: cfg.MaxActivePerUser,
			EventTopic:       cfg.EventTopic,
			IdempotencyTTL:   cfg.IdempotencyTTL(),
		},
	)

	publisher := outbox.NewPublisher(outboxStore, producer, logger, outbox.Config{
		BatchSize:    cfg.PublishBatchSize,
		PollInterval: cfg.PublishPollInterval(),
		BackoffBase:  cfg.PublishBackoffBase(),
		BackoffCap:   cfg.PublishBackoffCap(),
		Parallelism:  cfg.PublishParallelism,
		Retention:    cfg.OutboxRetention(),
	})

	expiryReaper := reaper.New(reservationStore, reservationService, logger, reaper.Config{
		Interval:  cfg.ReapInterval(),
		BatchSize: cfg.ReapBatchSize,
		Budget:    cfg.ReapBudget(),
	})

	// Subscriber-side consumers. Deduplication keys on reservation identity
	// plus event type, so redelivered and re-emitted events are no-ops.
	// Messages that exhaust handler retries go to the dead-letter queue.
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	dedupStore := pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)

	notificationConsumer := event.NewNotificationConsumer(event.NewLogSender(logger), logger)
	notifications := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: "reservation-notifications",
		Topic:   cfg.EventTopic,
	}, pkgkafka.IdempotentHandler(dedupStore, event.DedupKey, notificationConsumer.Handle, logger), logger)
	notifications.UseDLQ(dlq)

	var analytics *pkgkafka.Consumer
	if rdb != nil {
		analyticsConsumer := event.NewAnalyticsConsumer(rdb, logger)
		analyticsDedup := pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
		analytics = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: "reservation-analytics",
			Topic:   cfg.EventTopic,
		}, pkgkafka.IdempotentHandler(analyticsDedup, event.DedupKey, analyticsConsumer.Handle, logger), logger)
		analytics.UseDLQ(dlq)
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	if rdb != nil {
		healthHandler.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// HTTP router.
	router := handler.NewRouter(reservationService, healthHandler, logger)

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
		pool:           pool,
		rdb:            rdb,
		producer:       producer,
		dlq:            dlq,
		httpServer:     httpServer,
		publisher:      publisher,
		reaper:         expiryReaper,
		notifications:  notifications,
		analytics:      analytics,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server, background workers, and consumers, then blocks
// until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 4)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start the outbox publisher and the expiry reaper.
	go func() {
		if err := a.publisher.Run(ctx); err != nil {
			errCh <- fmt.Errorf("outbox publisher: %w", err)
		}
	}()

	go func() {
		if err := a.reaper.Run(ctx); err != nil {
			errCh <- fmt.Errorf("expiry reaper: %w", err)
		}
	}()

	// Start subscriber consumers.
	go func() {
		if err := a.notifications.Start(ctx); err != nil {
			errCh <- fmt.Errorf("notification consumer: %w", err)
		}
	}()

	if a.analytics != nil {
		go func() {
			if err := a.analytics.Start(ctx); err != nil {
				errCh <- fmt.Errorf("analytics consumer: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumers
// 4. Kafka producer
// 5. Redis client
// 6. PostgreSQL pool
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

	// 3. Close Kafka consumers.
	if err := a.notifications.Close(); err != nil {
		a.logger.Error("notification consumer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if a.analytics != nil {
		if err := a.analytics.Close(); err != nil {
			a.logger.Error("analytics consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close Kafka producers.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Close Redis client.
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 6. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := producer.Ping(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
