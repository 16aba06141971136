package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	httpapi "github.com/shestoi/backoffice/internal/api/http"
	redissnapshot "github.com/shestoi/backoffice/internal/cache/redis"
	"github.com/shestoi/backoffice/internal/config"
	eventkafka "github.com/shestoi/backoffice/internal/event/kafka"
	"github.com/shestoi/backoffice/internal/repository"
	"github.com/shestoi/backoffice/internal/repository/memory"
	"github.com/shestoi/backoffice/internal/repository/postgres"
	"github.com/shestoi/backoffice/internal/service"
	"github.com/shestoi/backoffice/migrations"
	platformlogging "github.com/shestoi/backoffice/platform/logging"
	platformobservability "github.com/shestoi/backoffice/platform/observability"
	platformshutdown "github.com/shestoi/backoffice/platform/shutdown"
)

const serviceName = "ledger"

// App содержит все зависимости для запуска и корректного shutdown Ledger Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *platformshutdown.Manager
	wg          sync.WaitGroup
}

// Build создаёт и настраивает все зависимости Ledger Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"
	ctx := context.Background()

	// Создаём logger
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: serviceName,
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	// OpenTelemetry: traces + metrics (noop если OTEL_ENABLED=false)
	otelShutdown, err := platformobservability.Init(ctx, platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           serviceName,
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Building Ledger service",
		zap.String("op", op),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("storage", string(cfg.Storage)),
		zap.Bool("kafka_enabled", cfg.KafkaEnabled),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
	)

	// Создаём shutdown manager; функции выполняются в обратном порядке регистрации,
	// otel регистрируется первым, чтобы закрыться последним
	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)
	shutdownMgr.Add("otel", otelShutdown)

	cleanup := func() {
		// при ошибке сборки закрываем то, что уже открыто
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}

	// Основное хранилище
	var (
		tx        repository.TxManager
		readiness func() bool
	)
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		tx = memory.NewMemoryRepository()
		readiness = func() bool { return true }

	default:
		pool, err := connectPostgres(ctx, cfg, logger)
		if err != nil {
			cleanup()
			return nil, err
		}
		shutdownMgr.Add("postgres_pool", platformshutdown.ClosePool(pool))

		tx = postgres.NewRepository(pool)
		readiness = func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx) == nil
		}
	}

	// Кэш снимков (advisory)
	var snapshots service.StockSnapshotCache = service.NoopSnapshotCache{}
	if cfg.RedisEnabled {
		logger.Info("Connecting to Redis", zap.String("addr", cfg.RedisAddr))
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// кэш не обязателен: сервис работает и без него
			logger.Warn("Redis is unavailable, snapshot cache disabled", zap.Error(err))
			redisClient.Close()
		} else {
			snapshots = redissnapshot.NewSnapshotCache(redisClient, logger, cfg.StockSnapshotTTL)
			shutdownMgr.Add("redis_client", platformshutdown.CloseFunc(redisClient))
			logger.Info("Redis connection established")
		}
	}

	// Публикация фактов
	var activity service.ActivityPublisher = service.NoopActivityPublisher{}
	if cfg.KafkaEnabled {
		publisher := eventkafka.NewKafkaActivityPublisher(logger, cfg.KafkaBrokers, cfg.ActivityTopic)
		activity = publisher
		shutdownMgr.Add("kafka_publisher", platformshutdown.CloseFunc(publisher))
		logger.Info("Activity publisher enabled",
			zap.Strings("kafka_brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.ActivityTopic),
		)
	}

	// Создаём service слой
	ledger := service.NewInventoryLedger(logger, tx, snapshots, activity)
	reservations := service.NewReservationManager(logger, tx, ledger, activity)
	if cfg.OTelEnabled {
		reservations.WithMetrics(newReservationMetricsRecorder())
	}
	quotes := service.NewQuoteService(logger, tx, ledger, reservations, activity)
	invoices := service.NewInvoiceService(logger, tx, activity)

	// Создаем HTTP handler и роутер
	handler := httpapi.NewHandler(logger, ledger, reservations, quotes, invoices)
	router := httpapi.NewRouter(handler, readiness, logger)

	// Создаём HTTP сервер
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return &App{
		logger:      logger,
		httpServer:  httpServer,
		shutdownMgr: shutdownMgr,
	}, nil
}

// connectPostgres открывает pool, проверяет соединение и при необходимости накатывает миграции
func connectPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	logger.Info("Connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}

	// Проверяем подключение к PostgreSQL
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info("PostgreSQL connection established")

	if !cfg.MigrateOnStart {
		return pool, nil
	}

	// Применяем миграции
	logger.Info("Applying database migrations")
	db, err := goose.OpenDBWithDriver("pgx", cfg.PostgresDSN)
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer db.Close()

	if err := migrations.Up(ctx, db); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Database migrations applied successfully")

	return pool, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting Ledger service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Ожидаем сигнал и выполняем shutdown
	a.shutdownMgr.Wait()

	a.wg.Wait()
	a.logger.Info("Ledger service stopped")
	return nil
}

// reservationMetricsRecorder пишет reservations_total в OTLP counter
type reservationMetricsRecorder struct {
	counter metric.Int64Counter
}

func newReservationMetricsRecorder() *reservationMetricsRecorder {
	meter := otel.Meter(serviceName)
	counter, _ := meter.Int64Counter("reservations_total", metric.WithDescription("Reservations created and released"))
	return &reservationMetricsRecorder{counter: counter}
}

func (r *reservationMetricsRecorder) RecordReservations(ctx context.Context, op string, count int) {
	if r.counter == nil {
		return
	}
	r.counter.Add(ctx, int64(count), metric.WithAttributes(attribute.String("op", op)))
}
