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
	"github.com/lalith-99/ordersvc/internal/api"
	"github.com/lalith-99/ordersvc/internal/auth"
	"github.com/lalith-99/ordersvc/internal/cache"
	"github.com/lalith-99/ordersvc/internal/config"
	"github.com/lalith-99/ordersvc/internal/db"
	"github.com/lalith-99/ordersvc/internal/events"
	"github.com/lalith-99/ordersvc/internal/observ"
	"github.com/lalith-99/ordersvc/internal/orders"
	"github.com/lalith-99/ordersvc/internal/repository"
	"github.com/lalith-99/ordersvc/internal/repository/memory"
	"github.com/lalith-99/ordersvc/internal/repository/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// storage is the set of repositories plus the transaction manager and
// health check that back them.
type storage struct {
	tenants repository.TenantRepository
	users   repository.UserRepository
	orders  repository.OrderRepository
	tx      repository.TxManager
	health  api.HealthChecker
	close   func()
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on exit")
		mem := memory.New()
		return &storage{
			tenants: mem.Tenants(),
			users:   mem.Users(),
			orders:  mem.Orders(),
			tx:      mem,
			health:  mem,
			close:   func() {},
		}, nil
	}

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pool := database.Pool()
	return &storage{
		tenants: postgres.NewTenantStore(pool),
		users:   postgres.NewUserStore(pool),
		orders:  postgres.NewOrderStore(pool),
		tx:      database,
		health:  database,
		close:   database.Close,
	}, nil
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 2. Metrics
	// ---------------------------------------------------------------
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observ.NewMetrics(registry, "ordersvc")

	// ---------------------------------------------------------------
	// 3. Storage
	// ---------------------------------------------------------------
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	// ---------------------------------------------------------------
	// 4. Redis (optional). Without it Idempotency-Key is ignored.
	// ---------------------------------------------------------------
	var idem orders.IdempotencyStore
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		// A pending key outlives its request by one more timeout at most.
		pendingTTL := 2 * cfg.RequestTimeout
		idem = cache.NewIdempotencyStore(rdb, cfg.IdempotencyTTL, pendingTTL)
		logger.Info("idempotency keys enabled",
			zap.Duration("ttl", cfg.IdempotencyTTL),
			zap.Duration("pending_ttl", pendingTTL),
		)
	}

	// ---------------------------------------------------------------
	// 5. Events. Kafka when brokers are configured, otherwise an
	//    in-process hub so the live feed still works locally.
	// ---------------------------------------------------------------
	var (
		publisher  events.Publisher
		subscriber events.Subscriber
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaOrderTopic, 1024, logger, metrics)
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := producer.Close(flushCtx); err != nil {
				logger.Warn("flush order events", zap.Error(err))
			}
		}()
		publisher = producer
		subscriber = events.KafkaSubscriber{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.KafkaOrderTopic,
			GroupPrefix: cfg.ServiceName + "-feed",
		}
		logger.Info("publishing order events to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaOrderTopic),
		)
	} else {
		hub := events.NewHub(64)
		publisher = hub
		subscriber = hub
	}

	// ---------------------------------------------------------------
	// 6. Services
	// ---------------------------------------------------------------
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	authSvc := auth.NewService(
		store.users,
		store.tenants,
		store.tx,
		auth.NewBcryptHasher(cfg.BcryptCost),
		tokens,
		logger,
		metrics,
	)

	numbers, err := orders.NewSnowflakeNumbers(cfg.OrderNodeID)
	if err != nil {
		return fmt.Errorf("order numbers: %w", err)
	}
	orderSvc := orders.NewService(store.orders, store.tx, numbers, publisher, logger, metrics)

	// ---------------------------------------------------------------
	// 7. HTTP server
	// ---------------------------------------------------------------
	router := api.NewRouter(api.Deps{
		Auth:           authSvc,
		Tokens:         tokens,
		Orders:         orderSvc,
		Idempotency:    idem,
		Subscriber:     subscriber,
		Health:         store.health,
		Metrics:        metrics,
		Gatherer:       registry,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	// No WriteTimeout: it would cut off long-lived websocket feeds.
	// Regular requests are bounded by RequestTimeout instead.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting ordersvc",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("storage", cfg.Storage),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
