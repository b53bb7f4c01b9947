package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/lunebijoux/storefront/pkg/database"
	"github.com/lunebijoux/storefront/pkg/health"
	pkgkafka "github.com/lunebijoux/storefront/pkg/kafka"
	"github.com/lunebijoux/storefront/pkg/middleware"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/pkg/tracing"
	"github.com/lunebijoux/storefront/services/storefront/internal/config"
	"github.com/lunebijoux/storefront/services/storefront/internal/event"
	handler "github.com/lunebijoux/storefront/services/storefront/internal/handler/http"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository/postgres"
	redisrepo "github.com/lunebijoux/storefront/services/storefront/internal/repository/redis"
	"github.com/lunebijoux/storefront/services/storefront/internal/service"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
	"github.com/lunebijoux/storefront/services/storefront/migrations"
)

const serviceName = "storefront"

// App wires together all dependencies and runs the storefront service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// stores groups the record store implementations for one backend.
type stores struct {
	carts    repository.CartRepository
	catalog  repository.CatalogRepository
	stock    repository.StockStore
	promos   repository.PromoRepository
	shipping repository.ShippingRepository
	orders   repository.OrderRepository
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		tracerShutdown: tracerShutdown,
	}
	healthHandler := health.NewHandler()

	var st stores
	switch cfg.StoreBackend {
	case config.BackendMemory:
		st = seededMemoryStores()
		logger.Warn("using in-memory record store with demo data")
	default:
		st, err = a.openPostgres(ctx, healthHandler)
		if err != nil {
			a.closeStores()
			return nil, err
		}
	}

	// Initialize Kafka producer. Events are best effort, so an unreachable
	// broker only degrades readiness.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := producer.Ping(ctx); err != nil {
		logger.Warn("kafka producer ping failed, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	a.producer = producer
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
	})

	// Guard record store reads.
	guardCfg := service.DefaultGuardConfig("record-store")
	guardCfg.Timeout = cfg.RecordStoreTimeout()
	guardCfg.FailureRatio = cfg.BreakerFailureRatio
	guardCfg.MinRequests = cfg.BreakerMinRequests
	guardCfg.OpenTimeout = cfg.BreakerOpenTimeout()
	guard := service.NewGuard(guardCfg, logger)
	catalog := service.GuardCatalog(st.catalog, guard)
	promos := service.GuardPromos(st.promos, guard)

	shippingCatalog := loadShippingCatalog(ctx, st.shipping, money.Cents(cfg.FreeShippingDefaultCents), logger)

	// Build the dependency graph.
	eventProducer := event.NewProducer(producer, logger)
	cartService := service.NewCartService(st.carts, catalog, promos, shippingCatalog, eventProducer, logger)
	checkoutService := service.NewCheckoutService(st.carts, catalog, st.stock, promos, st.orders,
		shippingCatalog, eventProducer, logger)
	catalogService := service.NewCatalogService(catalog, shippingCatalog, logger)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins
	cors.Environment = cfg.Environment

	// HTTP router.
	router := handler.NewRouter(cartService, checkoutService, catalogService, healthHandler, logger,
		handler.RouterConfig{
			CORS: cors,
			RateLimit: middleware.RateLimitConfig{
				RPS:   cfg.RateLimitRPS,
				Burst: cfg.RateLimitBurst,
			},
		})

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// openPostgres connects the durable record store and the Redis cart store
// and registers their readiness checks.
func (a *App) openPostgres(ctx context.Context, healthHandler *health.Handler) (stores, error) {
	cfg, logger := a.cfg, a.logger

	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL
	pgCfg.MaxConns = cfg.DBMaxConns
	pgCfg.MinConns = cfg.DBMinConns

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return stores{}, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("register pool metrics", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return stores{}, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	redisCfg := database.DefaultRedisConfig()
	redisCfg.Addr = cfg.RedisAddr
	redisCfg.Password = cfg.RedisPass
	redisCfg.DB = cfg.RedisDB
	rdb, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		return stores{}, fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	logger.Info("connected to Redis",
		slog.String("addr", cfg.RedisAddr),
		slog.Int("db", cfg.RedisDB),
	)

	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	catalog := postgres.NewCatalogRepository(pool)
	return stores{
		carts:    redisrepo.NewCartRepository(rdb, cfg.CartTTL()),
		catalog:  catalog,
		stock:    postgres.NewStockStore(pool),
		promos:   postgres.NewPromoRepository(pool),
		shipping: postgres.NewShippingRepository(pool),
		orders:   postgres.NewOrderRepository(pool),
	}, nil
}

// loadShippingCatalog reads the active methods from the record store,
// falling back to the built-in grid when none load or they fail validation.
func loadShippingCatalog(ctx context.Context, repo repository.ShippingRepository, freeAbove money.Cents, logger *slog.Logger) *shipping.Catalog {
	methods, err := repo.ListMethods(ctx)
	if err == nil && len(methods) > 0 {
		var cat *shipping.Catalog
		if cat, err = shipping.NewCatalog(methods...); err == nil {
			logger.Info("shipping methods loaded", slog.Int("count", len(methods)))
			return cat
		}
	}
	if err != nil {
		logger.Warn("shipping methods unusable, using built-in grid", slog.String("error", err.Error()))
	}
	return shipping.DefaultCatalog(freeAbove)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("store_backend", a.cfg.StoreBackend),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
	}

	a.closeStores()

	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(shutdownCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeStores() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
