package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/AdityaBheke/BusyBuy/internal/auth/firebase"
	"github.com/AdityaBheke/BusyBuy/internal/auth/local"
	"github.com/AdityaBheke/BusyBuy/internal/cartsync"
	"github.com/AdityaBheke/BusyBuy/internal/checkout"
	"github.com/AdityaBheke/BusyBuy/internal/config"
	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	"github.com/AdityaBheke/BusyBuy/internal/docstore/firestore"
	"github.com/AdityaBheke/BusyBuy/internal/docstore/memory"
	"github.com/AdityaBheke/BusyBuy/internal/docstore/postgres"
	redisstore "github.com/AdityaBheke/BusyBuy/internal/docstore/redis"
	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/event"
	handler "github.com/AdityaBheke/BusyBuy/internal/handler/http"
	"github.com/AdityaBheke/BusyBuy/internal/identitystore"
	"github.com/AdityaBheke/BusyBuy/internal/metrics"
	"github.com/AdityaBheke/BusyBuy/internal/notify"
	"github.com/AdityaBheke/BusyBuy/internal/session"
	"github.com/AdityaBheke/BusyBuy/pkg/database"
	"github.com/AdityaBheke/BusyBuy/pkg/health"
	"github.com/AdityaBheke/BusyBuy/pkg/httpclient"
	pkgkafka "github.com/AdityaBheke/BusyBuy/pkg/kafka"
	"github.com/AdityaBheke/BusyBuy/pkg/middleware"
	"github.com/AdityaBheke/BusyBuy/pkg/tracing"
)

const serviceName = "busybuy"

// App wires together all dependencies and runs the BusyBuy core.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// base lives until Shutdown; live queries run under it.
	base   context.Context
	cancel context.CancelFunc

	store    docstore.Store
	rdb      *goredis.Client
	// rdbOwned is set when the redis store took over closing rdb.
	rdbOwned bool
	pool     *pgxpool.Pool
	producer *pkgkafka.Producer
	tracer   tracing.ShutdownFunc

	sessions *session.Manager
	engine   *cartsync.Engine

	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base, stop := context.WithCancel(context.Background())
	a := &App{cfg: cfg, logger: logger, base: base, cancel: stop}
	if err := a.init(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	// Tracing.
	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Environment = cfg.Environment
	tcfg.Enabled = cfg.OTELEnabled
	tcfg.OTLPEndpoint = cfg.OTELEndpoint
	tcfg.SampleRate = cfg.OTELSampleRate
	shutdownTracer, err := tracing.InitTracer(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.tracer = shutdownTracer

	// Redis, shared by the redis store and the redis identity store.
	if cfg.UsesRedis() {
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.store = store

	authenticator, err := a.openAuthenticator(ctx)
	if err != nil {
		return err
	}

	var ids session.IdentityStore
	switch cfg.IdentityStore {
	case config.IdentityRedis:
		ids = identitystore.NewRedisStore(a.rdb, cfg.DeviceID, cfg.SessionTTL)
	default:
		ids = identitystore.NewFileStore(cfg.IdentityFile)
	}

	// Kafka is optional; without brokers events are dropped.
	var publisher event.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	events := event.NewProducer(publisher, logger)

	// Notifications go to the API buffer, the log and, with Kafka, the bus.
	inbox := notify.NewChannel(cfg.NotificationBuffer)
	notifier := notify.NewMulti(inbox, notify.NewLog(logger))

	// Build the dependency graph.
	m := metrics.New(prometheus.DefaultRegisterer)
	if a.pool != nil {
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, a.pool, serviceName); err != nil {
			logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
	}

	a.engine = cartsync.New(a.base, store, notifier, m, logger)
	a.sessions = session.NewManager(authenticator, ids, notifier, logger)
	if a.producer != nil {
		sessions := a.sessions
		notifier.Add(event.NewNotifier(events, func() string { return sessions.Current().ID }))
	}
	a.sessions.Watch(func(ctx context.Context, id domain.Identity) {
		if err := a.engine.SwitchIdentity(ctx, id); err != nil {
			logger.ErrorContext(ctx, "cart engine could not follow identity",
				slog.String("identity_id", id.ID),
				slog.String("error", err.Error()),
			)
		}
	})
	processor := checkout.NewProcessor(store, notifier, events, m, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("store", store.Ping)
	healthHandler.RegisterNonCritical("cart_subscription", func(context.Context) error {
		if a.engine.Degraded() {
			return fmt.Errorf("live queries degraded")
		}
		return nil
	})
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}

	// HTTP router.
	attempts := middleware.NewAttemptLimiter(a.base, cfg.AuthAttemptsPerSec, cfg.AuthAttemptBurst, logger)
	router := handler.NewRouter(a.sessions, a.engine, processor, inbox, healthHandler, middleware.DefaultCORSConfig(), attempts, logger)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (docstore.Store, error) {
	cfg, logger := a.cfg, a.logger

	switch cfg.StoreBackend {
	case config.BackendRedis:
		a.rdbOwned = true
		return redisstore.New(a.rdb, logger), nil

	case config.BackendPostgres:
		pgCfg := database.DefaultPostgresConfig()
		pgCfg.URL = cfg.DatabaseURL
		pgCfg.Host = cfg.DBHost
		pgCfg.Port = cfg.DBPort
		pgCfg.User = cfg.DBUser
		pgCfg.Password = cfg.DBPassword
		pgCfg.DBName = cfg.DBName
		pgCfg.SSLMode = cfg.DBSSLMode
		pgCfg.MaxConns = cfg.DBMaxConns

		pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.DBHost),
			slog.Int("port", cfg.DBPort),
			slog.String("database", cfg.DBName),
		)

		database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)
		if err := database.RunMigrations(ctx, pool, postgres.Migrations(), logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return postgres.New(pool, postgres.PoolListener(pool), logger), nil

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, firestore.Config{
			ProjectID:       cfg.GCPProject,
			CredentialsFile: cfg.GCPCredentials,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to firestore: %w", err)
		}
		logger.Info("connected to Firestore", slog.String("project", cfg.GCPProject))
		return firestore.New(client, logger), nil

	default:
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
}

func (a *App) openAuthenticator(ctx context.Context) (session.Authenticator, error) {
	cfg, logger := a.cfg, a.logger

	if cfg.AuthProvider != config.AuthFirebase {
		return local.New(a.store, cfg.BcryptCost, logger), nil
	}

	fbCfg := firebase.Config{
		ProjectID:       cfg.GCPProject,
		CredentialsFile: cfg.GCPCredentials,
		APIKey:          cfg.FirebaseAPIKey,
		Endpoint:        cfg.FirebaseAuthURL,
	}
	client, err := firebase.NewAuthClient(ctx, fbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to firebase auth: %w", err)
	}
	doer := httpclient.NewBreaker(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultBreakerConfig("identitytoolkit"),
		prometheus.DefaultRegisterer,
		logger,
	)
	logger.Info("firebase auth initialized", slog.String("project", cfg.GCPProject))
	return firebase.New(client, client, doer, fbCfg, logger), nil
}

// Run restores the previous session, starts the HTTP server and blocks
// until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	if id, ok := a.sessions.RestoreSession(ctx); ok {
		a.logger.Info("resumed previous session", slog.String("identity_id", id.ID))
	}

	go a.resyncLoop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// resyncLoop re-opens broken live queries until the app shuts down.
func (a *App) resyncLoop() {
	ticker := time.NewTicker(a.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.base.Done():
			return
		case <-ticker.C:
			if !a.engine.Degraded() {
				continue
			}
			if err := a.engine.Resync(a.base); err != nil {
				a.logger.Warn("resync failed", slog.String("error", err.Error()))
			}
		}
	}
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

	a.engine.Close()
	a.closeResources()

	if a.tracer != nil {
		if err := a.tracer(shutdownCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// closeResources releases whatever init managed to open.
func (a *App) closeResources() {
	a.cancel()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("store close error", slog.String("error", err.Error()))
		}
	}

	// Close Kafka producer.
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if a.rdb != nil && !a.rdbOwned {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}
}
