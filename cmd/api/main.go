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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/locolive/socialgraph/internal/api"
	"github.com/locolive/socialgraph/internal/auth"
	"github.com/locolive/socialgraph/internal/config"
	"github.com/locolive/socialgraph/internal/domain"
	"github.com/locolive/socialgraph/internal/fcm"
	"github.com/locolive/socialgraph/internal/metrics"
	"github.com/locolive/socialgraph/internal/middleware"
	"github.com/locolive/socialgraph/internal/realtime"
	"github.com/locolive/socialgraph/internal/repository"
)

const version = "1.0.0"

// store is what the services and health checks need from a repository.
type store interface {
	domain.RelationshipStore
	domain.MembershipStore
	api.Pinger
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting social graph API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Database.Store),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	repo, closeRepo, err := initStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Realtime
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	registry := realtime.NewRegistry()
	gateway := realtime.NewGateway(registry, jwtManager, realtime.Options{
		PingInterval:   cfg.Realtime.PingInterval,
		PongWait:       cfg.Realtime.PongWait,
		WriteWait:      cfg.Realtime.WriteWait,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		SendBuffer:     cfg.Realtime.SendBuffer,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	}, m, logger)

	dispatcher := domain.NewDispatcher(gateway, logger, m)
	if cfg.Push.Enabled {
		fcmClient, err := fcm.NewClient(ctx, logger, cfg.Push.CredentialsFile)
		if err != nil {
			logger.Warn("Failed to initialize Firebase client - push notifications will be disabled", zap.Error(err))
		} else {
			dispatcher.WithPush(fcmClient)
			logger.Info("Firebase client initialized")
		}
	}

	// Initialize services. Both share one sequencer so a recipient's friend
	// and group events keep their commit order.
	sequencer := domain.NewSequencer(dispatcher)
	graphService := domain.NewGraphService(repo, sequencer, logger)
	membershipService := domain.NewMembershipService(repo, sequencer, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.IdleTimeout)
	limiter.StartCleanupWorker(ctx, time.Minute)

	router := api.NewRouter(api.RouterConfig{
		FriendHandler:   api.NewFriendHandler(graphService, logger),
		GroupHandler:    api.NewGroupHandler(membershipService, logger),
		RealtimeHandler: api.NewRealtimeHandler(gateway, logger),
		HealthHandler:   api.NewHealthHandler(repo, version, logger),
		WebSocket:       http.HandlerFunc(gateway.ServeWS),
		Metrics:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Limiter:         limiter,
		JWTManager:      jwtManager,
		AllowedOrigins:  cfg.Realtime.AllowedOrigins,
		Logger:          logger,
	})

	// Create server. No WriteTimeout: hijacked websocket connections manage
	// their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		gateway.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, func(), error) {
	if cfg.Database.Store == "memory" {
		logger.Warn("Using in-memory store - state is lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Connected to database")

	repo := repository.NewPostgresRepository(db, cfg.Database.QueryTimeout)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, db.Close, nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Log.Level, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

func initDatabase(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = dbCfg.MaxConns
	config.MinConns = dbCfg.MinConns
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
