package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/infra/assistant"
	"github.com/jjdj0315/localagent-gateway/internal/infra/config"
	"github.com/jjdj0315/localagent-gateway/internal/infra/database"
	kafkainfra "github.com/jjdj0315/localagent-gateway/internal/infra/kafka"
	"github.com/jjdj0315/localagent-gateway/internal/infra/logger"
	redisinfra "github.com/jjdj0315/localagent-gateway/internal/infra/redis"
	"github.com/jjdj0315/localagent-gateway/internal/infra/telemetry"
	memoryrepo "github.com/jjdj0315/localagent-gateway/internal/repository/memory"
	postgresrepo "github.com/jjdj0315/localagent-gateway/internal/repository/postgres"
	redisrepo "github.com/jjdj0315/localagent-gateway/internal/repository/redis"
	"github.com/jjdj0315/localagent-gateway/internal/transport/http/middleware"
	"github.com/jjdj0315/localagent-gateway/internal/transport/http/routes"
	"github.com/jjdj0315/localagent-gateway/internal/usecase"
)

type Application struct {
	cfg       *config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	pool      *pgxpool.Pool
	redis     *redisinfra.Client
	kafka     *kafkainfra.Producer
	telemetry *telemetry.Provider
	memStore  *memoryrepo.RateLimitStore
	sessions  *usecase.SessionService
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tel, err := telemetry.Attach(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	// The rate-limit window lives in Redis only when replicas must share it;
	// a single instance keeps the window in process memory.
	var redisClient *redisinfra.Client
	var rateLimitStore middleware.RateLimitStore
	var memStore *memoryrepo.RateLimitStore
	switch cfg.RateLimit.Store {
	case "redis":
		redisClient, err = redisinfra.NewClient(cfg.Redis, log)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		rateLimitStore = redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
			KeyPrefix: cfg.RateLimit.KeyPrefix,
			TTL:       cfg.RateLimit.IdleTTL,
		})
	default:
		memStore = memoryrepo.NewRateLimitStore(cfg.RateLimit.IdleTTL, cfg.RateLimit.CleanupInterval)
		rateLimitStore = memStore
	}

	// Initialize Kafka event publisher
	var eventPublisher port.EventPublisher
	var kafkaProducer *kafkainfra.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			kafkaProducer = nil
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	sessionService := usecase.NewSessionService(repos.Sessions, eventPublisher, cfg.Session.Timeout, cfg.Session.MaxPerUser, log)
	authService := usecase.NewAuthService(repos.Users, sessionService, log)

	admissionController := usecase.NewAdmissionController(map[usecase.AdmissionClass]int{
		usecase.AdmissionClassReAct: cfg.Admission.ReactSlots,
		usecase.AdmissionClassAgent: cfg.Admission.AgentSlots,
	}, log)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		closeStores(pool, redisClient, memStore)
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	pipelineMetrics, err := middleware.NewPipelineMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		closeStores(pool, redisClient, memStore)
		return nil, fmt.Errorf("init pipeline metrics: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log).WithMetrics(pipelineMetrics)

	csrfGuard := middleware.NewCSRFGuard(middleware.CSRFOptions{
		ExemptPaths:    cfg.CSRF.ExemptPaths,
		ExemptPrefixes: cfg.CSRF.ExemptPrefixes,
		CookieDomain:   cfg.Cookie.Domain,
		CookieSecure:   cfg.Cookie.Secure,
		CookieSameSite: middleware.ParseSameSite(cfg.Cookie.SameSite),
		CookieTTL:      cfg.Session.Timeout,
	}, log).WithMetrics(pipelineMetrics)

	admissionGuard := middleware.NewAdmissionGuard(admissionController, log).
		WithEvents(eventPublisher).
		WithMetrics(pipelineMetrics)

	var assistantBackend port.AssistantBackend
	if cfg.Assistant.BaseURL != "" {
		backend, err := assistant.NewClient(cfg.Assistant, log)
		if err != nil {
			closeStores(pool, redisClient, memStore)
			return nil, fmt.Errorf("init assistant client: %w", err)
		}
		assistantBackend = backend
	} else {
		log.Warn("assistant base url not configured, assistant routes will answer 503")
	}

	deps := routes.Dependencies{
		Config:         cfg,
		Logger:         log,
		RateLimiter:    rateLimiter,
		CSRFGuard:      csrfGuard,
		AdmissionGuard: admissionGuard,
		HTTPMetrics:    httpMetrics,
		Services: routes.ServiceSet{
			Auth:     authService,
			Sessions: sessionService,
		},
		Assistant: assistantBackend,
		Database:  pool,
	}
	if redisClient != nil {
		deps.Cache = redisClient
	}

	engine := routes.Register(deps)

	return &Application{
		cfg:       cfg,
		engine:    engine,
		logger:    log,
		pool:      pool,
		redis:     redisClient,
		kafka:     kafkaProducer,
		telemetry: tel,
		memStore:  memStore,
		sessions:  sessionService,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.kafka != nil {
			_ = a.kafka.Close()
		}
	}()
	defer func() {
		if a.memStore != nil {
			a.memStore.Close()
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	purgeCtx, cancelPurge := context.WithCancel(ctx)
	defer cancelPurge()
	go a.runSessionPurge(purgeCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting gateway API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// runSessionPurge sweeps expired sessions on the configured interval so rows
// for idle users do not accumulate between logins.
func (a *Application) runSessionPurge(ctx context.Context) {
	interval := a.cfg.Session.PurgeInterval
	if interval <= 0 || a.sessions == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := a.sessions.PurgeExpired(sweepCtx); err != nil {
				a.logger.Warn("session purge sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func closeStores(pool *pgxpool.Pool, redisClient *redisinfra.Client, memStore *memoryrepo.RateLimitStore) {
	if pool != nil {
		pool.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if memStore != nil {
		memStore.Close()
	}
}
