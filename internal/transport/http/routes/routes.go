package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/infra/config"
	"github.com/jjdj0315/localagent-gateway/internal/transport/http/handlers"
	"github.com/jjdj0315/localagent-gateway/internal/transport/http/middleware"
	"github.com/jjdj0315/localagent-gateway/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth     *usecase.AuthService
	Sessions *usecase.SessionService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	RateLimiter    *middleware.RateLimiter
	CSRFGuard      *middleware.CSRFGuard
	AdmissionGuard *middleware.AdmissionGuard
	HTTPMetrics    *middleware.HTTPMetrics
	Services       ServiceSet
	Assistant      port.AssistantBackend
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware. Guarded
// routes run the pipeline in a fixed order: rate limit, CSRF, session,
// admission, handler.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Tracing(serviceName(deps.Config)))

	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Handler())
	}

	if len(deps.Config.CORS.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))
	}

	requireSession := middleware.RequireSession(deps.Services.Auth, deps.Logger)

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	// Probes and metrics sit outside the guarded pipeline so orchestrators
	// are never rate limited away from them.
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessionHandler := handlers.NewSessionHandler(deps.Services.Auth, deps.Services.Sessions)

	api := r.Group("/api/v1")
	if globalLimit := buildGlobalRateLimit(deps); len(globalLimit) > 0 {
		api.Use(globalLimit...)
	}
	if deps.CSRFGuard != nil {
		api.Use(deps.CSRFGuard.Protect())
	}
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Auth, handlers.WithCookieSettings(cookieSettings(deps.Config)))

		loginMiddlewares := buildLoginRateLimit(deps)
		authHandler.RegisterRoutes(authGroup, requireSession, loginMiddlewares...)

		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(requireSession)
		sessionHandler.RegisterRoutes(sessionGroup)

		adminGroup := api.Group("/admin")
		adminGroup.Use(requireSession, middleware.RequireRole(domain.UserRoleAdmin))
		sessionHandler.RegisterAdminRoutes(adminGroup)

		assistantHandler := handlers.NewAssistantHandler(deps.Assistant, deps.Logger)
		assistantGroup := api.Group("/assistant")
		assistantGroup.Use(requireSession)
		assistantGroup.POST("/chat", assistantHandler.Chat)
		assistantGroup.POST("/chat/react", guardedChain(deps, usecase.AdmissionClassReAct, assistantHandler.ChatReact)...)
		assistantGroup.POST("/agents", guardedChain(deps, usecase.AdmissionClassAgent, assistantHandler.RunAgent)...)
		assistantGroup.POST("/workflows", guardedChain(deps, usecase.AdmissionClassAgent, assistantHandler.RunWorkflow)...)
	}

	// Internal service-to-service surface. The CSRF guard still runs so the
	// exemption list is the single switch deciding what skips the check; the
	// per-client limiter is left off because peer traffic shares one address.
	internal := r.Group("/internal")
	if deps.CSRFGuard != nil {
		internal.Use(deps.CSRFGuard.Protect())
	}
	internal.POST("/session/validate", sessionHandler.ValidateSession)

	return r
}

func serviceName(cfg *config.AppConfig) string {
	if cfg != nil && cfg.Telemetry.ServiceName != "" {
		return cfg.Telemetry.ServiceName
	}
	return "localagent-gateway"
}

func cookieSettings(cfg *config.AppConfig) handlers.CookieSettings {
	settings := handlers.CookieSettings{
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
	if cfg == nil {
		return settings
	}

	settings.Domain = cfg.Cookie.Domain
	settings.Secure = cfg.Cookie.Secure
	settings.SameSite = middleware.ParseSameSite(cfg.Cookie.SameSite)
	settings.TTL = cfg.Session.Timeout

	return settings
}

func buildGlobalRateLimit(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.RequestsPerMinute
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "global",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientKeyIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

func buildLoginRateLimit(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.LoginMaxAttempts
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientKeyIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

func guardedChain(deps Dependencies, class usecase.AdmissionClass, handler gin.HandlerFunc) []gin.HandlerFunc {
	if deps.AdmissionGuard == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{deps.AdmissionGuard.Guard(class), handler}
}
