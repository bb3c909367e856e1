package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Session   SessionSettings   `mapstructure:"session"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	CSRF      CSRFSettings      `mapstructure:"csrf"`
	Admission AdmissionSettings `mapstructure:"admission"`
	Assistant AssistantSettings `mapstructure:"assistant"`
	Cookie    CookieSettings    `mapstructure:"cookie"`
	CORS      CORSSettings      `mapstructure:"cors"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// SessionSettings governs the server-side session lifecycle.
type SessionSettings struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxPerUser    int           `mapstructure:"max_per_user"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// RateLimitSettings configures the per-client sliding window limiter.
type RateLimitSettings struct {
	Store             string        `mapstructure:"store"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	WindowDuration    time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts  int           `mapstructure:"login_max_attempts"`
	IdleTTL           time.Duration `mapstructure:"idle_ttl"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
}

// CSRFSettings lists paths excluded from double-submit verification.
type CSRFSettings struct {
	ExemptPaths    []string `mapstructure:"exempt_paths"`
	ExemptPrefixes []string `mapstructure:"exempt_prefixes"`
}

// AdmissionSettings bounds concurrent assistant invocations per class.
type AdmissionSettings struct {
	ReactSlots int `mapstructure:"react_slots"`
	AgentSlots int `mapstructure:"agent_slots"`
}

// AssistantSettings locates the inference backend the gateway forwards to.
type AssistantSettings struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CookieSettings controls attributes of the session and CSRF cookies.
type CookieSettings struct {
	Domain   string `mapstructure:"domain"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
}

// CORSSettings lists browser origins allowed to call the API with credentials.
type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("GATEWAY")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"session.timeout",
		"session.max_per_user",
		"session.purge_interval",
		"rate_limit.store",
		"rate_limit.requests_per_minute",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.idle_ttl",
		"rate_limit.cleanup_interval",
		"rate_limit.key_prefix",
		"csrf.exempt_paths",
		"csrf.exempt_prefixes",
		"admission.react_slots",
		"admission.agent_slots",
		"assistant.base_url",
		"assistant.timeout",
		"cookie.domain",
		"cookie.secure",
		"cookie.same_site",
		"cors.allowed_origins",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	// Production deployments default to hardened cookies. Defaults have the
	// lowest precedence in viper, so explicit cookie.* settings still win.
	if v.GetString("app.env") == "production" {
		v.SetDefault("cookie.secure", true)
		v.SetDefault("cookie.same_site", "strict")
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations that would make the gateway misbehave
// silently at runtime. Called by Load; exposed for tests and tooling.
func (c *AppConfig) Validate() error {
	switch c.App.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("app.env must be development, staging or production, got %q", c.App.Env)
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port must be in 1..65535, got %d", c.App.Port)
	}

	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive, got %s", c.Session.Timeout)
	}
	if c.Session.MaxPerUser < 1 {
		return fmt.Errorf("session.max_per_user must be at least 1, got %d", c.Session.MaxPerUser)
	}
	if c.Session.PurgeInterval <= 0 {
		return fmt.Errorf("session.purge_interval must be positive, got %s", c.Session.PurgeInterval)
	}

	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limit.store must be memory or redis, got %q", c.RateLimit.Store)
	}
	if c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("rate_limit.requests_per_minute must be at least 1, got %d", c.RateLimit.RequestsPerMinute)
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("rate_limit.window_duration must be positive, got %s", c.RateLimit.WindowDuration)
	}
	if c.RateLimit.IdleTTL < c.RateLimit.WindowDuration {
		return fmt.Errorf("rate_limit.idle_ttl must cover at least one window, got %s", c.RateLimit.IdleTTL)
	}
	if c.RateLimit.CleanupInterval <= 0 {
		return fmt.Errorf("rate_limit.cleanup_interval must be positive, got %s", c.RateLimit.CleanupInterval)
	}

	if c.Admission.ReactSlots < 1 {
		return fmt.Errorf("admission.react_slots must be at least 1, got %d", c.Admission.ReactSlots)
	}
	if c.Admission.AgentSlots < 1 {
		return fmt.Errorf("admission.agent_slots must be at least 1, got %d", c.Admission.AgentSlots)
	}

	if c.Assistant.BaseURL != "" {
		parsed, err := url.Parse(c.Assistant.BaseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("assistant.base_url must be an absolute URL, got %q", c.Assistant.BaseURL)
		}
	}
	if c.Assistant.Timeout <= 0 {
		return fmt.Errorf("assistant.timeout must be positive, got %s", c.Assistant.Timeout)
	}

	switch c.Cookie.SameSite {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("cookie.same_site must be lax, strict or none, got %q", c.Cookie.SameSite)
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if c.Cookie.SameSite == "none" && !c.Cookie.Secure {
		return fmt.Errorf("cookie.same_site=none requires cookie.secure=true")
	}

	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry.sampling_rate must be in [0,1], got %f", c.Telemetry.SamplingRate)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "localagent-gateway")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "gateway")
	v.SetDefault("postgres.password", "gateway_password")
	v.SetDefault("postgres.database", "gateway")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "gateway")
	v.SetDefault("kafka.async", true)

	v.SetDefault("session.timeout", "30m")
	v.SetDefault("session.max_per_user", 3)
	v.SetDefault("session.purge_interval", "5m")

	v.SetDefault("rate_limit.store", "memory")
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 10)
	v.SetDefault("rate_limit.idle_ttl", "3m")
	v.SetDefault("rate_limit.cleanup_interval", "1m")
	v.SetDefault("rate_limit.key_prefix", "gateway:rate_limit")

	v.SetDefault("csrf.exempt_paths", []string{"/api/v1/auth/login"})
	v.SetDefault("csrf.exempt_prefixes", []string{"/internal/"})

	v.SetDefault("admission.react_slots", 10)
	v.SetDefault("admission.agent_slots", 5)

	v.SetDefault("assistant.base_url", "http://localhost:8001")
	v.SetDefault("assistant.timeout", "120s")

	// Development baseline; Load hardens these when app.env is production.
	v.SetDefault("cookie.domain", "")
	v.SetDefault("cookie.secure", false)
	v.SetDefault("cookie.same_site", "lax")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "localagent-gateway")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "GATEWAY_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
