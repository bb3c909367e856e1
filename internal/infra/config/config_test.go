package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() AppConfig {
	return AppConfig{
		App: AppSettings{Name: "localagent-gateway", Env: "development", Host: "0.0.0.0", Port: 8080},
		Session: SessionSettings{
			Timeout:       30 * time.Minute,
			MaxPerUser:    3,
			PurgeInterval: 5 * time.Minute,
		},
		RateLimit: RateLimitSettings{
			Store:             "memory",
			RequestsPerMinute: 60,
			WindowDuration:    time.Minute,
			LoginMaxAttempts:  10,
			IdleTTL:           3 * time.Minute,
			CleanupInterval:   time.Minute,
		},
		Admission: AdmissionSettings{ReactSlots: 10, AgentSlots: 5},
		Assistant: AssistantSettings{BaseURL: "http://localhost:8001", Timeout: 2 * time.Minute},
		Cookie:    CookieSettings{SameSite: "lax"},
		Telemetry: TelemetrySettings{SamplingRate: 1.0},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name:    "unknown environment",
			mutate:  func(c *AppConfig) { c.App.Env = "prod" },
			wantErr: "app.env",
		},
		{
			name:    "port out of range",
			mutate:  func(c *AppConfig) { c.App.Port = 70000 },
			wantErr: "app.port",
		},
		{
			name:    "zero session timeout",
			mutate:  func(c *AppConfig) { c.Session.Timeout = 0 },
			wantErr: "session.timeout",
		},
		{
			name:    "zero session cap",
			mutate:  func(c *AppConfig) { c.Session.MaxPerUser = 0 },
			wantErr: "session.max_per_user",
		},
		{
			name:    "unknown rate limit store",
			mutate:  func(c *AppConfig) { c.RateLimit.Store = "dynamo" },
			wantErr: "rate_limit.store",
		},
		{
			name:    "zero request budget",
			mutate:  func(c *AppConfig) { c.RateLimit.RequestsPerMinute = 0 },
			wantErr: "rate_limit.requests_per_minute",
		},
		{
			name:    "idle ttl shorter than window",
			mutate:  func(c *AppConfig) { c.RateLimit.IdleTTL = 30 * time.Second },
			wantErr: "rate_limit.idle_ttl",
		},
		{
			name:    "zero react slots",
			mutate:  func(c *AppConfig) { c.Admission.ReactSlots = 0 },
			wantErr: "admission.react_slots",
		},
		{
			name:    "relative assistant url",
			mutate:  func(c *AppConfig) { c.Assistant.BaseURL = "localhost:8001" },
			wantErr: "assistant.base_url",
		},
		{
			name:    "unknown samesite",
			mutate:  func(c *AppConfig) { c.Cookie.SameSite = "Lax " },
			wantErr: "cookie.same_site",
		},
		{
			name: "samesite none without secure",
			mutate: func(c *AppConfig) {
				c.Cookie.SameSite = "none"
				c.Cookie.Secure = false
			},
			wantErr: "cookie.secure",
		},
		{
			name:    "sampling rate above one",
			mutate:  func(c *AppConfig) { c.Telemetry.SamplingRate = 1.5 },
			wantErr: "telemetry.sampling_rate",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadDefaultsToDevelopmentCookies(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Cookie.Secure {
		t.Fatal("expected insecure cookies outside production")
	}
	if cfg.Cookie.SameSite != "lax" {
		t.Fatalf("expected lax samesite outside production, got %q", cfg.Cookie.SameSite)
	}
}

func TestLoadHardensCookiesInProduction(t *testing.T) {
	t.Setenv("GATEWAY_APP_ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if !cfg.Cookie.Secure {
		t.Fatal("expected secure cookies in production")
	}
	if cfg.Cookie.SameSite != "strict" {
		t.Fatalf("expected strict samesite in production, got %q", cfg.Cookie.SameSite)
	}
}

func TestLoadKeepsExplicitCookieSettings(t *testing.T) {
	t.Setenv("GATEWAY_APP_ENV", "production")
	t.Setenv("GATEWAY_COOKIE_SAME_SITE", "lax")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Cookie.SameSite != "lax" {
		t.Fatalf("expected explicit samesite to override the production default, got %q", cfg.Cookie.SameSite)
	}
	if !cfg.Cookie.Secure {
		t.Fatal("expected the secure default to still apply in production")
	}
}
