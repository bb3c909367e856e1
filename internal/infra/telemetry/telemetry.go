package telemetry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/infra/config"
)

// Provider bundles exporter lifecycles behind a single handle.
type Provider struct {
	tracer *TracerProvider
}

// Attach configures telemetry exporters and returns a provider handle. Tracing
// is optional: without an OTLP endpoint the provider is inert and spans fall
// back to the no-op global tracer.
func Attach(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	provider := &Provider{}

	if cfg.Telemetry.OTLPEndpoint == "" {
		logger.Info("OTLP endpoint not configured, tracing disabled")
		return provider, nil
	}

	tracer, err := NewTracerProvider(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracer provider: %w", err)
	}
	provider.tracer = tracer

	return provider, nil
}

// Shutdown flushes and stops any exporters the provider attached.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracer == nil {
		return nil
	}
	return p.tracer.Shutdown(ctx)
}
