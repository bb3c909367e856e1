package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/infra/config"
	"github.com/jjdj0315/localagent-gateway/internal/infra/logger"
)

const defaultTimeout = 60 * time.Second

// modePaths maps an admission mode to the upstream inference route.
var modePaths = map[string]string{
	"chat":     "/v1/chat",
	"react":    "/v1/chat/react",
	"agent":    "/v1/agents/run",
	"workflow": "/v1/workflows/run",
}

// Client forwards assistant calls to the inference service over HTTP. The
// gateway owns admission and auth; the upstream owns everything about the
// model, so replies pass through untouched.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient constructs the upstream client from configuration.
func NewClient(cfg config.AssistantSettings, log *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("assistant base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}, nil
}

type chatRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	Model          string `json:"model,omitempty"`
	DurationMillis int64  `json:"duration_ms,omitempty"`
}

type upstreamError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Chat posts the message to the mode's upstream route and returns the reply.
func (c *Client) Chat(ctx context.Context, req port.AssistantRequest) (*port.AssistantResponse, error) {
	path, ok := modePaths[req.Mode]
	if !ok {
		path = modePaths["chat"]
	}

	body, err := json.Marshal(chatRequest{
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal assistant request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create assistant request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call assistant backend: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read assistant response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var upstream upstreamError
		if err := json.Unmarshal(payload, &upstream); err == nil {
			if msg := firstNonEmpty(upstream.Error, upstream.Detail); msg != "" {
				return nil, fmt.Errorf("assistant backend returned %d: %s", resp.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("assistant backend returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse assistant response: %w", err)
	}

	duration := parsed.DurationMillis
	if duration == 0 {
		duration = time.Since(start).Milliseconds()
	}

	c.logger.Debug("assistant backend call completed",
		zap.String("mode", req.Mode),
		zap.String("path", path),
		zap.Int64("duration_ms", duration),
	)

	return &port.AssistantResponse{
		ConversationID: parsed.ConversationID,
		Reply:          parsed.Reply,
		Model:          parsed.Model,
		DurationMillis: duration,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ port.AssistantBackend = (*Client)(nil)
