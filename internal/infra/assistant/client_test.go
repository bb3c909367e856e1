package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/infra/config"
)

func TestChatForwardsModeToUpstreamRoute(t *testing.T) {
	var gotPath string
	var gotBody chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode upstream body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			ConversationID: gotBody.ConversationID,
			Reply:          "over here",
			Model:          "local-7b",
			DurationMillis: 42,
		})
	}))
	defer server.Close()

	client, err := NewClient(config.AssistantSettings{BaseURL: server.URL, Timeout: time.Second}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	resp, err := client.Chat(context.Background(), port.AssistantRequest{
		UserID:         "user-1",
		ConversationID: "conv-9",
		Message:        "where is the permit office?",
		Mode:           "react",
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}

	if gotPath != "/v1/chat/react" {
		t.Fatalf("unexpected upstream path: %s", gotPath)
	}
	if gotBody.UserID != "user-1" || gotBody.Message != "where is the permit office?" {
		t.Fatalf("unexpected upstream body: %+v", gotBody)
	}
	if resp.Reply != "over here" || resp.Model != "local-7b" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.DurationMillis != 42 {
		t.Fatalf("unexpected duration: %d", resp.DurationMillis)
	}
}

func TestChatUnknownModeFallsBackToChatRoute(t *testing.T) {
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(chatResponse{Reply: "ok"})
	}))
	defer server.Close()

	client, err := NewClient(config.AssistantSettings{BaseURL: server.URL, Timeout: time.Second}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if _, err := client.Chat(context.Background(), port.AssistantRequest{UserID: "u", Message: "hi", Mode: "mystery"}); err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}

	if gotPath != "/v1/chat" {
		t.Fatalf("unexpected upstream path: %s", gotPath)
	}
}

func TestChatSurfacesUpstreamErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(upstreamError{Error: "model worker crashed"})
	}))
	defer server.Close()

	client, err := NewClient(config.AssistantSettings{BaseURL: server.URL, Timeout: time.Second}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.Chat(context.Background(), port.AssistantRequest{UserID: "u", Message: "hi", Mode: "chat"})
	if err == nil {
		t.Fatal("expected error for upstream 502")
	}
	if got := err.Error(); got != "assistant backend returned 502: model worker crashed" {
		t.Fatalf("unexpected error: %s", got)
	}
}

func TestChatTimesOutAgainstSlowUpstream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(config.AssistantSettings{BaseURL: server.URL, Timeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.Chat(context.Background(), port.AssistantRequest{UserID: "u", Message: "hi", Mode: "chat"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got: %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(config.AssistantSettings{}, nil); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
