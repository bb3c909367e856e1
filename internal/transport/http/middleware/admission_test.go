package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/usecase"
)

type recordingPublisher struct {
	mu       sync.Mutex
	rejected []domain.AdmissionRejectedEvent
}

func (p *recordingPublisher) PublishSessionCreated(context.Context, domain.SessionCreatedEvent) error {
	return nil
}

func (p *recordingPublisher) PublishSessionEvicted(context.Context, domain.SessionEvictedEvent) error {
	return nil
}

func (p *recordingPublisher) PublishSessionRevoked(context.Context, domain.SessionRevokedEvent) error {
	return nil
}

func (p *recordingPublisher) PublishSessionsPurged(context.Context, domain.SessionsPurgedEvent) error {
	return nil
}

func (p *recordingPublisher) PublishAdmissionRejected(_ context.Context, event domain.AdmissionRejectedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected = append(p.rejected, event)
	return nil
}

func (p *recordingPublisher) rejectedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rejected)
}

func TestAdmissionGuardShedsWhileSlotHeld(t *testing.T) {
	gin.SetMode(gin.TestMode)

	controller := usecase.NewAdmissionController(map[usecase.AdmissionClass]int{
		usecase.AdmissionClassAgent: 1,
	}, zaptest.NewLogger(t))

	publisher := &recordingPublisher{}
	guard := NewAdmissionGuard(controller, zaptest.NewLogger(t)).WithEvents(publisher)

	entered := make(chan struct{})
	release := make(chan struct{})

	router := gin.New()
	router.POST("/api/v1/assistant/agents", guard.Guard(usecase.AdmissionClassAgent), func(c *gin.Context) {
		close(entered)
		<-release
		c.Status(http.StatusOK)
	})

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant/agents", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		firstDone <- rr
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first request never reached the handler")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant/agents", nil)
	shed := httptest.NewRecorder()
	router.ServeHTTP(shed, req)

	if shed.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while slot held, got %d", shed.Code)
	}
	if publisher.rejectedCount() != 1 {
		t.Fatalf("expected one rejection event, got %d", publisher.rejectedCount())
	}

	close(release)

	select {
	case rr := <-firstDone:
		if rr.Code != http.StatusOK {
			t.Fatalf("expected first request to succeed, got %d", rr.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first request never completed")
	}

	// Slot released: the next request is admitted again.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/assistant/agents", nil)
	after := httptest.NewRecorder()
	router.ServeHTTP(after, req)

	if after.Code != http.StatusOK {
		t.Fatalf("expected 200 after slot release, got %d", after.Code)
	}
	if got := controller.Active(usecase.AdmissionClassAgent); got != 0 {
		t.Fatalf("expected no active slots after completion, got %d", got)
	}
}

func TestAdmissionGuardReleasesSlotOnPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	controller := usecase.NewAdmissionController(map[usecase.AdmissionClass]int{
		usecase.AdmissionClassReAct: 1,
	}, zaptest.NewLogger(t))

	guard := NewAdmissionGuard(controller, zaptest.NewLogger(t))

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/api/v1/assistant/chat/react", guard.Guard(usecase.AdmissionClassReAct), func(c *gin.Context) {
		panic("backend exploded")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant/chat/react", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from recovery, got %d", rr.Code)
	}
	if got := controller.Active(usecase.AdmissionClassReAct); got != 0 {
		t.Fatalf("expected slot released after panic, got %d active", got)
	}
}

func TestAdmissionGuardPassesThroughWithoutController(t *testing.T) {
	gin.SetMode(gin.TestMode)

	guard := NewAdmissionGuard(nil, zaptest.NewLogger(t))

	router := gin.New()
	router.POST("/api/v1/assistant/chat/react", guard.Guard(usecase.AdmissionClassReAct), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assistant/chat/react", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 without controller, got %d", rr.Code)
	}
}
