package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jjdj0315/localagent-gateway/internal/core/domain"
	"github.com/jjdj0315/localagent-gateway/internal/core/port"
	"github.com/jjdj0315/localagent-gateway/internal/usecase"
)

// AdmissionGuard sheds assistant traffic once a class's slots are occupied.
// Queueing would only move the wait into the HTTP layer while the model
// remains the bottleneck, so surplus requests are rejected immediately.
type AdmissionGuard struct {
	controller *usecase.AdmissionController
	events     port.EventPublisher
	logger     *zap.Logger
	metrics    *PipelineMetrics
	now        func() time.Time
}

// NewAdmissionGuard builds the middleware helper around a controller.
func NewAdmissionGuard(controller *usecase.AdmissionController, logger *zap.Logger) *AdmissionGuard {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdmissionGuard{
		controller: controller,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents wires best-effort rejection event publishing.
func (g *AdmissionGuard) WithEvents(events port.EventPublisher) *AdmissionGuard {
	g.events = events
	return g
}

// WithMetrics wires the pipeline rejection and occupancy collectors.
func (g *AdmissionGuard) WithMetrics(metrics *PipelineMetrics) *AdmissionGuard {
	g.metrics = metrics
	return g
}

// Guard returns middleware that admits the request into the class or sheds it
// with 503. The slot is released when the handler returns, including on
// panic: the deferred release runs before the recovery middleware unwinds.
func (g *AdmissionGuard) Guard(class usecase.AdmissionClass) gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.controller == nil {
			c.Next()
			return
		}

		slot, err := g.controller.TryEnter(class)
		if err != nil {
			if errors.Is(err, usecase.ErrAdmissionFull) {
				g.shed(c, class)
				return
			}
			g.logger.Error("admission check failed", zap.String("class", string(class)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				newErrorResponse(c, "admission check failed"))
			return
		}

		defer func() {
			slot.Release()
			g.metrics.SetAdmissionActive(string(class), g.controller.Active(class))
		}()
		g.metrics.SetAdmissionActive(string(class), g.controller.Active(class))

		c.Next()
	}
}

func (g *AdmissionGuard) shed(c *gin.Context, class usecase.AdmissionClass) {
	userID, _ := GetAuthenticatedUserID(c)

	g.logger.Warn("assistant request shed",
		zap.String("class", string(class)),
		zap.Int("capacity", g.controller.Capacity(class)),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", userID),
	)
	g.metrics.RecordRejection("admission", string(class))

	if g.events != nil {
		event := domain.AdmissionRejectedEvent{
			EventID:    uuid.NewString(),
			Class:      string(class),
			Capacity:   g.controller.Capacity(class),
			Path:       c.Request.URL.Path,
			UserID:     userID,
			RejectedAt: g.now(),
		}
		if err := g.events.PublishAdmissionRejected(c.Request.Context(), event); err != nil {
			g.logger.Warn("publish admission rejected event failed", zap.Error(err))
		}
	}

	c.AbortWithStatusJSON(http.StatusServiceUnavailable,
		newErrorResponse(c, "assistant is at capacity, retry shortly"))
}
