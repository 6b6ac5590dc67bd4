// Package httpapi exposes the notification service over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notification-hub/shared/pkg/app"
)

const requestTimeout = 5 * time.Second

// Service is the part of app.Service the HTTP surface uses.
type Service interface {
	Send(ctx context.Context, cmd app.SendCommand) (string, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (app.NotificationView, error)
	GetByStatus(ctx context.Context, status string) ([]app.NotificationView, error)
	GetByRecipient(ctx context.Context, address string) ([]app.NotificationView, error)
	GetFailedForRetry(ctx context.Context) ([]app.NotificationView, error)
	GetStats(ctx context.Context) (app.Stats, error)

	CreateTemplate(ctx context.Context, cmd app.CreateTemplateCommand) (string, error)
	GetTemplate(ctx context.Context, id string) (app.TemplateView, error)
	ListActiveTemplates(ctx context.Context) ([]app.TemplateView, error)
	UpdateTemplate(ctx context.Context, id string, cmd app.UpdateTemplateCommand) error
	SetTemplateActive(ctx context.Context, id string, active bool) error
}

var _ Service = (*app.Service)(nil)

type Handler struct {
	svc Service
	log *zap.Logger
}

func NewHandler(svc Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// Send handles POST /api/notifications
func (h *Handler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	id, err := h.svc.Send(ctx, req.command())
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, idResponse{ID: id})
	case id != "":
		h.accepted(c, id, err)
	default:
		h.writeError(c, err)
	}
}

// accepted answers 202 when the change was saved but its message was not
// published; the reconcile sweep publishes it later.
func (h *Handler) accepted(c *gin.Context, id string, err error) {
	h.log.Warn("saved but not published", zap.String("notification_id", id), zap.Error(err))
	c.JSON(http.StatusAccepted, acceptedResponse{ID: id, Error: toErrorResponse(err)})
}

// GetByID handles GET /api/notifications/:id
func (h *Handler) GetByID(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	view, err := h.svc.GetByID(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// List handles GET /api/notifications?recipient=...
func (h *Handler) List(c *gin.Context) {
	recipient := c.Query("recipient")
	if recipient == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Code: "invalid_input", Message: "recipient query parameter is required"})
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	views, err := h.svc.GetByRecipient(ctx, recipient)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// GetByStatus handles GET /api/notifications/status/:status
func (h *Handler) GetByStatus(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	views, err := h.svc.GetByStatus(ctx, c.Param("status"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// Retryable handles GET /api/notifications/retryable
func (h *Handler) Retryable(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	views, err := h.svc.GetFailedForRetry(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// Stats handles GET /api/notifications/stats
func (h *Handler) Stats(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	stats, err := h.svc.GetStats(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Cancel handles POST /api/notifications/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	h.command(c, func(ctx context.Context, id string) error { return h.svc.Cancel(ctx, id) })
}

// Retry handles POST /api/notifications/:id/retry
func (h *Handler) Retry(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	id := c.Param("id")
	err := h.svc.Retry(ctx, id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, idResponse{ID: id})
	case app.IsPublishFailed(err):
		h.accepted(c, id, err)
	default:
		h.writeError(c, err)
	}
}

func (h *Handler) command(c *gin.Context, run func(ctx context.Context, id string) error) {
	ctx, cancel := requestContext(c)
	defer cancel()
	id := c.Param("id")
	if err := run(ctx, id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, idResponse{ID: id})
}

// CreateTemplate handles POST /api/templates
func (h *Handler) CreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	id, err := h.svc.CreateTemplate(ctx, app.CreateTemplateCommand{
		Name:            req.Name,
		SubjectTemplate: req.SubjectTemplate,
		BodyTemplate:    req.BodyTemplate,
		Channel:         req.Channel,
		IsHTML:          req.IsHTML,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, idResponse{ID: id})
}

// ListTemplates handles GET /api/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	views, err := h.svc.ListActiveTemplates(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// GetTemplate handles GET /api/templates/:id
func (h *Handler) GetTemplate(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	view, err := h.svc.GetTemplate(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateTemplate handles PUT /api/templates/:id
func (h *Handler) UpdateTemplate(c *gin.Context) {
	var req updateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.command(c, func(ctx context.Context, id string) error {
		return h.svc.UpdateTemplate(ctx, id, app.UpdateTemplateCommand{
			Name:            req.Name,
			SubjectTemplate: req.SubjectTemplate,
			BodyTemplate:    req.BodyTemplate,
			IsHTML:          req.IsHTML,
		})
	})
}

// ActivateTemplate handles POST /api/templates/:id/activate
func (h *Handler) ActivateTemplate(c *gin.Context) {
	h.command(c, func(ctx context.Context, id string) error { return h.svc.SetTemplateActive(ctx, id, true) })
}

// DeactivateTemplate handles POST /api/templates/:id/deactivate
func (h *Handler) DeactivateTemplate(c *gin.Context) {
	h.command(c, func(ctx context.Context, id string) error { return h.svc.SetTemplateActive(ctx, id, false) })
}
