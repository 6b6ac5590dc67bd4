package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notification-hub/shared/pkg/metrics"
)

// NewRouter wires every route onto a new gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log), prometheusMiddleware())

	// CORS dev
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AllowHeaders = []string{"Content-Type", "Authorization"}
	c.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	r.Use(cors.New(c))

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	n := api.Group("/notifications")
	n.POST("", h.Send)
	n.GET("", h.List)
	n.GET("/stats", h.Stats)
	n.GET("/retryable", h.Retryable)
	n.GET("/status/:status", h.GetByStatus)
	n.GET("/:id", h.GetByID)
	n.POST("/:id/cancel", h.Cancel)
	n.POST("/:id/retry", h.Retry)

	t := api.Group("/templates")
	t.POST("", h.CreateTemplate)
	t.GET("", h.ListTemplates)
	t.GET("/:id", h.GetTemplate)
	t.PUT("/:id", h.UpdateTemplate)
	t.POST("/:id/activate", h.ActivateTemplate)
	t.POST("/:id/deactivate", h.DeactivateTemplate)

	return r
}

// prometheusMiddleware records request duration by route pattern.
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/health" || c.FullPath() == "/metrics" {
			return
		}
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
