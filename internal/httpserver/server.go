package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copygrid/trade-relay/internal/auth"
	"github.com/copygrid/trade-relay/internal/config"
	"github.com/copygrid/trade-relay/internal/handlers"
	"github.com/copygrid/trade-relay/internal/relay"
)

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics
// Master-authenticated: /v1/push
// Slave-authenticated: /v1/events, /v1/ack, /v1/slaves
func NewRouter(cfg config.Config, core *relay.Core, st relay.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	handlers.RegisterHealthRoutes(r, core)

	// Readiness: confirms the storage dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	masterGroup := r.Group("/")
	masterGroup.Use(auth.MasterMiddleware(cfg.MasterKeys))
	handlers.RegisterPushRoutes(masterGroup, core)

	slaveGroup := r.Group("/")
	slaveGroup.Use(auth.SlaveMiddleware(cfg.SlaveKeys))
	handlers.RegisterPollRoutes(slaveGroup, core, handlers.PollLimits{
		Default: cfg.PollDefaultLimit,
		Max:     cfg.PollMaxLimit,
	})
	handlers.RegisterAckRoutes(slaveGroup, core)

	return r
}

// requestLogger logs each request with a correlation id, latency and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Header("X-Request-Id", reqID)

		c.Next()

		slog.Info("request",
			"id", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
