// Package api wires the eight client RPCs spec.md §4.1 defines onto a gin
// router, following the teacher's api.Handler/Register shape: one struct
// holding dependencies, one method per route, mounted in a single Router
// call.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/msgcluster/replica/internal/logging"
	"github.com/msgcluster/replica/internal/metrics"
	"github.com/msgcluster/replica/internal/replica"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Handler holds the Core every route delegates to.
type Handler struct {
	core *replica.Core
}

// NewHandler creates a Handler.
func NewHandler(core *replica.Core) *Handler {
	return &Handler{core: core}
}

// Router builds the client-facing gin engine: teacher-style Logger and
// Recovery middleware (adapted to zerolog) plus the eight service routes
// and a Prometheus /metrics endpoint.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(Logger(), Recovery())

	r.POST("/v1/login", h.login)
	r.POST("/v1/users", h.users)
	r.POST("/v1/channel", h.channel)
	r.POST("/v1/channels", h.channels)
	r.POST("/v1/publish", h.publish)
	r.POST("/v1/message", h.message)
	r.POST("/v1/get_history", h.getHistory)
	r.POST("/v1/get_private_history", h.getPrivateHistory)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Logger mirrors the teacher's api.Logger middleware, emitting through
// zerolog instead of the standard log package.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Recovery mirrors the teacher's api.Recovery middleware.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": "erro", "description": "internal server error"})
			}
		}()
		c.Next()
	}
}

// envelope is the common request shape: every call carries the sender's
// Lamport clock, merged before the operation runs (spec.md §4.1).
type envelope struct {
	Clock uint64 `json:"clock"`
}

func (h *Handler) mergeClock(e envelope) {
	h.core.MergeClock(e.Clock)
}

func writeReply(c *gin.Context, service string, r replica.Reply) {
	body := gin.H{
		"status":    r.Status,
		"timestamp": r.Timestamp,
		"clock":     r.Clock,
	}
	if r.Description != "" {
		body["description"] = r.Description
	}
	for k, v := range r.Extra {
		body[k] = v
	}
	metrics.RequestsTotal.WithLabelValues(service, r.Status).Inc()
	c.JSON(http.StatusOK, body)
}

func badRequest(c *gin.Context, service, description string) {
	log.Warn().Str("class", logging.ClassValidation).Str("service", service).Str("description", description).Msg("request rejected")
	metrics.RequestsTotal.WithLabelValues(service, "erro").Inc()
	c.JSON(http.StatusBadRequest, gin.H{"status": "erro", "description": description})
}
