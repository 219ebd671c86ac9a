package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aisha-bot/aisha-backend/internal/http/middleware"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status string    `json:"status" example:"healthy"`
	Time   time.Time `json:"time"`
}

// ReadyResponse reports each dependency; values are "ok" or the error text.
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks"`
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Probes
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{Status: "healthy", Time: h.now().UTC()})
}

// Ready godoc
// @ID          ready
// @Summary     Readiness probe
// @Description Pings the database and Redis; 503 when any of them is down.
// @Tags        Probes
// @Produce     json
// @Success     200  {object}  handlers.ReadyResponse
// @Failure     503  {object}  handlers.ReadyResponse
// @Router      /ready [get]
func (h *Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("check", name).Msg("readiness check failed")
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	c.JSON(status, resp)
}
