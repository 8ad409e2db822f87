package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness plus the state of the backing stores.
// Either store may be nil (server --memory, Redis disabled).
type HealthHandler struct {
	DB    *sql.DB
	Redis *redis.Client
}

// Health handles GET /healthz.  It answers 200 "ok" while every
// configured store responds, 503 otherwise.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	if h.DB != nil {
		checks["mysql"] = "ok"
		if err := h.DB.PingContext(ctx); err != nil {
			checks["mysql"] = err.Error()
			healthy = false
		}
	}
	if h.Redis != nil {
		checks["redis"] = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}
	if !healthy {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "checks": checks})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "checks": checks})
}
