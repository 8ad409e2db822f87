package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/booking"
	"github.com/iliyamo/resort-booking/internal/jobs"
	"github.com/iliyamo/resort-booking/internal/messaging"
	"github.com/iliyamo/resort-booking/internal/notify"
)

// AdminHandler serves operator endpoints guarded by the admin key:
// post-visit status changes and one-off job runs.
type AdminHandler struct {
	Engine    *booking.Engine
	Notifier  notify.Notifier
	Gateways  messaging.Set
	BatchSize int
	Log       zerolog.Logger
}

// NewAdminHandler returns the operator endpoints.  batchSize bounds the
// jobs run on demand.
func NewAdminHandler(engine *booking.Engine, notifier notify.Notifier, gateways messaging.Set, batchSize int, log zerolog.Logger) *AdminHandler {
	if engine == nil {
		panic("nil engine passed to NewAdminHandler")
	}
	if notifier == nil {
		notifier = notify.Discard
	}
	return &AdminHandler{
		Engine:    engine,
		Notifier:  notifier,
		Gateways:  gateways,
		BatchSize: batchSize,
		Log:       log.With().Str("component", "api.admin").Logger(),
	}
}

// Complete handles POST /v1/admin/bookings/:id/complete.
func (h *AdminHandler) Complete(c echo.Context) error {
	b, err := h.Engine.MarkCompleted(c.Request().Context(), c.Param("id"))
	if err != nil {
		return engineError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// NoShow handles POST /v1/admin/bookings/:id/no-show.
func (h *AdminHandler) NoShow(c echo.Context) error {
	b, err := h.Engine.MarkNoShow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return engineError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// RunExpire handles POST /v1/admin/jobs/expire: one sweep, result as JSON.
func (h *AdminHandler) RunExpire(c echo.Context) error {
	s := &jobs.Sweeper{Engine: h.Engine, BatchSize: h.BatchSize, Log: h.Log, Now: h.Engine.Now}
	return h.run(c, s)
}

// RunRemind handles POST /v1/admin/jobs/remind?horizon=far|near.
func (h *AdminHandler) RunRemind(c echo.Context) error {
	raw := c.QueryParam("horizon")
	if raw == "" {
		raw = "far"
	}
	hz, err := jobs.ParseHorizon(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	r := &jobs.Reminder{
		Engine:    h.Engine,
		Notifier:  h.Notifier,
		Horizon:   hz,
		BatchSize: h.BatchSize,
		Log:       h.Log,
		Now:       h.Engine.Now,
	}
	return h.run(c, r)
}

func (h *AdminHandler) run(c echo.Context, job jobs.Runner) error {
	res, err := job.Run(c.Request().Context())
	if err != nil {
		h.Log.Error().Err(err).Str("job", job.Name()).Msg("admin job run failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "job failed", "job": job.Name()})
	}
	return c.JSON(http.StatusOK, res)
}

// ListGateways handles GET /v1/admin/gateways.  Each configured channel maps
// to "ok" or the credential check error.
func (h *AdminHandler) ListGateways(c echo.Context) error {
	out := map[string]string{}
	for name, err := range h.Gateways.Validate(c.Request().Context()) {
		if err != nil {
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"gateways": out})
}
