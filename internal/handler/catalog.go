package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/booking"
	"github.com/iliyamo/resort-booking/internal/model"
	"github.com/iliyamo/resort-booking/internal/repository"
)

const (
	defaultSlotDays = 7
	maxSlotDays     = 60
	maxSlots        = 200
)

// CatalogHandler serves the public, unauthenticated browse endpoints.
// Responses are safe to cache for a short TTL.
type CatalogHandler struct {
	Catalog repository.Catalog
	Engine  *booking.Engine
	Log     zerolog.Logger
}

// NewCatalogHandler returns the public catalog endpoints.
func NewCatalogHandler(catalog repository.Catalog, engine *booking.Engine, log zerolog.Logger) *CatalogHandler {
	if catalog == nil || engine == nil {
		panic("nil dependency passed to NewCatalogHandler")
	}
	return &CatalogHandler{Catalog: catalog, Engine: engine, Log: log.With().Str("component", "api.catalog").Logger()}
}

// slotView adds the derived free-place count to a slot.
type slotView struct {
	model.TimeSlot
	Available int `json:"available"`
}

// ListOfferings handles GET /v1/offerings.  ?category= narrows the list.
func (h *CatalogHandler) ListOfferings(c echo.Context) error {
	category := strings.ToLower(strings.TrimSpace(c.QueryParam("category")))
	list, err := h.Catalog.ActiveOfferings(c.Request().Context(), category, 0)
	if err != nil {
		h.Log.Error().Err(err).Msg("list offerings")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if list == nil {
		list = []model.Offering{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list})
}

// ListSlots handles GET /v1/offerings/:id/slots.  It returns bookable
// slots starting within ?days= days (default 7, max 60).
func (h *CatalogHandler) ListSlots(c echo.Context) error {
	ctx := c.Request().Context()
	days := defaultSlotDays
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSlotDays {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "days must be between 1 and 60"})
		}
		days = n
	}

	o, err := h.Catalog.Offering(ctx, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !o.IsActive) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "offering not found"})
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("load offering")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	now := h.Engine.Now()
	slots, err := h.Catalog.UpcomingSlots(ctx, o.ID, now, now.Add(time.Duration(days)*24*time.Hour), maxSlots)
	if err != nil {
		h.Log.Error().Err(err).Msg("list slots")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := make([]slotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotView{TimeSlot: s, Available: s.AvailableCapacity()})
	}
	return c.JSON(http.StatusOK, echo.Map{"offering": o, "items": out})
}

// Availability handles GET /v1/slots/:id/availability?participants=n.
// An unknown slot reports unavailable rather than 404, the same answer
// the engine gives.
func (h *CatalogHandler) Availability(c echo.Context) error {
	participants := 1
	if raw := c.QueryParam("participants"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "participants must be a positive integer"})
		}
		participants = n
	}
	ok, available, err := h.Engine.CheckAvailability(c.Request().Context(), c.Param("id"), participants)
	if err != nil {
		return engineError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"slot_id":      c.Param("id"),
		"participants": participants,
		"available":    ok,
		"spots_left":   available,
	})
}
