package handler

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/booking"
	"github.com/iliyamo/resort-booking/internal/middleware"
	"github.com/iliyamo/resort-booking/internal/model"
)

// BookingHandler exposes the reservation engine to authenticated API
// customers.  Every method assumes JWTAuth and RequireRole already ran;
// the user id comes from the token subject.
type BookingHandler struct {
	Engine   *booking.Engine
	Validate *validator.Validate
	Log      zerolog.Logger
}

// NewBookingHandler panics on a nil engine.
func NewBookingHandler(engine *booking.Engine, log zerolog.Logger) *BookingHandler {
	if engine == nil {
		panic("nil engine passed to NewBookingHandler")
	}
	return &BookingHandler{
		Engine:   engine,
		Validate: validator.New(),
		Log:      log.With().Str("component", "api.bookings").Logger(),
	}
}

// cancelRequest is the optional body of POST /v1/bookings/:id/cancel.
type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Create handles POST /v1/bookings.  The body carries offering_id,
// time_slot_id, participants and optional special_requests.  It returns
// 201 with the pending booking.
func (h *BookingHandler) Create(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req booking.CreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": validationMessage(err)})
	}
	req.UserID = userID
	req.Source = model.SourceWeb

	b, err := h.Engine.Create(c.Request().Context(), req)
	if err != nil {
		return engineError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// List handles GET /v1/bookings, newest first.  ?status= filters by one
// status.
func (h *BookingHandler) List(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var status model.BookingStatus
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		st, err := model.ParseStatus(strings.ToLower(raw))
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		status = st
	}
	list, err := h.Engine.ListBookings(c.Request().Context(), userID, status)
	if err != nil {
		return engineError(c, h.Log, err)
	}
	if list == nil {
		list = []model.BookingDetail{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	d, err := h.Engine.GetBooking(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return engineError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Confirm handles POST /v1/bookings/:id/confirm.
func (h *BookingHandler) Confirm(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, err := h.Engine.Confirm(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return engineError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel handles POST /v1/bookings/:id/cancel.  An empty body is
// accepted; the reason then defaults to the engine's.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body cancelRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
		if err := h.Validate.Struct(body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": validationMessage(err)})
		}
	}
	b, err := h.Engine.Cancel(c.Request().Context(), c.Param("id"), userID, strings.TrimSpace(body.Reason))
	if err != nil {
		return engineError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// validationMessage turns validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}
