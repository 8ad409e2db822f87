// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/handler"
	"github.com/iliyamo/resort-booking/internal/middleware"
	"github.com/iliyamo/resort-booking/internal/utils"
)

// New returns an Echo instance with the process-wide middleware:
// panic recovery, request ids and access logging.
func New(log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	return e
}

// RegisterRoutes registers the unauthenticated health check.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
}

// RegisterCatalog registers the public browse endpoints.  limit guards
// every route; cache applies to the GETs only, which is all of them.
func RegisterCatalog(e *echo.Echo, h *handler.CatalogHandler, limit, cache echo.MiddlewareFunc) {
	g := e.Group("/v1", limit)
	g.GET("/offerings", h.ListOfferings, cache)
	g.GET("/offerings/:id/slots", h.ListSlots, cache)
	// availability is never cached; it must reflect the live ledger
	g.GET("/slots/:id/availability", h.Availability)
}

// RegisterBookings registers the customer booking API.  Every route
// requires a valid access token with the CUSTOMER role.
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/bookings",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleCustomer),
		limit,
	)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/confirm", h.Confirm)
	g.POST("/:id/cancel", h.Cancel)
}

// RegisterWebhooks registers the chat provider callbacks.  Authentication
// is the provider signature, checked in the handler.
func RegisterWebhooks(e *echo.Echo, h *handler.WebhookHandler, limit echo.MiddlewareFunc) {
	g := e.Group("/webhooks", limit)
	g.GET("/twilio", h.Verify)
	g.POST("/twilio", h.HandleTwilio)
	g.GET("/telegram", h.Verify)
	g.POST("/telegram", h.HandleTelegram)
}

// RegisterAdmin registers operator endpoints behind the admin API key.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, adminKeyHash string) {
	g := e.Group("/v1/admin", middleware.AdminKey(adminKeyHash))
	g.POST("/bookings/:id/complete", h.Complete)
	g.POST("/bookings/:id/no-show", h.NoShow)
	g.POST("/jobs/expire", h.RunExpire)
	g.POST("/jobs/remind", h.RunRemind)
	g.GET("/gateways", h.ListGateways)
}
