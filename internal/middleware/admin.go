package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/resort-booking/internal/utils"
)

// AdminKeyHeader carries the plain admin API key.
const AdminKeyHeader = "X-Admin-Key"

// AdminKey guards operator endpoints with a shared key compared against
// its bcrypt hash.  With no hash configured the admin API is disabled.
func AdminKey(hash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if hash == "" {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "admin API disabled"})
			}
			if !utils.VerifyAPIKey(hash, c.Request().Header.Get(AdminKeyHeader)) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid admin key"})
			}
			c.Set(roleKey, "ADMIN")
			return next(c)
		}
	}
}
