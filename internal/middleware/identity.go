package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	userIDKey = "user_id"
	roleKey   = "role"
	senderKey = "sender"
)

// UserID returns the authenticated user id stored by JWTAuth, or "" when
// the request is anonymous.
func UserID(c echo.Context) string {
	s, _ := c.Get(userIDKey).(string)
	return s
}

// SetSender records the chat sender of a webhook request so rate limiting
// can key on it.
func SetSender(c echo.Context, sender string) {
	c.Set(senderKey, sender)
}

// sender returns the webhook sender: an explicit SetSender value, else the
// Twilio "From" form field.  Bodies of other content types are left
// unread.
func sender(c echo.Context) string {
	if s, ok := c.Get(senderKey).(string); ok && s != "" {
		return s
	}
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ct, echo.MIMEApplicationForm) {
		return c.FormValue("From")
	}
	return ""
}
