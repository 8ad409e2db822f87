package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/resort-booking/internal/booking"
)

// engineError maps a reservation engine error onto an HTTP response.
// Anything that is not a *booking.Error is an infrastructure failure and
// is logged; its text never reaches the client.
func engineError(c echo.Context, log zerolog.Logger, err error) error {
	var be *booking.Error
	if !errors.As(err, &be) {
		log.Error().Err(err).Str("path", c.Path()).Msg("booking operation failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	switch be.Kind {
	case booking.KindValidation:
		if be.NotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": be.Message})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": be.Message})
	case booking.KindCapacity:
		return c.JSON(http.StatusConflict, echo.Map{"error": be.Message, "available": be.Available})
	case booking.KindAuthorization:
		// foreign and missing bookings look the same
		return c.JSON(http.StatusNotFound, echo.Map{"error": be.Message})
	case booking.KindDeadline:
		return c.JSON(http.StatusConflict, echo.Map{"error": be.Message, "deadline": be.Deadline.UTC().Format(time.RFC3339)})
	case booking.KindPrecondition:
		return c.JSON(http.StatusConflict, echo.Map{"error": be.Message})
	}
	log.Error().Err(err).Msg("unclassified booking error")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
