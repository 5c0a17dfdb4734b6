package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/requestid"
)

// kindStatus maps error kinds to HTTP status codes. Conflicts are reported
// as 400 to match the established timer API.
var kindStatus = map[perrors.Kind]int{
	perrors.KindValidation:   fiber.StatusBadRequest,
	perrors.KindConflict:     fiber.StatusBadRequest,
	perrors.KindNotFound:     fiber.StatusNotFound,
	perrors.KindForbidden:    fiber.StatusForbidden,
	perrors.KindUnauthorized: fiber.StatusUnauthorized,
	perrors.KindInternal:     fiber.StatusInternalServerError,
}

var kindTitle = map[perrors.Kind]string{
	perrors.KindValidation:   "Bad Request",
	perrors.KindConflict:     "Conflict",
	perrors.KindNotFound:     "Not Found",
	perrors.KindForbidden:    "Forbidden",
	perrors.KindUnauthorized: "Unauthorized",
	perrors.KindInternal:     "Internal Server Error",
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			kind := perrors.KindInternal
			switch fe.Code {
			case fiber.StatusNotFound:
				kind = perrors.KindNotFound
			case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity, fiber.StatusRequestEntityTooLarge:
				kind = perrors.KindValidation
			case fiber.StatusMethodNotAllowed:
				return problemResponse(c, fe.Code, "method_not_allowed", "Method Not Allowed", fe.Message)
			}
			return problemResponse(c, fe.Code, string(kind), kindTitle[kind], fe.Message)
		}

		kind := perrors.KindOf(err)
		status := kindStatus[kind]

		if kind == perrors.KindInternal {
			logger.Error().
				Err(err).
				Int("status", status).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Str("request_id", requestid.FromFiber(c)).
				Msg("unhandled error")

			// Don't leak internal details
			return problemResponse(c, status, string(kind), kindTitle[kind], "An internal error occurred")
		}

		p := ProblemDetail{
			Type:     string(kind),
			Title:    kindTitle[kind],
			Status:   status,
			Detail:   err.Error(),
			Instance: c.Path(),
		}
		var pe *perrors.Error
		if errors.As(err, &pe) {
			p.Detail = pe.Message
			p.Details = pe.Details
		}
		return c.Status(status).JSON(p)
	}
}
