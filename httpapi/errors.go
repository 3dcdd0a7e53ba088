package httpapi

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// errUnauthorizedSentinel backs 401 responses. Authentication is an
// ambient HTTP-layer concern the §7 error taxonomy doesn't cover (it
// classifies domain errors, not transport auth failures), so it is kept
// local to this package instead of added to forge.Kind.
var errUnauthorizedSentinel = errors.New("unauthorized")

func errUnauthorized(msg string) error {
	return fmt.Errorf("%s: %w", msg, errUnauthorizedSentinel)
}

// customErrorHandler is installed as fiber.Config.ErrorHandler so panics
// recovered by middleware/recover and routing errors (404 on an unknown
// path, method not allowed) still come back in the same envelope as a
// handler-returned apiError.
func customErrorHandler(c *fiber.Ctx, err error) error {
	if errors.Is(err, errUnauthorizedSentinel) {
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{
			Error: errorDetail{Kind: "unauthorized", Message: err.Error()},
		})
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorResponse{
			Error: errorDetail{Kind: "http_error", Message: fe.Message},
		})
	}

	return apiError(c, err)
}
