package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// errorResponse is the JSON shape every failed request gets, tagged with
// the §7 error Kind so clients can dispatch on it without string-matching.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func apiError(c *fiber.Ctx, err error) error {
	var ve validationError
	if errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error: errorDetail{Kind: string(forge.KindMissingParameter), Message: "validation failed", Details: ve.fields},
		})
	}

	apiErr := forge.NewAPIError(err)
	return c.Status(apiErr.Kind.HTTPStatus()).JSON(errorResponse{
		Error: errorDetail{Kind: string(apiErr.Kind), Message: apiErr.Message},
	})
}

func ok(c *fiber.Ctx, body interface{}) error {
	return c.JSON(body)
}

func created(c *fiber.Ctx, body interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(body)
}
