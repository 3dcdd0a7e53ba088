package httpapi

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// validationError wraps a struct validation failure with a field->reason
// map for the response's Details, mirroring how forge.APIError carries a
// single message but the downstream client still wants per-field detail.
type validationError struct {
	fields map[string]string
}

func (v validationError) Error() string { return "validation failed" }

func newValidationError(err error) validationError {
	fields := make(map[string]string)
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields[fe.Field()] = fmt.Sprintf("failed on %q", fe.Tag())
		}
	} else {
		fields["_"] = err.Error()
	}
	return validationError{fields: fields}
}

// bindAndValidate parses c's JSON body into dst and runs struct tag
// validation, returning a validationError on either failure.
func bindAndValidate(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return validationError{fields: map[string]string{"_": "invalid request body"}}
	}
	if err := validate.Struct(dst); err != nil {
		return newValidationError(err)
	}
	return nil
}
