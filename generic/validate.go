package generic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level singleton validator. Custom registrations
// must happen in init() before the first call to ValidateStruct.
var validate = validator.New()

// ValidateStruct checks the struct's `validate` tags and reports every
// failing field as a single InvalidInputError.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make([]string, 0, len(ve))
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fe.Field())
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
	}
	return NewInvalidInput(strings.Join(fields, ","), strings.Join(msgs, "; "))
}
