// Package validate checks service inputs with struct tags and reports the
// first failure as a validation error.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nail-dp-dev/naildp-realtime/pkg/apperr"
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return val
}

// Struct validates s and returns an apperr validation error describing the
// first failing field.
func Struct(s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return apperr.E(apperr.KindValidation, message(fieldErrs[0]), err)
	}
	return apperr.E(apperr.KindValidation, "invalid input", err)
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s exceeds the maximum of %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", field, strings.ToLower(fe.Param()))
	default:
		return field + " is invalid"
	}
}
