package middleware

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var setupValidatorOnce sync.Once

// SetupValidator makes gin's validator report JSON field names
func SetupValidator() {
	setupValidatorOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(func(fld reflect.StructField) string {
				name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
				if name == "-" {
					return ""
				}
				return name
			})
		}
	})
}

// FieldErrors converts binding validation errors into field errors.
// It returns nil for anything that is not a validator error, such as malformed JSON.
func FieldErrors(err error) []fulfillment.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make([]fulfillment.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fulfillment.FieldError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: validationMessage(fe),
		})
	}
	return details
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return "Must be at most " + e.Param() + " characters"
	case "oneof":
		return "Must be one of: " + e.Param()
	default:
		return "Failed on the '" + e.Tag() + "' rule"
	}
}
