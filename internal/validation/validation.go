package validation

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"carinsure/internal/errors"
)

// Enum is implemented by closed string enums such as model.PolicyStatus.
type Enum interface {
	Valid() bool
}

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator. Field names in errors follow the
// json tag of the field, and the "enum" tag checks Enum.Valid.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("query"), ",", 2)[0]
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
			e, ok := fl.Field().Interface().(Enum)
			return ok && e.Valid()
		})
		instance = v
	})
	return instance
}

// Struct validates s and converts failures to *errors.ValidationError.
func Struct(s interface{}) error {
	return Convert(Validator().Struct(s))
}

// Convert turns validator output into *errors.ValidationError. Other errors
// pass through unchanged.
func Convert(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return err
	}
	out := &errors.ValidationError{}
	for _, fe := range fieldErrs {
		out.Add(fe.Field(), message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "enum":
		return "has an unsupported value"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "uuid":
		return "must be a valid UUID"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
