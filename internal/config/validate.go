package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance that reports fields by their
// YAML keys.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateStruct(value any) error {
	if err := validate.Struct(value); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error keyed by its YAML path.
	for _, e := range validationErrs {
		field := yamlPath(e.Namespace())
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s], got %v", field, param, e.Value())
		case "gt", "gte":
			return fmt.Errorf("%s: must be %s %s, got %v", field, comparison(e.Tag()), param, e.Value())
		case "lt", "lte":
			return fmt.Errorf("%s: must be %s %s, got %v", field, comparison(e.Tag()), param, e.Value())
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}

// yamlPath drops the root struct name from a validator namespace.
func yamlPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func comparison(tag string) string {
	switch tag {
	case "gt":
		return ">"
	case "gte":
		return ">="
	case "lt":
		return "<"
	default:
		return "<="
	}
}
