package config

import (
	"reflect"
	"strings"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

// Validator is implemented by settings structs that need checks beyond
// `required:"true"`. Validate runs after required fields pass. Errors that
// are already *sserr.Error are returned unchanged; others are wrapped with
// [sserr.CodeValidation].
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value, prefix string) error {
	if err := walk(rv, prefix, "", checkRequired); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isSSErr := sserr.AsError(err); isSSErr {
				return err
			}
			return sserr.Wrap(err, sserr.CodeValidation,
				"config: custom validation failed")
		}
	}
	return nil
}

func checkRequired(field reflect.Value, sf reflect.StructField, envKey, path string) error {
	if sf.Tag.Get("required") != "true" || !isEmpty(field) {
		return nil
	}
	if envKey == "" {
		return sserr.Newf(sserr.CodeValidationRequired,
			"config: required field %s is not set", path).WithDetail("field", path)
	}
	return sserr.Newf(sserr.CodeValidationRequired,
		"config: required setting %s (%s) is not set", envKey, path).
		WithDetail("env", envKey).
		WithDetail("field", path)
}

func isEmpty(field reflect.Value) bool {
	if field.Kind() == reflect.String {
		return strings.TrimSpace(field.String()) == ""
	}
	return field.IsZero()
}
