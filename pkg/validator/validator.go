// Package validator wraps go-playground/validator with translated,
// JSON-renderable error output. It satisfies echo.Validator so request
// structs can be checked with c.Validate.
package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

var (
	once     sync.Once
	instance *CustomValidator
)

type CustomValidator struct {
	uni       *ut.UniversalTranslator
	validator *validator.Validate
}

func New() (*CustomValidator, error) {
	locale := en.New()
	uni := ut.New(locale, locale)
	validate := validator.New(
		validator.WithRequiredStructEnabled(),
	)

	// Report fields under their wire names so error maps line up with
	// the JSON the caller actually sent.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	trans, _ := uni.GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, fmt.Errorf("failed to register translations: %w", err)
	}

	return &CustomValidator{
		uni:       uni,
		validator: validate,
	}, nil
}

// Default returns the process-wide shared instance, building it on first
// use. Construction only fails if translation registration breaks, which
// is a programming error, so Default panics instead of returning one.
func Default() *CustomValidator {
	once.Do(func() {
		var err error
		instance, err = New()
		if err != nil {
			panic(fmt.Sprintf("failed to create validator: %v", err))
		}
	})
	return instance
}

// FieldErrors maps wire field names to translated validation messages.
type FieldErrors map[string]string

// Error is returned when struct validation fails. Transport layers render
// Fields directly; Error() falls back to a JSON rendering of the same map.
type Error struct {
	Fields FieldErrors
}

func (e *Error) Error() string {
	text, err := sonic.Marshal(e.Fields)
	if err != nil {
		return "validation failed"
	}
	return string(text)
}

func (cv *CustomValidator) Validate(i interface{}) error {
	err := cv.validator.Struct(i)
	if valErr, ok := err.(validator.ValidationErrors); ok {
		trans, _ := cv.uni.GetTranslator("en")
		fields := make(FieldErrors, len(valErr))
		for key, msg := range valErr.Translate(trans) {
			// Translate keys by namespace ("TokenRequest.operator_key");
			// keep only the leaf for the response body.
			if idx := strings.LastIndex(key, "."); idx >= 0 {
				key = key[idx+1:]
			}
			fields[key] = msg
		}
		return &Error{Fields: fields}
	}
	return err
}

// Validate checks i against its struct tags using the shared instance.
func Validate(i any) error {
	return Default().Validate(i)
}
