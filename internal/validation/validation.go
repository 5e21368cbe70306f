package validation

import (
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a validator that understands decimal fields, so numeric tags
// such as gt=0 apply to them directly.
func New() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{}, decimal.NullDecimal{})
	return v
}

func decimalValue(field reflect.Value) any {
	switch val := field.Interface().(type) {
	case decimal.Decimal:
		return val.InexactFloat64()
	case decimal.NullDecimal:
		if !val.Valid {
			return nil
		}
		return val.Decimal.InexactFloat64()
	}
	return nil
}

// Fields maps each failing field to the tag that rejected it.
func Fields(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	errorResponse := make(map[string]string, len(validationErrors))
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}
