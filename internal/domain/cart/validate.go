// internal/domain/cart/validate.go
package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateItem rejects malformed items before they reach any storage
func ValidateItem(op string, item CartItem) error {
	if err := validate.Struct(item); err != nil {
		return NewError(KindValidation, op, item.Key(), describe(err))
	}
	if item.UnitPrice.IsNegative() {
		return Errorf(KindValidation, op, item.Key(), "unitPrice cannot be negative")
	}
	return nil
}

// ValidateKey rejects keys without product or size
func ValidateKey(op string, key Key) error {
	if strings.TrimSpace(key.ProductID) == "" {
		return Errorf(KindValidation, op, key, "productId is required")
	}
	if strings.TrimSpace(key.Size) == "" {
		return Errorf(KindValidation, op, key, "size is required")
	}
	return nil
}

// ValidateQuantity rejects quantities below one
func ValidateQuantity(op string, key Key, quantity int) error {
	if quantity < 1 {
		return Errorf(KindValidation, op, key, "quantity must be at least 1, got %d", quantity)
	}
	return nil
}

func describe(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s %s", jsonName(fe.Field()), message(fe)))
	}
	return errors.New(strings.Join(parts, "; "))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	if field == "ProductID" {
		return "productId"
	}
	return strings.ToLower(field[:1]) + field[1:]
}
