package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateSale checks a sale request at the boundary, before any write.
func ValidateSale(req SaleRequest) error {
	if len(req.Cart) == 0 {
		return ErrEmptyCart
	}

	fields, err := structFields(req)
	if err != nil {
		return fmt.Errorf("validate sale: %w", err)
	}

	if req.DiscountRate.IsNegative() || req.DiscountRate.GreaterThan(hundred) {
		fields = append(fields, FieldError{Field: "discount_rate", Message: "must be between 0 and 100"})
	}
	for i, l := range req.Cart {
		if l.UnitPrice.IsNegative() {
			fields = append(fields, FieldError{Field: fmt.Sprintf("cart[%d].unit_price", i), Message: "must not be negative"})
		} else if !hasCents(l.UnitPrice) {
			fields = append(fields, FieldError{Field: fmt.Sprintf("cart[%d].unit_price", i), Message: "at most two decimals"})
		}
	}
	if req.Tier != "" && !req.Tier.Valid() {
		fields = append(fields, FieldError{Field: "tier", Message: "unknown tier"})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ValidateStruct runs the validate tags of v and reports failures as
// *ValidationError with JSON field paths.
func ValidateStruct(v any) error {
	fields, err := structFields(v)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func structFields(v any) ([]FieldError, error) {
	err := validate.Struct(v)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: "failed " + fe.Tag(),
		})
	}
	return fields, nil
}

// ValidateNeeds rejects negative replenishment needs.
func ValidateNeeds(needs map[ItemID]int) error {
	var fields []FieldError
	for item, n := range needs {
		if item <= 0 {
			fields = append(fields, FieldError{Field: fmt.Sprintf("need[%d]", item), Message: "item id must be positive"})
		}
		if n < 0 {
			fields = append(fields, FieldError{Field: fmt.Sprintf("need[%d]", item), Message: "must not be negative"})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func fieldPath(ns string) string {
	// "SaleRequest.cart[0].quantity" -> "cart[0].quantity"
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// Money parses a decimal from user input.
func Money(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q", ErrInvalidRequest, s)
	}
	return d, nil
}
