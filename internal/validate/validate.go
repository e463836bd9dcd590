// Package validate wraps go-playground/validator for the shopper-supplied
// fields the checkout flow depends on.
package validate

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"storefront/internal/model"
)

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their JSON name so messages match what callers sent.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return v
}

// Email checks a standard address format and returns the trimmed address.
func Email(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", model.NewValidationError("email", "an email address is required")
	}
	if err := instance().Var(email, "required,email,max=254"); err != nil {
		return "", model.NewValidationError("email", "not a valid email address")
	}
	return email, nil
}

// Struct validates a tagged struct and converts the first failure into a
// ValidationError naming the field.
func Struct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return model.NewValidationError(strings.ToLower(fe.Field()), "failed "+fe.Tag()+" check")
	}
	return model.NewValidationError("request", err.Error())
}
