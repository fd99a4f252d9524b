package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// amountFields are reported as ErrInvalidAmount rather than a generic failure.
var amountFields = map[string]struct{}{
	"Amount":    {},
	"TotalCost": {},
}

// validateStruct runs struct tags and maps failures onto the ledger error taxonomy.
// Amount failures win over description failures, which win over the rest.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var description, other validator.FieldError
	for _, fe := range verrs {
		if _, ok := amountFields[fe.Field()]; ok {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, fe.Namespace())
		}
		if fe.Field() == "Description" && description == nil {
			description = fe
			continue
		}
		if other == nil {
			other = fe
		}
	}
	if description != nil {
		return ErrEmptyDescription
	}
	return fmt.Errorf("%w: %s failed %q", ErrValidation, other.Namespace(), other.Tag())
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id required", ErrValidation, kind)
	}
	return nil
}

// ValidDate reports whether s is a ledger date.
func ValidDate(s string) bool {
	return validate.Var(s, "datetime=2006-01-02") == nil
}
