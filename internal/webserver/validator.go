package webserver

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/keyshop/internal/domain"
)

// Validator adapts go-playground/validator to echo. Field names in errors
// follow the json tags.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

func (v *Validator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.SplitN(fe.Namespace(), ".", 2)
		name := fe.Field()
		if len(field) == 2 {
			name = field[1]
		}
		return domain.NewValidationError(name, "failed on the '%s' rule", fe.Tag())
	}
	return err
}

// BindAndValidate decodes the request into payload and validates it.
// Every failure is a domain ValidationError.
func BindAndValidate(c echo.Context, payload interface{}) error {
	if err := c.Bind(payload); err != nil {
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg = toString(he.Message)
		}
		return domain.NewValidationError("", "%s", msg)
	}
	return c.Validate(payload)
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "invalid request"
}
