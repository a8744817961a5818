// Package validate checks user provided credentials before they reach storage
package validate

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/gophauth/internal/apperrors"
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
	return v
}

// Password is kept as bytes so its length is counted in bytes, not runes
type credentials struct {
	Username string `validate:"min=3,max=64,username"`
	Password []byte `validate:"min=8,max=128"`
}

// Check username and password shape
// Returned error wraps apperrors.ErrValidation
func Credentials(username string, password string) error {
	return wrap(validate.Struct(credentials{Username: username, Password: []byte(password)}))
}

// Check password shape only
func Password(password string) error {
	return wrap(validate.StructPartial(credentials{Password: []byte(password)}, "Password"))
}

func wrap(err error) error {
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		e := errs[0]
		return fmt.Errorf("%w: %s failed on '%s' rule", apperrors.ErrValidation, e.Field(), e.Tag())
	}
	return fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
}
