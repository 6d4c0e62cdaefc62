package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxQueryLength bounds the user request in runes.
const MaxQueryLength = 4000

var ErrInvalidRequest = errors.New("invalid generation request")

// Validator checks generation requests before any work is done.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// Validate checks the query and options. Failures wrap ErrInvalidRequest.
func (v *Validator) Validate(query string, opts Options) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryLength {
		return fmt.Errorf("%w: query is %d characters, limit is %d", ErrInvalidRequest, n, MaxQueryLength)
	}
	if err := v.v.Struct(opts); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
