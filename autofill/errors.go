package autofill

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is matched by every *ParseError.
	ErrParse = errors.New("autofill: malformed request")
	// ErrValidation is returned for a store request with nothing to store.
	ErrValidation = errors.New("autofill: blank username and password")
	// ErrResolverInvariant is returned when an action sequence both prompts and updates.
	ErrResolverInvariant = errors.New("autofill: conflicting prompt and update actions")
)

// ParseError describes why request text could not be decoded.
type ParseError struct {
	// Kind is the request kind being parsed ("getAutofillData", "storeFormData", ...).
	Kind string
	// Field is the offending member, empty for structural errors.
	Field string
	// Err is the underlying decoder error, if any.
	Err error
}

func (e *ParseError) Error() string {
	msg := "autofill: malformed " + e.Kind + " request"
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}
