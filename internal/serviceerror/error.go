// Package serviceerror carries stable "<operation>.<reason>" codes from the
// storage services to the HTTP layer.
package serviceerror

import (
	"errors"
	"fmt"
)

// Error wraps a cause with a machine-readable code.
type Error struct {
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *Error) Code() string {
	return e.code
}

// New builds an Error for the operation and reason.
func New(operation, reason string, cause error) error {
	return &Error{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// CodeOf extracts the code of the first Error in the chain.
func CodeOf(err error) (string, bool) {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.Code(), true
	}
	return "", false
}
