// Package apperr holds the error kinds shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation means the caller sent missing or malformed input.
	ErrValidation = errors.New("validation error")
	// ErrConflict means a transaction lost a race and the retry budget ran out.
	ErrConflict = errors.New("concurrent modification")
	// ErrDependency means the store or an external provider failed.
	ErrDependency = errors.New("dependency failure")
	// ErrRateLimited means the caller must wait before trying again.
	ErrRateLimited = errors.New("rate limited")
)

// Error carries a human message alongside its kind.
type Error struct {
	kind error
	msg  string
	err  error
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) Is(target error) bool {
	return target == e.kind
}

func (e *Error) Unwrap() error {
	return e.err
}

func newf(kind, cause error, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

func NotFoundf(format string, args ...any) error {
	return newf(ErrNotFound, nil, format, args...)
}

func Validationf(format string, args ...any) error {
	return newf(ErrValidation, nil, format, args...)
}

func Conflictf(format string, args ...any) error {
	return newf(ErrConflict, nil, format, args...)
}

func RateLimitedf(format string, args ...any) error {
	return newf(ErrRateLimited, nil, format, args...)
}

// Dependency wraps a store or provider failure, keeping the cause for logs.
func Dependency(cause error, format string, args ...any) error {
	return newf(ErrDependency, cause, format, args...)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
