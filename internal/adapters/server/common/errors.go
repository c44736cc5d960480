package common

import (
	"errors"

	"github.com/hylla/taskgate/internal/app"
)

// CodeUnauthenticated is the transport code for ErrUnauthenticated.
const CodeUnauthenticated = "unauthenticated"

// ErrorCode returns the stable code transports render for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrInvalidRequest):
		return app.CodeInvalidInput
	default:
		return app.ErrorCode(err)
	}
}
