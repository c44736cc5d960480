package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hylla/taskgate/internal/domain"
)

// Error taxonomy. Every classified Service error matches exactly one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidReference  = errors.New("invalid reference")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTransient         = errors.New("transient failure")
	ErrConflict          = errors.New("conflict")
)

// Stable error codes shared by metrics and transports.
const (
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
	CodeInvalidInput      = "invalid_input"
	CodeInvalidReference  = "invalid_reference"
	CodeInvalidTransition = "invalid_transition"
	CodeTransient         = "transient"
	CodeConflict          = "conflict"
	CodeInternal          = "internal"
)

var taxonomy = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrForbidden, CodeForbidden},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrInvalidReference, CodeInvalidReference},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrTransient, CodeTransient},
	{ErrConflict, CodeConflict},
}

var (
	forbiddenCauses = []error{
		domain.ErrTaskClosed,
		domain.ErrPrincipalInactive,
		domain.ErrPrincipalNotAllowed,
		domain.ErrPlanReadOnly,
		domain.ErrStagedPlanPending,
		domain.ErrStalePlan,
	}
	invalidInputCauses = []error{
		domain.ErrInvalidID,
		domain.ErrInvalidName,
		domain.ErrInvalidDescription,
		domain.ErrInvalidAcronym,
		domain.ErrInvalidPlanName,
		domain.ErrInvalidDateRange,
		domain.ErrInvalidDate,
		domain.ErrInvalidUsername,
		domain.ErrInvalidGroup,
		domain.ErrInvalidState,
		domain.ErrInvalidGate,
		domain.ErrInvalidNote,
		domain.ErrInvalidCounter,
		domain.ErrPlanRequired,
		domain.ErrPlanOverrideDenied,
	}
)

// ErrorCode returns the taxonomy code for err, or CodeInternal when err is unclassified.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range taxonomy {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// classify wraps a domain or context cause with its taxonomy sentinel.
func classify(err error) error {
	if err == nil || ErrorCode(err) != CodeInternal {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	case errors.Is(err, domain.ErrIllegalEdge):
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	case isAny(err, forbiddenCauses):
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case isAny(err, invalidInputCauses):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return err
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
