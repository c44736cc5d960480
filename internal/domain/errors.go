package domain

import "errors"

var (
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidDescription = errors.New("invalid description")
	ErrInvalidAcronym     = errors.New("invalid application acronym")
	ErrInvalidPlanName    = errors.New("invalid plan name")
	ErrInvalidDateRange   = errors.New("invalid date range")
	ErrInvalidDate        = errors.New("invalid date")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidGroup       = errors.New("invalid group")
	ErrInvalidState       = errors.New("invalid workflow state")
	ErrInvalidGate        = errors.New("invalid gate")
	ErrInvalidNote        = errors.New("invalid note")
	ErrInvalidCounter     = errors.New("invalid task counter")
)

// Workflow rule violations.
var (
	ErrIllegalEdge         = errors.New("no edge between states")
	ErrTaskClosed          = errors.New("task is closed")
	ErrPlanRequired        = errors.New("a plan is required to release the task")
	ErrPlanReadOnly        = errors.New("plan is read-only in the current state")
	ErrPlanOverrideDenied  = errors.New("plan override not accepted on this edge")
	ErrStagedPlanPending   = errors.New("staged plan change pending")
	ErrStalePlan           = errors.New("expected plan does not match persisted plan")
	ErrPrincipalInactive   = errors.New("principal is inactive")
	ErrPrincipalNotAllowed = errors.New("principal holds no permitted group")
)
