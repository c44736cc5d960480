// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/taskgate/internal/domain"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrUnauthenticated reports a request without a verifiable principal.
var ErrUnauthenticated = errors.New("unauthenticated")

// NoteView is one ledger entry as rendered to callers.
type NoteView struct {
	Author   string    `json:"author"`
	Status   string    `json:"status"`
	Datetime time.Time `json:"datetime"`
	Message  string    `json:"message"`
}

// TaskView is the task snapshot returned by every task operation.
type TaskView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Plan        string     `json:"plan"`
	AppAcronym  string     `json:"app_acronym"`
	State       string     `json:"state"`
	Owner       string     `json:"owner"`
	Creator     string     `json:"creator"`
	CreateDate  string     `json:"create_date"`
	Notes       []NoteView `json:"notes"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ApplicationView is one registry application without its counter internals.
type ApplicationView struct {
	Acronym     string              `json:"acronym"`
	Description string              `json:"description,omitempty"`
	TaskCounter int64               `json:"task_counter"`
	StartDate   string              `json:"start_date,omitempty"`
	EndDate     string              `json:"end_date,omitempty"`
	Permits     map[string][]string `json:"permits"`
}

// PlanView is one plan of an application.
type PlanView struct {
	Name       string `json:"name"`
	AppAcronym string `json:"app_acronym"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

// PrincipalView is the resolved caller.
type PrincipalView struct {
	Username string   `json:"username"`
	Groups   []string `json:"groups"`
	Active   bool     `json:"active"`
}

// AccessView reports canAct for every gate of one application.
type AccessView struct {
	AppAcronym string          `json:"app_acronym"`
	Gates      map[string]bool `json:"gates"`
}

// CreateTaskRequest captures input for task creation.
type CreateTaskRequest struct {
	AppAcronym  string `json:"app_acronym"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Plan        string `json:"plan,omitempty"`
}

// TransitionTaskRequest captures one state change. ExpectedPlan and NewPlan
// carry the staged plan pair; both are optional.
type TransitionTaskRequest struct {
	TaskID       string  `json:"-"`
	Target       string  `json:"target"`
	ExpectedPlan *string `json:"expected_plan,omitempty"`
	NewPlan      *string `json:"new_plan,omitempty"`
}

// ChangePlanRequest captures an immediate plan edit.
type ChangePlanRequest struct {
	TaskID string `json:"-"`
	Plan   string `json:"plan"`
}

// AppendNoteRequest captures a user note.
type AppendNoteRequest struct {
	TaskID  string `json:"-"`
	Message string `json:"message"`
}

// TaskService is what transports call. The caller principal travels in context.
type TaskService interface {
	Me(context.Context) (PrincipalView, error)
	CreateTask(context.Context, CreateTaskRequest) (TaskView, error)
	TransitionTask(context.Context, TransitionTaskRequest) (TaskView, error)
	ChangePlan(context.Context, ChangePlanRequest) (TaskView, error)
	AppendNote(context.Context, AppendNoteRequest) (TaskView, error)
	GetTask(context.Context, string) (TaskView, error)
	ListTasks(context.Context) ([]TaskView, error)
	ListApplications(context.Context) ([]ApplicationView, error)
	ListPlans(context.Context, string) ([]PlanView, error)
	Access(context.Context, string) (AccessView, error)
}

// Authenticator turns a bearer token into the request principal.
type Authenticator interface {
	Authenticate(context.Context, string) (domain.Principal, error)
}
