package app

import (
	"context"
	"time"

	"github.com/hylla/taskgate/internal/domain"
)

// Repository is the task store. Mutations run inside RunInTx.
type Repository interface {
	// RunInTx runs fn in one atomic unit. A non-nil error from fn rolls everything back.
	// Lock-wait and deadlock failures surface as ErrTransient.
	RunInTx(context.Context, func(context.Context, Tx) error) error
	GetTask(context.Context, string) (domain.Task, error)
	// ListTasks returns every task ordered by creation ascending.
	ListTasks(context.Context) ([]domain.Task, error)
}

// Tx is one open unit of work. Lock methods hold a row lock until commit or rollback.
type Tx interface {
	LockApplication(context.Context, string) (domain.Application, error)
	GetApplication(context.Context, string) (domain.Application, error)
	SetTaskCounter(context.Context, string, int64) error
	PlanExists(ctx context.Context, appAcronym, name string) (bool, error)
	LockTask(context.Context, string) (domain.Task, error)
	InsertTask(context.Context, domain.Task) error
	UpdateTask(context.Context, domain.Task) error
}

// Registry holds applications, plans and accounts.
type Registry interface {
	CreateApplication(context.Context, domain.Application) error
	GetApplication(context.Context, string) (domain.Application, error)
	ListApplications(context.Context) ([]domain.Application, error)
	CreatePlan(context.Context, domain.Plan) error
	ListPlans(context.Context, string) ([]domain.Plan, error)
	UpsertAccount(context.Context, domain.Account) error
	GetAccount(context.Context, string) (domain.Account, error)
	ListAccounts(context.Context) ([]domain.Account, error)
}

// Store is what a storage adapter provides.
type Store interface {
	Repository
	Registry
}

// ReviewNotice is sent when a task enters review.
type ReviewNotice struct {
	TaskID     string    `json:"task_id"`
	TaskName   string    `json:"task_name"`
	AppAcronym string    `json:"app"`
	Actor      string    `json:"actor"`
	Recipients []string  `json:"recipients"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReviewNotifier delivers review notices. Failures are logged by the caller, never propagated.
type ReviewNotifier interface {
	NotifyReview(context.Context, ReviewNotice) error
}
