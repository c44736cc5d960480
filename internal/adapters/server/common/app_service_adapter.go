package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/domain"
)

// TokenVerifier returns the username a bearer token was issued to.
type TokenVerifier interface {
	Verify(string) (string, error)
}

// AppServiceAdapter maps transport contracts onto app.Service operations.
type AppServiceAdapter struct {
	service *app.Service
	tokens  TokenVerifier
}

var (
	_ TaskService   = (*AppServiceAdapter)(nil)
	_ Authenticator = (*AppServiceAdapter)(nil)
)

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service, tokens TokenVerifier) *AppServiceAdapter {
	return &AppServiceAdapter{service: service, tokens: tokens}
}

// Authenticate verifies token and resolves the account behind it.
// Unknown accounts come back as inactive principals.
func (a *AppServiceAdapter) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	if a == nil || a.service == nil || a.tokens == nil {
		return domain.Principal{}, fmt.Errorf("authenticator is not configured: %w", ErrUnauthenticated)
	}
	username, err := a.tokens.Verify(token)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return a.service.ResolvePrincipal(ctx, username)
}

// Me returns the caller.
func (a *AppServiceAdapter) Me(ctx context.Context) (PrincipalView, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return PrincipalView{}, err
	}
	groups := append([]string{}, principal.Groups...)
	return PrincipalView{Username: principal.Username, Groups: groups, Active: principal.Active}, nil
}

// CreateTask creates a task for the caller.
func (a *AppServiceAdapter) CreateTask(ctx context.Context, in CreateTaskRequest) (TaskView, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return TaskView{}, err
	}
	task, err := a.service.CreateTask(ctx, principal, app.CreateTaskInput{
		Name:        in.Name,
		Description: in.Description,
		Plan:        in.Plan,
		AppAcronym:  in.AppAcronym,
	})
	if err != nil {
		return TaskView{}, err
	}
	return MapTask(task), nil
}

// TransitionTask moves a task to the requested state.
func (a *AppServiceAdapter) TransitionTask(ctx context.Context, in TransitionTaskRequest) (TaskView, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return TaskView{}, err
	}
	if strings.TrimSpace(in.TaskID) == "" {
		return TaskView{}, fmt.Errorf("task id is required: %w", ErrInvalidRequest)
	}
	target, err := domain.ParseState(in.Target)
	if err != nil {
		return TaskView{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	task, err := a.service.TransitionTask(ctx, principal, app.TransitionInput{
		TaskID: in.TaskID,
		Target: target,
		Plan:   planChange(in.ExpectedPlan, in.NewPlan),
	})
	if err != nil {
		return TaskView{}, err
	}
	return MapTask(task), nil
}

// planChange folds the optional staged pair into a domain change.
// An expected plan alone means the caller staged nothing.
func planChange(expected, next *string) *domain.PlanChange {
	switch {
	case next != nil:
		return &domain.PlanChange{Expected: expected, New: *next}
	case expected != nil:
		return &domain.PlanChange{Expected: expected, New: *expected}
	default:
		return nil
	}
}

// ChangePlan edits the plan of an Open task.
func (a *AppServiceAdapter) ChangePlan(ctx context.Context, in ChangePlanRequest) (TaskView, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return TaskView{}, err
	}
	task, err := a.service.ChangePlan(ctx, principal, in.TaskID, in.Plan)
	if err != nil {
		return TaskView{}, err
	}
	return MapTask(task), nil
}

// AppendNote adds a user note.
func (a *AppServiceAdapter) AppendNote(ctx context.Context, in AppendNoteRequest) (TaskView, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return TaskView{}, err
	}
	task, err := a.service.AppendNote(ctx, principal, in.TaskID, in.Message)
	if err != nil {
		return TaskView{}, err
	}
	return MapTask(task), nil
}

// GetTask returns one task.
func (a *AppServiceAdapter) GetTask(ctx context.Context, taskID string) (TaskView, error) {
	if _, err := principalFrom(ctx); err != nil {
		return TaskView{}, err
	}
	task, err := a.service.GetTask(ctx, taskID)
	if err != nil {
		return TaskView{}, err
	}
	return MapTask(task), nil
}

// ListTasks returns every task in creation order.
func (a *AppServiceAdapter) ListTasks(ctx context.Context) ([]TaskView, error) {
	if _, err := principalFrom(ctx); err != nil {
		return nil, err
	}
	tasks, err := a.service.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, MapTask(task))
	}
	return out, nil
}

// ListApplications returns the registry applications.
func (a *AppServiceAdapter) ListApplications(ctx context.Context) ([]ApplicationView, error) {
	if _, err := principalFrom(ctx); err != nil {
		return nil, err
	}
	applications, err := a.service.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ApplicationView, 0, len(applications))
	for _, application := range applications {
		out = append(out, mapApplication(application))
	}
	return out, nil
}

// ListPlans returns the plans of one application.
func (a *AppServiceAdapter) ListPlans(ctx context.Context, appAcronym string) ([]PlanView, error) {
	if _, err := principalFrom(ctx); err != nil {
		return nil, err
	}
	plans, err := a.service.ListPlans(ctx, appAcronym)
	if err != nil {
		return nil, err
	}
	out := make([]PlanView, 0, len(plans))
	for _, plan := range plans {
		out = append(out, PlanView{
			Name:       plan.Name,
			AppAcronym: plan.AppAcronym,
			StartDate:  plan.StartDate.Format(domain.DateLayout),
			EndDate:    plan.EndDate.Format(domain.DateLayout),
		})
	}
	return out, nil
}

// Access reports which gates the caller passes on one application.
func (a *AppServiceAdapter) Access(ctx context.Context, appAcronym string) (AccessView, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return AccessView{}, err
	}
	access, err := a.service.Access(ctx, principal, appAcronym)
	if err != nil {
		return AccessView{}, err
	}
	gates := make(map[string]bool, len(access))
	for gate, allowed := range access {
		gates[string(gate)] = allowed
	}
	return AccessView{AppAcronym: strings.TrimSpace(appAcronym), Gates: gates}, nil
}

// principalFrom reads the principal attached by the auth middleware.
func principalFrom(ctx context.Context) (domain.Principal, error) {
	principal, ok := app.PrincipalFromContext(ctx)
	if !ok {
		return domain.Principal{}, ErrUnauthenticated
	}
	return principal, nil
}

// MapTask renders a task snapshot.
func MapTask(task domain.Task) TaskView {
	entries := task.Notes.Entries()
	notes := make([]NoteView, 0, len(entries))
	for _, note := range entries {
		notes = append(notes, NoteView{
			Author:   note.Author,
			Status:   string(note.Status),
			Datetime: note.Datetime,
			Message:  note.Message,
		})
	}
	return TaskView{
		ID:          task.ID,
		Name:        task.Name,
		Description: task.Description,
		Plan:        task.Plan,
		AppAcronym:  task.AppAcronym,
		State:       string(task.State),
		Owner:       task.Owner,
		Creator:     task.Creator,
		CreateDate:  task.CreateDate.Format(domain.DateLayout),
		Notes:       notes,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
}

func mapApplication(application domain.Application) ApplicationView {
	permits := make(map[string][]string)
	for gate, groups := range application.Permits.Map() {
		if groups == nil {
			groups = []string{}
		}
		permits[string(gate)] = groups
	}
	return ApplicationView{
		Acronym:     application.Acronym,
		Description: application.Description,
		TaskCounter: application.TaskCounter,
		StartDate:   domain.FormatDate(application.StartDate),
		EndDate:     domain.FormatDate(application.EndDate),
		Permits:     permits,
	}
}
