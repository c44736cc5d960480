package app

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hylla/taskgate/internal/domain"
	"github.com/hylla/taskgate/internal/telemetry"
)

// Clock returns the current time.
type Clock func() time.Time

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	Logger        *log.Logger
	Metrics       *telemetry.Metrics
	Notifier      ReviewNotifier
	Retry         RetryPolicy
	NotifyTimeout time.Duration
}

// Service owns the task lifecycle: creation, gated transitions, plan changes and notes.
type Service struct {
	store         Store
	clock         Clock
	logger        *log.Logger
	metrics       *telemetry.Metrics
	notifier      ReviewNotifier
	retry         RetryPolicy
	notifyTimeout time.Duration
	tracer        trace.Tracer
	pending       sync.WaitGroup
}

// NewService constructs a new value for this package.
func NewService(store Store, clock Clock, cfg ServiceConfig) *Service {
	if clock == nil {
		clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	return &Service{
		store:         store,
		clock:         clock,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		notifier:      cfg.Notifier,
		retry:         cfg.Retry.normalized(),
		notifyTimeout: cfg.NotifyTimeout,
		tracer:        telemetry.Tracer(),
	}
}

// begin opens the operation span. The returned func classifies, records and returns err.
func (s *Service) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error) error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "taskgate."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) error {
		defer span.End()
		err = classify(err)
		s.metrics.ObserveOperation(operation, time.Since(started))
		if err != nil {
			code := ErrorCode(err)
			s.metrics.OperationFailed(operation, code)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			if code == CodeInternal {
				s.logger.Error("operation failed", "operation", operation, "err", err)
			}
		}
		return err
	}
}

// CanAct reports whether principal may act at gate in the named application.
func (s *Service) CanAct(ctx context.Context, principal domain.Principal, appAcronym string, gate domain.Gate) (allowed bool, err error) {
	ctx, finish := s.begin(ctx, "can_act", attribute.String("app", appAcronym), attribute.String("gate", string(gate)))
	defer func() { err = finish(err) }()

	application, err := s.lookupApplication(ctx, appAcronym)
	if err != nil {
		return false, err
	}
	return application.Permits.Allows(principal, gate), nil
}

// Access returns the principal's standing at every gate of an application.
func (s *Service) Access(ctx context.Context, principal domain.Principal, appAcronym string) (access map[domain.Gate]bool, err error) {
	ctx, finish := s.begin(ctx, "access", attribute.String("app", appAcronym))
	defer func() { err = finish(err) }()

	application, err := s.lookupApplication(ctx, appAcronym)
	if err != nil {
		return nil, err
	}
	access = make(map[domain.Gate]bool, len(domain.Gates()))
	for _, gate := range domain.Gates() {
		access[gate] = application.Permits.Allows(principal, gate)
	}
	return access, nil
}

// CreateTaskInput holds input values for create task operations.
type CreateTaskInput struct {
	Name        string
	Description string
	Plan        string
	AppAcronym  string
}

// CreateTask allocates the next task id and inserts an Open task in one unit of work.
func (s *Service) CreateTask(ctx context.Context, principal domain.Principal, in CreateTaskInput) (task domain.Task, err error) {
	in.AppAcronym = strings.TrimSpace(in.AppAcronym)
	ctx, finish := s.begin(ctx, "create_task", attribute.String("app", in.AppAcronym))
	defer func() { err = finish(err) }()

	if in.AppAcronym == "" {
		return domain.Task{}, domain.ErrInvalidAcronym
	}
	err = s.withLockRetry(ctx, "create_task", func() error {
		return s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			application, err := tx.LockApplication(ctx, in.AppAcronym)
			if err != nil {
				return applicationReference(in.AppAcronym, err)
			}
			if err := application.Permits.Check(principal, domain.GateCreate); err != nil {
				return err
			}
			id, seq := application.NextTaskID()

			next, err := domain.NewTask(domain.TaskInput{
				ID:          id,
				Name:        in.Name,
				Description: in.Description,
				Plan:        in.Plan,
				AppAcronym:  application.Acronym,
				Creator:     principal.Username,
			}, s.clock())
			if err != nil {
				return err
			}
			if err := requirePlan(ctx, tx, application.Acronym, next.Plan); err != nil {
				return err
			}
			if err := tx.InsertTask(ctx, next); err != nil {
				return err
			}
			if err := tx.SetTaskCounter(ctx, application.Acronym, seq); err != nil {
				return err
			}
			task = next
			return nil
		})
	})
	if err != nil {
		return domain.Task{}, err
	}

	s.metrics.TaskCreated(task.AppAcronym)
	s.logger.Info("task created", "task_id", task.ID, "app", task.AppAcronym, "creator", task.Creator)
	return task, nil
}

// TransitionInput holds input values for transition operations.
type TransitionInput struct {
	TaskID string
	Target domain.State
	Plan   *domain.PlanChange
}

// TransitionTask moves a task along one workflow edge.
// Permission is checked against the state the task is leaving.
func (s *Service) TransitionTask(ctx context.Context, principal domain.Principal, in TransitionInput) (task domain.Task, err error) {
	in.TaskID = strings.TrimSpace(in.TaskID)
	ctx, finish := s.begin(ctx, "transition_task", attribute.String("task_id", in.TaskID), attribute.String("target", string(in.Target)))
	defer func() { err = finish(err) }()

	var (
		edge        domain.Edge
		application domain.Application
	)
	err = s.withLockRetry(ctx, "transition_task", func() error {
		return s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			current, app, err := s.lockForMutation(ctx, tx, principal, in.TaskID)
			if err != nil {
				return err
			}
			next := current
			edge, err = next.Transition(in.Target, in.Plan, principal.Username, s.clock())
			if err != nil {
				return err
			}
			if next.Plan != current.Plan {
				if err := requirePlan(ctx, tx, next.AppAcronym, next.Plan); err != nil {
					return err
				}
			}
			if err := tx.UpdateTask(ctx, next); err != nil {
				return err
			}
			task, application = next, app
			return nil
		})
	})
	if err != nil {
		return domain.Task{}, err
	}

	s.metrics.Transition(string(edge))
	s.logger.Info("task transitioned", "task_id", task.ID, "edge", edge, "state", task.State, "actor", principal.Username)
	if edge == domain.EdgeReview {
		s.notifyReview(ctx, application, task, principal.Username)
	}
	return task, nil
}

// ChangePlan replaces the plan of an Open task immediately.
func (s *Service) ChangePlan(ctx context.Context, principal domain.Principal, taskID, plan string) (task domain.Task, err error) {
	taskID = strings.TrimSpace(taskID)
	ctx, finish := s.begin(ctx, "change_plan", attribute.String("task_id", taskID))
	defer func() { err = finish(err) }()

	err = s.withLockRetry(ctx, "change_plan", func() error {
		return s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			next, _, err := s.lockForMutation(ctx, tx, principal, taskID)
			if err != nil {
				return err
			}
			if err := next.ChangePlan(plan, s.clock()); err != nil {
				return err
			}
			if err := requirePlan(ctx, tx, next.AppAcronym, next.Plan); err != nil {
				return err
			}
			if err := tx.UpdateTask(ctx, next); err != nil {
				return err
			}
			task = next
			return nil
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.logger.Info("task plan changed", "task_id", task.ID, "plan", task.Plan, "actor", principal.Username)
	return task, nil
}

// AppendNote adds one user note stamped with the task's current state.
func (s *Service) AppendNote(ctx context.Context, principal domain.Principal, taskID, message string) (task domain.Task, err error) {
	taskID = strings.TrimSpace(taskID)
	ctx, finish := s.begin(ctx, "append_note", attribute.String("task_id", taskID))
	defer func() { err = finish(err) }()

	err = s.withLockRetry(ctx, "append_note", func() error {
		return s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			next, _, err := s.lockForMutation(ctx, tx, principal, taskID)
			if err != nil {
				return err
			}
			if err := next.AddNote(principal.Username, message, s.clock()); err != nil {
				return err
			}
			if err := tx.UpdateTask(ctx, next); err != nil {
				return err
			}
			task = next
			return nil
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.logger.Debug("task note appended", "task_id", task.ID, "notes", task.Notes.Len())
	return task, nil
}

// lockForMutation locks the task row and checks the principal against its current state.
// Closed tasks are refused before any permission lookup.
func (s *Service) lockForMutation(ctx context.Context, tx Tx, principal domain.Principal, taskID string) (domain.Task, domain.Application, error) {
	if taskID == "" {
		return domain.Task{}, domain.Application{}, domain.ErrInvalidID
	}
	task, err := tx.LockTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, domain.Application{}, err
	}
	gate, ok := domain.GateFor(task.State)
	if !ok {
		return domain.Task{}, domain.Application{}, domain.ErrTaskClosed
	}
	application, err := tx.GetApplication(ctx, task.AppAcronym)
	if err != nil {
		return domain.Task{}, domain.Application{}, applicationReference(task.AppAcronym, err)
	}
	if err := application.Permits.Check(principal, gate); err != nil {
		return domain.Task{}, domain.Application{}, err
	}
	return task, application, nil
}

// GetTask returns one task snapshot.
func (s *Service) GetTask(ctx context.Context, taskID string) (task domain.Task, err error) {
	ctx, finish := s.begin(ctx, "get_task", attribute.String("task_id", taskID))
	defer func() { err = finish(err) }()
	return s.store.GetTask(ctx, strings.TrimSpace(taskID))
}

// ListTasks returns every task ordered by creation ascending.
func (s *Service) ListTasks(ctx context.Context) (tasks []domain.Task, err error) {
	ctx, finish := s.begin(ctx, "list_tasks")
	defer func() { err = finish(err) }()
	return s.store.ListTasks(ctx)
}

// GetApplication returns one application.
func (s *Service) GetApplication(ctx context.Context, appAcronym string) (application domain.Application, err error) {
	ctx, finish := s.begin(ctx, "get_application", attribute.String("app", appAcronym))
	defer func() { err = finish(err) }()
	return s.store.GetApplication(ctx, strings.TrimSpace(appAcronym))
}

// ListApplications returns every application ordered by acronym.
func (s *Service) ListApplications(ctx context.Context) (applications []domain.Application, err error) {
	ctx, finish := s.begin(ctx, "list_applications")
	defer func() { err = finish(err) }()
	return s.store.ListApplications(ctx)
}

// ListPlans returns the plans of one application.
func (s *Service) ListPlans(ctx context.Context, appAcronym string) (plans []domain.Plan, err error) {
	ctx, finish := s.begin(ctx, "list_plans", attribute.String("app", appAcronym))
	defer func() { err = finish(err) }()

	if _, err := s.lookupApplication(ctx, appAcronym); err != nil {
		return nil, err
	}
	return s.store.ListPlans(ctx, strings.TrimSpace(appAcronym))
}

func (s *Service) lookupApplication(ctx context.Context, appAcronym string) (domain.Application, error) {
	appAcronym = strings.TrimSpace(appAcronym)
	if appAcronym == "" {
		return domain.Application{}, domain.ErrInvalidAcronym
	}
	application, err := s.store.GetApplication(ctx, appAcronym)
	if err != nil {
		return domain.Application{}, applicationReference(appAcronym, err)
	}
	return application, nil
}

// requirePlan fails with ErrInvalidReference when a non-empty plan is unknown to the application.
func requirePlan(ctx context.Context, tx Tx, appAcronym, plan string) error {
	if plan == "" {
		return nil
	}
	ok, err := tx.PlanExists(ctx, appAcronym, plan)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: plan %q not found in application %q", ErrInvalidReference, plan, appAcronym)
	}
	return nil
}

func applicationReference(appAcronym string, err error) error {
	if ErrorCode(err) == CodeNotFound {
		return fmt.Errorf("%w: application %q not found", ErrInvalidReference, appAcronym)
	}
	return err
}

// notifyReview sends the review notice after commit. It never blocks the caller.
func (s *Service) notifyReview(ctx context.Context, application domain.Application, task domain.Task, actor string) {
	if s.notifier == nil {
		s.metrics.ReviewNotification("skipped")
		return
	}
	// Keep trace values but drop the request's cancellation.
	detached := context.WithoutCancel(ctx)
	occurredAt := task.UpdatedAt
	s.pending.Go(func() {
		ctx, cancel := context.WithTimeout(detached, s.notifyTimeout)
		defer cancel()

		recipients, err := s.reviewRecipients(ctx, application)
		if err != nil {
			s.metrics.ReviewNotification("failed")
			s.logger.Warn("review recipients lookup failed", "task_id", task.ID, "err", err)
			return
		}
		notice := ReviewNotice{
			TaskID:     task.ID,
			TaskName:   task.Name,
			AppAcronym: task.AppAcronym,
			Actor:      actor,
			Recipients: recipients,
			OccurredAt: occurredAt,
		}
		if err := s.notifier.NotifyReview(ctx, notice); err != nil {
			s.metrics.ReviewNotification("failed")
			s.logger.Warn("review notification failed", "task_id", task.ID, "err", err)
			return
		}
		s.metrics.ReviewNotification("sent")
	})
}

// reviewRecipients lists active accounts holding a group in the Done permit set.
func (s *Service) reviewRecipients(ctx context.Context, application domain.Application) ([]string, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	recipients := make([]string, 0)
	for _, account := range accounts {
		if application.Permits.Allows(account.Principal(), domain.GateDone) {
			recipients = append(recipients, account.Username)
		}
	}
	slices.Sort(recipients)
	return recipients, nil
}

// WaitForNotifications blocks until in-flight review notices finish or ctx ends.
func (s *Service) WaitForNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
