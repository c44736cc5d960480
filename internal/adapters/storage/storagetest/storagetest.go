// Package storagetest holds the behavior every app.Store adapter must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/domain"
)

// Opener returns a fresh, empty store.
type Opener func(t *testing.T) app.Store

// Run exercises open's store through the registry, unit of work and service.
func Run(t *testing.T, open Opener) {
	t.Helper()
	t.Run("registry", func(t *testing.T) { testRegistry(t, open(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("lifecycle", func(t *testing.T) { testLifecycle(t, open(t)) })
	t.Run("concurrent create", func(t *testing.T) { testConcurrentCreate(t, open(t)) })
}

// Seed stores APP1 (Create/Open/ToDo/Doing=[dev], Done=[lead]) with the given
// counter, plans Q1 and Q2, and accounts alice (dev) and bob (lead).
func Seed(t *testing.T, store app.Registry, counter int64) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	start, _ := domain.ParseDate("2026-02-01")
	end, _ := domain.ParseDate("2026-03-31")
	application, err := domain.NewApplication(domain.ApplicationInput{
		Acronym:     "APP1",
		Description: "first app",
		TaskCounter: counter,
		StartDate:   &start,
		EndDate:     &end,
		Permits: map[domain.Gate][]string{
			domain.GateCreate: {"dev"},
			domain.GateOpen:   {"dev"},
			domain.GateToDo:   {"dev"},
			domain.GateDoing:  {"dev"},
			domain.GateDone:   {"lead"},
		},
	}, now)
	if err != nil {
		t.Fatalf("NewApplication() error = %v", err)
	}
	if err := store.CreateApplication(ctx, application); err != nil {
		t.Fatalf("CreateApplication() error = %v", err)
	}
	for _, name := range []string{"Q1", "Q2"} {
		plan, err := domain.NewPlan(domain.PlanInput{Name: name, AppAcronym: "APP1", StartDate: start, EndDate: end})
		if err != nil {
			t.Fatalf("NewPlan() error = %v", err)
		}
		if err := store.CreatePlan(ctx, plan); err != nil {
			t.Fatalf("CreatePlan(%s) error = %v", name, err)
		}
	}
	for _, in := range []domain.AccountInput{
		{Username: "alice", Email: "alice@example.com", Active: true, Groups: []string{"dev"}},
		{Username: "bob", Active: true, Groups: []string{"lead"}},
	} {
		account, err := domain.NewAccount(in)
		if err != nil {
			t.Fatalf("NewAccount() error = %v", err)
		}
		if err := store.UpsertAccount(ctx, account); err != nil {
			t.Fatalf("UpsertAccount(%s) error = %v", in.Username, err)
		}
	}
}

var (
	alice = domain.Principal{Username: "alice", Groups: []string{"dev"}, Active: true}
	bob   = domain.Principal{Username: "bob", Groups: []string{"lead"}, Active: true}
)

func testRegistry(t *testing.T, store app.Store) {
	ctx := context.Background()
	Seed(t, store, 3)

	loaded, err := store.GetApplication(ctx, "APP1")
	if err != nil {
		t.Fatalf("GetApplication() error = %v", err)
	}
	if loaded.TaskCounter != 3 || loaded.Description != "first app" {
		t.Fatalf("unexpected application %#v", loaded)
	}
	if got := domain.FormatDate(loaded.EndDate); got != "2026-03-31" {
		t.Fatalf("end date = %q", got)
	}
	if groups := loaded.Permits.Groups(domain.GateDone); len(groups) != 1 || groups[0] != "lead" {
		t.Fatalf("done permit = %#v", groups)
	}

	apps, err := store.ListApplications(ctx)
	if err != nil || len(apps) != 1 {
		t.Fatalf("ListApplications() = %d, %v", len(apps), err)
	}
	plans, err := store.ListPlans(ctx, "APP1")
	if err != nil || len(plans) != 2 {
		t.Fatalf("ListPlans() = %#v, %v", plans, err)
	}
	accounts, err := store.ListAccounts(ctx)
	if err != nil || len(accounts) != 2 || accounts[0].Username != "alice" {
		t.Fatalf("ListAccounts() = %#v, %v", accounts, err)
	}

	account, err := store.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	account.Active = false
	if err := store.UpsertAccount(ctx, account); err != nil {
		t.Fatalf("UpsertAccount(update) error = %v", err)
	}
	if account, _ = store.GetAccount(ctx, "alice"); account.Active {
		t.Fatal("expected upsert to deactivate alice")
	}

	dup, _ := domain.NewApplication(domain.ApplicationInput{Acronym: "APP1"}, time.Now())
	if err := store.CreateApplication(ctx, dup); !errors.Is(err, app.ErrConflict) {
		t.Fatalf("CreateApplication(dup) error = %v, want ErrConflict", err)
	}
	orphan, _ := domain.NewPlan(domain.PlanInput{Name: "Q1", AppAcronym: "NOPE", StartDate: time.Now(), EndDate: time.Now()})
	if err := store.CreatePlan(ctx, orphan); !errors.Is(err, app.ErrInvalidReference) {
		t.Fatalf("CreatePlan(orphan) error = %v, want ErrInvalidReference", err)
	}

	if _, err := store.GetApplication(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("GetApplication(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetTask(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("GetTask(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetAccount(ctx, "missing"); err != app.ErrNotFound {
		t.Fatalf("GetAccount(missing) error = %v, want ErrNotFound", err)
	}
}

func testRollback(t *testing.T, store app.Store) {
	ctx := context.Background()
	Seed(t, store, 0)

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		application, err := tx.LockApplication(ctx, "APP1")
		if err != nil {
			return err
		}
		id, seq := application.NextTaskID()
		task, err := domain.NewTask(domain.TaskInput{ID: id, Name: "doomed", AppAcronym: "APP1", Creator: "alice"}, time.Now())
		if err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		if err := tx.SetTaskCounter(ctx, "APP1", seq); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx() error = %v, want boom", err)
	}
	application, _ := store.GetApplication(ctx, "APP1")
	if application.TaskCounter != 0 {
		t.Fatalf("counter = %d after rollback, want 0", application.TaskCounter)
	}
	if _, err := store.GetTask(ctx, "APP1_1"); err != app.ErrNotFound {
		t.Fatalf("expected rolled-back task to be absent, got %v", err)
	}
}

func testLifecycle(t *testing.T, store app.Store) {
	ctx := context.Background()
	Seed(t, store, 0)
	svc := app.NewService(store, nil, app.ServiceConfig{})

	task, err := svc.CreateTask(ctx, alice, app.CreateTaskInput{Name: "Persist me", Plan: "Q1", AppAcronym: "APP1"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if task.ID != "APP1_1" {
		t.Fatalf("task id = %q, want APP1_1", task.ID)
	}
	steps := []struct {
		who    domain.Principal
		target domain.State
		plan   *domain.PlanChange
	}{
		{alice, domain.StateToDo, nil},
		{alice, domain.StateDoing, nil},
		{alice, domain.StateDone, nil},
		{bob, domain.StateDoing, &domain.PlanChange{New: "Q2"}},
		{alice, domain.StateDone, nil},
		{bob, domain.StateClosed, nil},
	}
	for _, step := range steps {
		if _, err := svc.TransitionTask(ctx, step.who, app.TransitionInput{TaskID: task.ID, Target: step.target, Plan: step.plan}); err != nil {
			t.Fatalf("TransitionTask(%s) error = %v", step.target, err)
		}
	}
	if _, err := svc.AppendNote(ctx, alice, task.ID, "after close"); !errors.Is(err, app.ErrForbidden) {
		t.Fatalf("AppendNote(closed) error = %v, want ErrForbidden", err)
	}

	loaded, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if loaded.State != domain.StateClosed || loaded.Plan != "Q2" || loaded.Owner != "alice" {
		t.Fatalf("unexpected persisted task %#v", loaded)
	}
	if got := loaded.Notes.Len(); got != len(steps) {
		t.Fatalf("notes = %d, want %d", got, len(steps))
	}
	if loaded.CreateDate.Format(domain.DateLayout) != task.CreateDate.Format(domain.DateLayout) {
		t.Fatalf("create date = %s, want %s", loaded.CreateDate, task.CreateDate)
	}
	application, _ := store.GetApplication(ctx, "APP1")
	if application.TaskCounter != 1 {
		t.Fatalf("counter = %d, want 1", application.TaskCounter)
	}
}

func testConcurrentCreate(t *testing.T, store app.Store) {
	ctx := context.Background()
	Seed(t, store, 10)
	svc := app.NewService(store, nil, app.ServiceConfig{
		Retry: app.RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond},
	})

	const workers = 12
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			_, err := svc.CreateTask(ctx, alice, app.CreateTaskInput{Name: fmt.Sprintf("task %d", i), AppAcronym: "APP1"})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != workers {
		t.Fatalf("tasks = %d, want %d", len(tasks), workers)
	}
	seen := map[string]bool{}
	for i, task := range tasks {
		seen[task.ID] = true
		if i > 0 && task.CreatedAt.Before(tasks[i-1].CreatedAt) {
			t.Fatalf("ListTasks() out of creation order at %d", i)
		}
	}
	for seq := int64(11); seq <= 10+workers; seq++ {
		if !seen[domain.TaskID("APP1", seq)] {
			t.Fatalf("missing %s in %v", domain.TaskID("APP1", seq), seen)
		}
	}
	application, _ := store.GetApplication(ctx, "APP1")
	if application.TaskCounter != 10+workers {
		t.Fatalf("counter = %d, want %d", application.TaskCounter, 10+workers)
	}
}
