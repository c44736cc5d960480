package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hylla/taskgate/internal/adapters/storage/storagetest"
	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/domain"
)

func openFile(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "nested", "taskgate.db"), 10*time.Second)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestRepository_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) app.Store {
		return openFile(t)
	})
}

func TestRepository_InMemoryNotFoundCases(t *testing.T) {
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	ctx := context.Background()
	err = repo.RunInTx(ctx, func(ctx context.Context, tx app.Tx) error {
		if _, err := tx.LockTask(ctx, "missing"); err != app.ErrNotFound {
			t.Fatalf("expected app.ErrNotFound for locked task, got %v", err)
		}
		if _, err := tx.LockApplication(ctx, "missing"); err != app.ErrNotFound {
			t.Fatalf("expected app.ErrNotFound for locked application, got %v", err)
		}
		ok, err := tx.PlanExists(ctx, "APP1", "missing")
		if err != nil || ok {
			t.Fatalf("PlanExists() = %t, %v", ok, err)
		}
		if err := tx.SetTaskCounter(ctx, "missing", 1); err != app.ErrNotFound {
			t.Fatalf("expected app.ErrNotFound for counter update, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}

func TestRepository_ReopenKeepsNotes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "taskgate.db")
	repo, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	storagetest.Seed(t, repo, 0)
	svc := app.NewService(repo, nil, app.ServiceConfig{})
	alice := domain.Principal{Username: "alice", Groups: []string{"dev"}, Active: true}
	task, err := svc.CreateTask(ctx, alice, app.CreateTaskInput{Name: "Persist me", Plan: "Q1", AppAcronym: "APP1"})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if _, err := svc.AppendNote(ctx, alice, task.ID, "first"); err != nil {
		t.Fatalf("AppendNote() error = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	repo, err = Open(path, 0)
	if err != nil {
		t.Fatalf("Open(reopen) error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	loaded, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	notes := loaded.Notes.Entries()
	if len(notes) != 1 || notes[0].Message != "first" || notes[0].Status != domain.StateOpen || notes[0].Author != "alice" {
		t.Fatalf("unexpected notes %#v", notes)
	}
	if notes[0].Datetime.Before(task.CreatedAt) {
		t.Fatalf("note datetime %s precedes creation %s", notes[0].Datetime, task.CreatedAt)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  ", 0); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestClassifyErrorFallsBackToMessage(t *testing.T) {
	err := classifyError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	if !errors.Is(err, app.ErrTransient) {
		t.Fatalf("classifyError() = %v, want ErrTransient", err)
	}
	plain := errors.New("no such table: nope")
	if got := classifyError(plain); got != plain {
		t.Fatalf("classifyError() = %v, want passthrough", got)
	}
}
