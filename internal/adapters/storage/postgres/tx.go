package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hylla/taskgate/internal/adapters/storage/sqlstore"
	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/domain"
)

// Tx is one open transaction.
type Tx struct {
	tx pgx.Tx
}

// LockApplication reads the application row with FOR UPDATE.
func (t *Tx) LockApplication(ctx context.Context, acronym string) (domain.Application, error) {
	return getApplication(ctx, t.tx, acronym, " FOR UPDATE")
}

// GetApplication reads the application row without locking it.
func (t *Tx) GetApplication(ctx context.Context, acronym string) (domain.Application, error) {
	return getApplication(ctx, t.tx, acronym, "")
}

// SetTaskCounter stores the application's last allocated sequence.
func (t *Tx) SetTaskCounter(ctx context.Context, acronym string, counter int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE applications SET task_counter = $1 WHERE acronym = $2`, counter, acronym)
	if err != nil {
		return classifyError(fmt.Errorf("update task counter %s: %w", acronym, err))
	}
	if tag.RowsAffected() == 0 {
		return app.ErrNotFound
	}
	return nil
}

// PlanExists reports whether the application has a plan with name.
func (t *Tx) PlanExists(ctx context.Context, acronym, name string) (bool, error) {
	var one int
	err := t.tx.QueryRow(ctx, `SELECT 1 FROM plans WHERE app_acronym = $1 AND name = $2`, acronym, name).Scan(&one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, classifyError(err)
	}
	return true, nil
}

// LockTask reads the task row with FOR UPDATE.
func (t *Tx) LockTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, t.tx, id, " FOR UPDATE")
}

// InsertTask inserts a new task row.
func (t *Tx) InsertTask(ctx context.Context, task domain.Task) error {
	notes, err := sqlstore.EncodeNotes(task.Notes)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO tasks(`+taskColumns+`)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		task.ID,
		task.AppAcronym,
		task.Name,
		task.Description,
		task.Plan,
		string(task.State),
		task.Owner,
		task.Creator,
		task.CreateDate,
		[]byte(notes),
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
	)
	if err != nil {
		return classifyError(fmt.Errorf("insert task %s: %w", task.ID, err))
	}
	return nil
}

// UpdateTask rewrites the mutable columns of a task row.
func (t *Tx) UpdateTask(ctx context.Context, task domain.Task) error {
	notes, err := sqlstore.EncodeNotes(task.Notes)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE tasks
		SET plan = $1, state = $2, owner = $3, notes_json = $4, updated_at = $5
		WHERE id = $6
	`, task.Plan, string(task.State), task.Owner, []byte(notes), task.UpdatedAt.UTC(), task.ID)
	if err != nil {
		return classifyError(fmt.Errorf("update task %s: %w", task.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return app.ErrNotFound
	}
	return nil
}
