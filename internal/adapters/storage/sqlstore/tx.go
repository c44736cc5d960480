package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hylla/taskgate/internal/domain"
)

// Tx is one open unit of work on a dedicated connection.
type Tx struct {
	conn  *sql.Conn
	store *Store
}

// LockApplication reads the application row and holds its lock until the unit ends.
func (tx *Tx) LockApplication(ctx context.Context, acronym string) (domain.Application, error) {
	a, err := getApplication(ctx, tx.conn, acronym, tx.store.dialect.LockSuffix)
	return a, tx.store.classify(err)
}

// GetApplication reads the application row without locking it.
func (tx *Tx) GetApplication(ctx context.Context, acronym string) (domain.Application, error) {
	a, err := getApplication(ctx, tx.conn, acronym, "")
	return a, tx.store.classify(err)
}

// SetTaskCounter stores the application's last allocated sequence.
func (tx *Tx) SetTaskCounter(ctx context.Context, acronym string, counter int64) error {
	res, err := tx.conn.ExecContext(ctx, `UPDATE applications SET task_counter = ? WHERE acronym = ?`, counter, acronym)
	if err != nil {
		return tx.store.classify(fmt.Errorf("update task counter %s: %w", acronym, err))
	}
	return translateNoRows(res)
}

// PlanExists reports whether the application has a plan with name.
func (tx *Tx) PlanExists(ctx context.Context, acronym, name string) (bool, error) {
	var one int
	err := tx.conn.QueryRowContext(ctx, `SELECT 1 FROM plans WHERE app_acronym = ? AND name = ?`, acronym, name).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, tx.store.classify(err)
	}
	return true, nil
}

// LockTask reads the task row and holds its lock until the unit ends.
func (tx *Tx) LockTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := getTask(ctx, tx.conn, id, tx.store.dialect.LockSuffix)
	return t, tx.store.classify(err)
}

// InsertTask inserts a new task row.
func (tx *Tx) InsertTask(ctx context.Context, t domain.Task) error {
	notes, err := EncodeNotes(t.Notes)
	if err != nil {
		return err
	}
	_, err = tx.conn.ExecContext(ctx, `
		INSERT INTO tasks(`+taskColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.AppAcronym,
		t.Name,
		t.Description,
		t.Plan,
		string(t.State),
		t.Owner,
		t.Creator,
		t.CreateDate.Format(domain.DateLayout),
		notes,
		TS(t.CreatedAt),
		TS(t.UpdatedAt),
	)
	if err != nil {
		return tx.store.classify(fmt.Errorf("insert task %s: %w", t.ID, err))
	}
	return nil
}

// UpdateTask rewrites the mutable columns of a task row.
func (tx *Tx) UpdateTask(ctx context.Context, t domain.Task) error {
	notes, err := EncodeNotes(t.Notes)
	if err != nil {
		return err
	}
	res, err := tx.conn.ExecContext(ctx, `
		UPDATE tasks
		SET plan = ?, state = ?, owner = ?, notes_json = ?, updated_at = ?
		WHERE id = ?
	`, t.Plan, string(t.State), t.Owner, notes, TS(t.UpdatedAt), t.ID)
	if err != nil {
		return tx.store.classify(fmt.Errorf("update task %s: %w", t.ID, err))
	}
	return translateNoRows(res)
}
