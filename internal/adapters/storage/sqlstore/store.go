// Package sqlstore implements the task and registry ports over database/sql.
// Backends supply a Dialect for schema, locking and error translation.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/domain"
)

// Dialect captures what differs between database/sql backends.
type Dialect struct {
	Name       string
	Migrations []string
	// Begin opens a unit of work on a dedicated connection.
	Begin func(context.Context, *sql.Conn) error
	// LockSuffix is appended to row-locking selects, e.g. " FOR UPDATE".
	LockSuffix       string
	UpsertAccountSQL string
	// Classify maps driver errors onto app.ErrTransient and app.ErrConflict.
	Classify func(error) error
}

// Store represents repository data used by this package.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ app.Store = (*Store)(nil)
	_ app.Tx    = (*Tx)(nil)
)

// New migrates db and wraps it.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if dialect.Begin == nil {
		dialect.Begin = func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, "BEGIN")
			return err
		}
	}
	if dialect.Classify == nil {
		dialect.Classify = func(err error) error { return err }
	}
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the requested operation.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// classify translates driver errors, leaving app errors untouched.
func (s *Store) classify(err error) error {
	if err == nil || app.ErrorCode(err) != app.CodeInternal {
		return err
	}
	return s.dialect.Classify(err)
}

// RunInTx runs fn on a dedicated connection between Begin and COMMIT.
// Any error from fn, or a panic, rolls back.
func (s *Store) RunInTx(ctx context.Context, fn func(context.Context, app.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return s.classify(fmt.Errorf("acquire connection: %w", err))
	}
	defer func() { _ = conn.Close() }()

	if err := s.dialect.Begin(ctx, conn); err != nil {
		return s.classify(fmt.Errorf("begin transaction: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			// Background so rollback still runs after ctx is cancelled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(ctx, &Tx{conn: conn, store: s}); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return s.classify(fmt.Errorf("commit transaction: %w", err))
	}
	committed = true
	return nil
}

// queryRower represents a query-only DB contract used by DB and Conn implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

const applicationColumns = `acronym, description, task_counter, start_date, end_date, permits_json, created_at, updated_at`

const taskColumns = `id, app_acronym, name, description, plan, state, owner, creator, create_date, notes_json, created_at, updated_at`

// CreateApplication inserts one application.
func (s *Store) CreateApplication(ctx context.Context, a domain.Application) error {
	permits, err := EncodePermits(a.Permits)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO applications(`+applicationColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Acronym, a.Description, a.TaskCounter, NullableDate(a.StartDate), NullableDate(a.EndDate), permits, TS(a.CreatedAt), TS(a.UpdatedAt))
	if err != nil {
		return s.classify(fmt.Errorf("insert application %s: %w", a.Acronym, err))
	}
	return nil
}

// GetApplication returns one application.
func (s *Store) GetApplication(ctx context.Context, acronym string) (domain.Application, error) {
	return getApplication(ctx, s.db, acronym, "")
}

// ListApplications returns every application ordered by acronym.
func (s *Store) ListApplications(ctx context.Context) ([]domain.Application, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+applicationColumns+` FROM applications ORDER BY acronym ASC`)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	out := make([]domain.Application, 0)
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreatePlan inserts one plan. The application must exist.
func (s *Store) CreatePlan(ctx context.Context, p domain.Plan) error {
	if _, err := s.GetApplication(ctx, p.AppAcronym); err != nil {
		if errors.Is(err, app.ErrNotFound) {
			return fmt.Errorf("%w: application %q not found", app.ErrInvalidReference, p.AppAcronym)
		}
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans(app_acronym, name, start_date, end_date)
		VALUES(?, ?, ?, ?)
	`, p.AppAcronym, p.Name, NullableDate(&p.StartDate), NullableDate(&p.EndDate))
	if err != nil {
		return s.classify(fmt.Errorf("insert plan %s/%s: %w", p.AppAcronym, p.Name, err))
	}
	return nil
}

// ListPlans returns the plans of one application ordered by start date.
func (s *Store) ListPlans(ctx context.Context, acronym string) ([]domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_acronym, name, start_date, end_date
		FROM plans
		WHERE app_acronym = ?
		ORDER BY start_date ASC, name ASC
	`, acronym)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	out := make([]domain.Plan, 0)
	for rows.Next() {
		var (
			p                domain.Plan
			startRaw, endRaw string
		)
		if err := rows.Scan(&p.AppAcronym, &p.Name, &startRaw, &endRaw); err != nil {
			return nil, err
		}
		if p.StartDate, err = domain.ParseDate(startRaw); err != nil {
			return nil, fmt.Errorf("decode plan %s start_date: %w", p.Name, err)
		}
		if p.EndDate, err = domain.ParseDate(endRaw); err != nil {
			return nil, fmt.Errorf("decode plan %s end_date: %w", p.Name, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertAccount inserts or replaces one account.
func (s *Store) UpsertAccount(ctx context.Context, a domain.Account) error {
	groups, err := EncodeGroups(a.Groups)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.UpsertAccountSQL, a.Username, a.Email, a.Active, groups); err != nil {
		return s.classify(fmt.Errorf("upsert account %s: %w", a.Username, err))
	}
	return nil
}

// GetAccount returns one account.
func (s *Store) GetAccount(ctx context.Context, username string) (domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT username, email, active, groups_json FROM accounts WHERE username = ?`, username)
	return scanAccount(row)
}

// ListAccounts returns every account ordered by username.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, email, active, groups_json FROM accounts ORDER BY username ASC`)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	out := make([]domain.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetTask returns one task.
func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, s.db, id, "")
}

// ListTasks returns every task ordered by creation ascending.
func (s *Store) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, row_order ASC`)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	out := make([]domain.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func getApplication(ctx context.Context, q queryRower, acronym, suffix string) (domain.Application, error) {
	row := q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE acronym = ?`+suffix, acronym)
	return scanApplication(row)
}

func getTask(ctx context.Context, q queryRower, id, suffix string) (domain.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`+suffix, id)
	return scanTask(row)
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

func scanApplication(s scanner) (domain.Application, error) {
	var (
		a                      domain.Application
		startRaw, endRaw       sql.NullString
		permitsRaw             []byte
		createdRaw, updatedRaw string
	)
	if err := s.Scan(&a.Acronym, &a.Description, &a.TaskCounter, &startRaw, &endRaw, &permitsRaw, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Application{}, app.ErrNotFound
		}
		return domain.Application{}, err
	}
	var err error
	if a.StartDate, err = ParseNullableDate(nullString(startRaw)); err != nil {
		return domain.Application{}, fmt.Errorf("decode application %s start_date: %w", a.Acronym, err)
	}
	if a.EndDate, err = ParseNullableDate(nullString(endRaw)); err != nil {
		return domain.Application{}, fmt.Errorf("decode application %s end_date: %w", a.Acronym, err)
	}
	if a.Permits, err = DecodePermits(permitsRaw); err != nil {
		return domain.Application{}, fmt.Errorf("decode application %s: %w", a.Acronym, err)
	}
	a.CreatedAt = ParseTS(createdRaw)
	a.UpdatedAt = ParseTS(updatedRaw)
	return a, nil
}

func scanAccount(s scanner) (domain.Account, error) {
	var (
		a         domain.Account
		groupsRaw []byte
	)
	if err := s.Scan(&a.Username, &a.Email, &a.Active, &groupsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, app.ErrNotFound
		}
		return domain.Account{}, err
	}
	groups, err := DecodeGroups(groupsRaw)
	if err != nil {
		return domain.Account{}, fmt.Errorf("decode account %s: %w", a.Username, err)
	}
	a.Groups = groups
	return a, nil
}

func scanTask(s scanner) (domain.Task, error) {
	var (
		t                      domain.Task
		stateRaw, dateRaw      string
		notesRaw               []byte
		createdRaw, updatedRaw string
	)
	if err := s.Scan(
		&t.ID,
		&t.AppAcronym,
		&t.Name,
		&t.Description,
		&t.Plan,
		&stateRaw,
		&t.Owner,
		&t.Creator,
		&dateRaw,
		&notesRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, app.ErrNotFound
		}
		return domain.Task{}, err
	}
	var err error
	if t.State, err = domain.ParseState(stateRaw); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s state: %w", t.ID, err)
	}
	if t.CreateDate, err = domain.ParseDate(dateRaw); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s create_date: %w", t.ID, err)
	}
	if t.Notes, err = DecodeNotes(notesRaw); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	t.CreatedAt = ParseTS(createdRaw)
	t.UpdatedAt = ParseTS(updatedRaw)
	return t, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}
