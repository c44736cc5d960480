// Package postgres stores tasks in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hylla/taskgate/internal/adapters/storage/sqlstore"
	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/domain"
)

// SQLSTATE codes treated specially.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// DefaultLockTimeout bounds how long a unit of work waits on a row lock.
const DefaultLockTimeout = 5 * time.Second

// Repository represents repository data used by this package.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var (
	_ app.Store = (*Repository)(nil)
	_ app.Tx    = (*Tx)(nil)
)

// Open creates a pool, verifies connectivity and migrates the schema.
func Open(ctx context.Context, dsn string, lockTimeout time.Duration) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	repo := &Repository{pool: pool, lockTimeout: lockTimeout}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS applications (
			acronym TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			task_counter BIGINT NOT NULL DEFAULT 0 CHECK (task_counter >= 0),
			start_date DATE,
			end_date DATE,
			permits_json JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			app_acronym TEXT NOT NULL REFERENCES applications(acronym) ON DELETE CASCADE,
			name TEXT NOT NULL,
			start_date DATE NOT NULL,
			end_date DATE NOT NULL,
			PRIMARY KEY (app_acronym, name)
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			username TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			groups TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			row_order BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			app_acronym TEXT NOT NULL REFERENCES applications(acronym),
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			owner TEXT NOT NULL,
			creator TEXT NOT NULL,
			create_date DATE NOT NULL,
			notes_json JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at, row_order)`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// RunInTx runs fn inside one transaction with a bounded lock_timeout.
func (r *Repository) RunInTx(ctx context.Context, fn func(context.Context, app.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classifyError(fmt.Errorf("begin transaction: %w", err))
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())); err != nil {
		return classifyError(fmt.Errorf("set lock_timeout: %w", err))
	}
	if err := fn(ctx, &Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// queryRower represents a query-only contract shared by the pool and transactions.
type queryRower interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

const applicationColumns = `acronym, description, task_counter, start_date, end_date, permits_json, created_at, updated_at`

const taskColumns = `id, app_acronym, name, description, plan, state, owner, creator, create_date, notes_json, created_at, updated_at`

// CreateApplication inserts one application.
func (r *Repository) CreateApplication(ctx context.Context, a domain.Application) error {
	permits, err := sqlstore.EncodePermits(a.Permits)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO applications(`+applicationColumns+`)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.Acronym, a.Description, a.TaskCounter, a.StartDate, a.EndDate, []byte(permits), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return classifyError(fmt.Errorf("insert application %s: %w", a.Acronym, err))
	}
	return nil
}

// GetApplication returns one application.
func (r *Repository) GetApplication(ctx context.Context, acronym string) (domain.Application, error) {
	return getApplication(ctx, r.pool, acronym, "")
}

// ListApplications returns every application ordered by acronym.
func (r *Repository) ListApplications(ctx context.Context) ([]domain.Application, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+applicationColumns+` FROM applications ORDER BY acronym ASC`)
	if err != nil {
		return nil, classifyError(err)
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
func (r *Repository) CreatePlan(ctx context.Context, p domain.Plan) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO plans(app_acronym, name, start_date, end_date)
		VALUES($1, $2, $3, $4)
	`, p.AppAcronym, p.Name, p.StartDate, p.EndDate)
	if err != nil {
		return classifyError(fmt.Errorf("insert plan %s/%s: %w", p.AppAcronym, p.Name, err))
	}
	return nil
}

// ListPlans returns the plans of one application ordered by start date.
func (r *Repository) ListPlans(ctx context.Context, acronym string) ([]domain.Plan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT app_acronym, name, start_date, end_date
		FROM plans
		WHERE app_acronym = $1
		ORDER BY start_date ASC, name ASC
	`, acronym)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	out := make([]domain.Plan, 0)
	for rows.Next() {
		var p domain.Plan
		if err := rows.Scan(&p.AppAcronym, &p.Name, &p.StartDate, &p.EndDate); err != nil {
			return nil, err
		}
		p.StartDate, p.EndDate = calendarDay(p.StartDate), calendarDay(p.EndDate)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertAccount inserts or replaces one account.
func (r *Repository) UpsertAccount(ctx context.Context, a domain.Account) error {
	groups := a.Groups
	if groups == nil {
		groups = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts(username, email, active, groups)
		VALUES($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET
			email = EXCLUDED.email,
			active = EXCLUDED.active,
			groups = EXCLUDED.groups
	`, a.Username, a.Email, a.Active, groups)
	if err != nil {
		return classifyError(fmt.Errorf("upsert account %s: %w", a.Username, err))
	}
	return nil
}

// GetAccount returns one account.
func (r *Repository) GetAccount(ctx context.Context, username string) (domain.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT username, email, active, groups FROM accounts WHERE username = $1`, username)
	return scanAccount(row)
}

// ListAccounts returns every account ordered by username.
func (r *Repository) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT username, email, active, groups FROM accounts ORDER BY username ASC`)
	if err != nil {
		return nil, classifyError(err)
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
func (r *Repository) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getTask(ctx, r.pool, id, "")
}

// ListTasks returns every task ordered by creation ascending.
func (r *Repository) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, row_order ASC`)
	if err != nil {
		return nil, classifyError(err)
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
	row := q.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE acronym = $1`+suffix, acronym)
	a, err := scanApplication(row)
	return a, classifyError(err)
}

func getTask(ctx context.Context, q queryRower, id, suffix string) (domain.Task, error) {
	row := q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`+suffix, id)
	t, err := scanTask(row)
	return t, classifyError(err)
}

func scanApplication(row pgx.Row) (domain.Application, error) {
	var (
		a          domain.Application
		permitsRaw []byte
	)
	if err := row.Scan(&a.Acronym, &a.Description, &a.TaskCounter, &a.StartDate, &a.EndDate, &permitsRaw, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Application{}, app.ErrNotFound
		}
		return domain.Application{}, err
	}
	permits, err := sqlstore.DecodePermits(permitsRaw)
	if err != nil {
		return domain.Application{}, fmt.Errorf("decode application %s: %w", a.Acronym, err)
	}
	a.Permits = permits
	a.StartDate = utcDay(a.StartDate)
	a.EndDate = utcDay(a.EndDate)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.Username, &a.Email, &a.Active, &a.Groups); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, app.ErrNotFound
		}
		return domain.Account{}, err
	}
	return a, nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		t        domain.Task
		stateRaw string
		notesRaw []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.AppAcronym,
		&t.Name,
		&t.Description,
		&t.Plan,
		&stateRaw,
		&t.Owner,
		&t.Creator,
		&t.CreateDate,
		&notesRaw,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, app.ErrNotFound
		}
		return domain.Task{}, err
	}
	var err error
	if t.State, err = domain.ParseState(stateRaw); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s state: %w", t.ID, err)
	}
	if t.Notes, err = sqlstore.DecodeNotes(notesRaw); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	t.CreateDate = calendarDay(t.CreateDate)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func utcDay(day *time.Time) *time.Time {
	if day == nil {
		return nil
	}
	normalized := calendarDay(*day)
	return &normalized
}

// calendarDay keeps the date as written in d's own location.
func calendarDay(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// classifyError maps lock and serialization failures onto app.ErrTransient.
func classifyError(err error) error {
	if err == nil || app.ErrorCode(err) != app.CodeInternal {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %w", app.ErrTransient, err)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %w", app.ErrConflict, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %w", app.ErrInvalidReference, err)
	}
	return err
}
