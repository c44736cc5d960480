package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hylla/taskgate/internal/adapters/storage/sqlstore"
	"github.com/hylla/taskgate/internal/app"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// DefaultBusyTimeout bounds how long a writer waits for the database lock.
const DefaultBusyTimeout = 5 * time.Second

// Repository represents repository data used by this package.
type Repository struct {
	*sqlstore.Store
}

// Open opens a file database, creating its directory when needed.
// busyTimeout <= 0 uses DefaultBusyTimeout.
func Open(path string, busyTimeout time.Duration) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return wrap(db)
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each connection would get its own private database otherwise.
	db.SetMaxOpenConns(1)
	return wrap(db)
}

func wrap(db *sql.DB) (*Repository, error) {
	store, err := sqlstore.New(context.Background(), db, dialect())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{Store: store}, nil
}

// dialect serializes writers with BEGIN IMMEDIATE. SQLite locks the whole
// database, so row-lock suffixes are not needed.
func dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:       "sqlite",
		Migrations: migrations(),
		Begin: func(ctx context.Context, conn *sql.Conn) error {
			_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
			return err
		},
		UpsertAccountSQL: `
			INSERT INTO accounts(username, email, active, groups_json)
			VALUES(?, ?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET
				email = excluded.email,
				active = excluded.active,
				groups_json = excluded.groups_json
		`,
		Classify: classifyError,
	}
}

// migrations handles migrate.
func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS applications (
			acronym TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			task_counter INTEGER NOT NULL DEFAULT 0 CHECK (task_counter >= 0),
			start_date TEXT,
			end_date TEXT,
			permits_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS plans (
			app_acronym TEXT NOT NULL,
			name TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			PRIMARY KEY(app_acronym, name),
			FOREIGN KEY(app_acronym) REFERENCES applications(acronym) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			username TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			groups_json TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			row_order INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			app_acronym TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			owner TEXT NOT NULL,
			creator TEXT NOT NULL,
			create_date TEXT NOT NULL,
			notes_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(app_acronym) REFERENCES applications(acronym)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at, row_order);`,
	}
}

// classifyError maps SQLITE_BUSY/LOCKED onto app.ErrTransient and constraint
// violations onto app.ErrConflict.
func classifyError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", app.ErrTransient, err)
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %w", app.ErrConflict, err)
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "database is locked") {
		return fmt.Errorf("%w: %w", app.ErrTransient, err)
	}
	return err
}
