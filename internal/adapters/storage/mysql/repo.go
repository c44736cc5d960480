// Package mysql stores tasks in MySQL/InnoDB using SELECT ... FOR UPDATE row locks.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/hylla/taskgate/internal/adapters/storage/sqlstore"
	"github.com/hylla/taskgate/internal/app"
)

// MySQL server error numbers treated specially.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errDuplicateEntry  = 1062
	errNoReferencedRow = 1452
)

// DefaultLockTimeout bounds how long a unit of work waits on a row lock.
const DefaultLockTimeout = 5 * time.Second

// Repository represents repository data used by this package.
type Repository struct {
	*sqlstore.Store
}

// Open connects to dsn and migrates the schema.
// lockTimeout <= 0 uses DefaultLockTimeout; InnoDB rounds it up to whole seconds.
func Open(ctx context.Context, dsn string, lockTimeout time.Duration) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql dsn is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// Report matched rows so an UPDATE that changes nothing is not mistaken for a missing row.
	cfg.ClientFoundRows = true
	cfg.MultiStatements = false
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}

	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	store, err := sqlstore.New(ctx, db, dialect(lockTimeout))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{Store: store}, nil
}

func dialect(lockTimeout time.Duration) sqlstore.Dialect {
	waitSeconds := int(math.Ceil(lockTimeout.Seconds()))
	return sqlstore.Dialect{
		Name:       "mysql",
		Migrations: migrations(),
		Begin: func(ctx context.Context, conn *sql.Conn) error {
			if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", waitSeconds)); err != nil {
				return err
			}
			_, err := conn.ExecContext(ctx, "START TRANSACTION")
			return err
		},
		LockSuffix: " FOR UPDATE",
		UpsertAccountSQL: `
			INSERT INTO accounts(username, email, active, groups_json)
			VALUES(?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				email = VALUES(email),
				active = VALUES(active),
				groups_json = VALUES(groups_json)
		`,
		Classify: classifyError,
	}
}

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS applications (
			acronym VARCHAR(50) NOT NULL PRIMARY KEY,
			description VARCHAR(255) NOT NULL DEFAULT '',
			task_counter BIGINT NOT NULL DEFAULT 0,
			start_date VARCHAR(10) NULL,
			end_date VARCHAR(10) NULL,
			permits_json TEXT NOT NULL,
			created_at VARCHAR(30) NOT NULL,
			updated_at VARCHAR(30) NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS plans (
			app_acronym VARCHAR(50) NOT NULL,
			name VARCHAR(50) NOT NULL,
			start_date VARCHAR(10) NOT NULL,
			end_date VARCHAR(10) NOT NULL,
			PRIMARY KEY (app_acronym, name),
			CONSTRAINT fk_plans_app FOREIGN KEY (app_acronym) REFERENCES applications(acronym) ON DELETE CASCADE
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS accounts (
			username VARCHAR(50) NOT NULL PRIMARY KEY,
			email VARCHAR(255) NOT NULL DEFAULT '',
			active TINYINT(1) NOT NULL DEFAULT 1,
			groups_json TEXT NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS tasks (
			row_order BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(80) NOT NULL,
			app_acronym VARCHAR(50) NOT NULL,
			name VARCHAR(50) NOT NULL,
			description VARCHAR(255) NOT NULL DEFAULT '',
			plan VARCHAR(50) NOT NULL DEFAULT '',
			state VARCHAR(16) NOT NULL,
			owner VARCHAR(50) NOT NULL,
			creator VARCHAR(50) NOT NULL,
			create_date VARCHAR(10) NOT NULL,
			notes_json LONGTEXT NOT NULL,
			created_at VARCHAR(30) NOT NULL,
			updated_at VARCHAR(30) NOT NULL,
			UNIQUE KEY uq_tasks_id (id),
			KEY idx_tasks_created (created_at, row_order),
			CONSTRAINT fk_tasks_app FOREIGN KEY (app_acronym) REFERENCES applications(acronym)
		) ENGINE=InnoDB`,
	}
}

// classifyError maps lock-wait timeouts and deadlocks onto app.ErrTransient.
func classifyError(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case errLockWaitTimeout, errDeadlock:
		return fmt.Errorf("%w: %w", app.ErrTransient, err)
	case errDuplicateEntry:
		return fmt.Errorf("%w: %w", app.ErrConflict, err)
	case errNoReferencedRow:
		return fmt.Errorf("%w: %w", app.ErrInvalidReference, err)
	}
	return err
}
