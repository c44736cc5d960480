//go:build integration

package mysql

import (
	"context"
	"database/sql"
	"log"
	"os"
	"testing"
	"time"

	tcMySQL "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/hylla/taskgate/internal/adapters/storage/storagetest"
	"github.com/hylla/taskgate/internal/app"
)

var testDSN string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()
	ctr, err := tcMySQL.Run(ctx, "mysql:8.0.36",
		tcMySQL.WithDatabase("taskgate"),
		tcMySQL.WithUsername("taskgate"),
		tcMySQL.WithPassword("taskgate"),
	)
	if err != nil {
		log.Fatalf("start mysql container: %v", err)
	}
	defer ctr.Terminate(ctx) //nolint:errcheck

	testDSN, err = ctr.ConnectionString(ctx)
	if err != nil {
		log.Fatalf("mysql connection string: %v", err)
	}
	return m.Run()
}

// openClean drops every table so each subtest starts from an empty schema.
func openClean(t *testing.T) app.Store {
	t.Helper()
	db, err := sql.Open("mysql", testDSN)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	for _, table := range []string{"tasks", "plans", "accounts", "applications"} {
		if _, err := db.ExecContext(t.Context(), "DROP TABLE IF EXISTS "+table); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
	_ = db.Close()

	repo, err := Open(t.Context(), testDSN, 2*time.Second)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestRepository_Conformance(t *testing.T) {
	storagetest.Run(t, openClean)
}
