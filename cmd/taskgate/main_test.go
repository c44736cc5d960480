package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hylla/taskgate/internal/adapters/auth"
	"github.com/hylla/taskgate/internal/adapters/server/common"
	"github.com/hylla/taskgate/internal/adapters/storage/sqlite"
	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/config"
	"github.com/hylla/taskgate/internal/domain"
)

const testSecret = "cli-test-secret-0123456789"

// TestMain sets deterministic environment defaults for CLI tests.
func TestMain(m *testing.M) {
	_ = os.Setenv("TASKGATE_DEV_MODE", "false")
	_ = os.Unsetenv("TASKGATE_HOME")
	os.Exit(m.Run())
}

const fixture = `
applications:
  - acronym: OPS
    permits:
      create: [dev]
      open: [dev]
      todo: [dev]
      doing: [dev]
      done: [lead]
    plans:
      - name: Week 1
        start_date: "2026-03-02"
        end_date: "2026-03-06"
accounts:
  - username: alice
    groups: [dev]
  - username: bob
    groups: [lead]
`

// workspace returns a db path and seed fixture inside a temp dir.
func workspace(t *testing.T) (dbPath, cfgPath, seedPath string) {
	t.Helper()
	tmp := t.TempDir()
	dbPath = filepath.Join(tmp, "taskgate.db")
	cfgPath = filepath.Join(tmp, "config.toml")
	seedPath = filepath.Join(tmp, "seed.yaml")
	if err := os.WriteFile(seedPath, []byte(fixture), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return dbPath, cfgPath, seedPath
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"version"}, &out, io.Discard); err != nil {
		t.Fatalf("run(version) error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "taskgate dev" {
		t.Fatalf("unexpected version output %q", got)
	}
}

func TestRunPathsUsesAppName(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"--app", "gatekeeper", "paths"}, &out, io.Discard); err != nil {
		t.Fatalf("run(paths) error = %v", err)
	}
	text := out.String()
	for _, want := range []string{"app: gatekeeper", "dev_mode: false", "gatekeeper.db", "log_dir: "} {
		if !strings.Contains(text, want) {
			t.Fatalf("paths output missing %q: %q", want, text)
		}
	}
}

func TestRunInitWritesConfigOnce(t *testing.T) {
	dbPath, cfgPath, _ := workspace(t)
	args := []string{"--config", cfgPath, "--db", dbPath, "init"}
	if err := run(context.Background(), args, io.Discard, io.Discard); err != nil {
		t.Fatalf("run(init) error = %v", err)
	}
	cfg, err := config.Load(cfgPath, config.Default("/elsewhere.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != dbPath {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if err := run(context.Background(), args, io.Discard, io.Discard); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("second run(init) error = %v, want already exists", err)
	}
}

func TestRunSeedTokenAndTasks(t *testing.T) {
	t.Setenv("TASKGATE_TOKEN_SECRET", testSecret)
	dbPath, cfgPath, seedPath := workspace(t)
	base := []string{"--config", cfgPath, "--db", dbPath}
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, append(base, "seed", seedPath), &out, io.Discard); err != nil {
		t.Fatalf("run(seed) error = %v", err)
	}
	var res struct {
		Applications int `json:"applications"`
		Plans        int `json:"plans"`
		Accounts     int `json:"accounts"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("Unmarshal(seed) error = %v", err)
	}
	if res.Applications != 1 || res.Plans != 1 || res.Accounts != 2 {
		t.Fatalf("unexpected seed result %#v", res)
	}

	out.Reset()
	if err := run(ctx, append(base, "token", "alice"), &out, io.Discard); err != nil {
		t.Fatalf("run(token) error = %v", err)
	}
	tokens, err := auth.NewTokens(auth.TokensConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("NewTokens() error = %v", err)
	}
	subject, err := tokens.Verify(strings.TrimSpace(out.String()))
	if err != nil || subject != "alice" {
		t.Fatalf("Verify() = %q, %v", subject, err)
	}

	// Create one task directly so list/show have something to print.
	repo, err := sqlite.Open(dbPath, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	svc := app.NewService(repo, nil, app.ServiceConfig{})
	alice := domain.Principal{Username: "alice", Groups: []string{"dev"}, Active: true}
	if _, err := svc.CreateTask(ctx, alice, app.CreateTaskInput{Name: "Rotate keys", Plan: "Week 1", AppAcronym: "OPS"}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	out.Reset()
	if err := run(ctx, append(base, "tasks", "list"), &out, io.Discard); err != nil {
		t.Fatalf("run(tasks list) error = %v", err)
	}
	var list []common.TaskView
	if err := json.Unmarshal(out.Bytes(), &list); err != nil {
		t.Fatalf("Unmarshal(list) error = %v", err)
	}
	if len(list) != 1 || list[0].ID != "OPS_1" || list[0].State != "Open" {
		t.Fatalf("unexpected task list %#v", list)
	}

	out.Reset()
	if err := run(ctx, append(base, "tasks", "show", "OPS_1"), &out, io.Discard); err != nil {
		t.Fatalf("run(tasks show) error = %v", err)
	}
	if !strings.Contains(out.String(), `"plan": "Week 1"`) {
		t.Fatalf("unexpected show output %q", out.String())
	}

	err = run(ctx, append(base, "tasks", "show", "OPS_9"), io.Discard, io.Discard)
	if !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("run(tasks show missing) error = %v, want ErrNotFound", err)
	}
}

func TestRunTokenRequiresSecretAndKnownAccount(t *testing.T) {
	dbPath, cfgPath, seedPath := workspace(t)
	base := []string{"--config", cfgPath, "--db", dbPath}
	ctx := context.Background()
	if err := run(ctx, append(base, "seed", seedPath), io.Discard, io.Discard); err != nil {
		t.Fatalf("run(seed) error = %v", err)
	}

	t.Setenv("TASKGATE_TOKEN_SECRET", "")
	if err := run(ctx, append(base, "token", "alice"), io.Discard, io.Discard); !errors.Is(err, errTokenSecretRequired) {
		t.Fatalf("run(token) error = %v, want secret required", err)
	}

	t.Setenv("TASKGATE_TOKEN_SECRET", testSecret)
	if err := run(ctx, append(base, "token", "mallory"), io.Discard, io.Discard); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("run(token unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRunRejectsInvalidLoggingLevelFromConfig(t *testing.T) {
	dbPath, cfgPath, _ := workspace(t)
	if err := os.WriteFile(cfgPath, []byte("[logging]\nlevel = \"verbose\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	err := run(context.Background(), []string{"--db", dbPath, "--config", cfgPath, "tasks", "list"}, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "invalid logging.level") {
		t.Fatalf("expected logging level validation error, got %v", err)
	}
}

func TestRunServeStopsOnCancel(t *testing.T) {
	t.Setenv("TASKGATE_TOKEN_SECRET", testSecret)
	dbPath, cfgPath, _ := workspace(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	var stderr bytes.Buffer
	err := run(ctx, []string{"--config", cfgPath, "--db", dbPath, "serve", "--http-bind", "127.0.0.1:0"}, io.Discard, &stderr)
	if err != nil {
		t.Fatalf("run(serve) error = %v", err)
	}
	if !strings.Contains(stderr.String(), "server listening") {
		t.Fatalf("expected listen log, got %q", stderr.String())
	}
}

func TestRunUnknownDriverFails(t *testing.T) {
	t.Setenv("TASKGATE_DB_DRIVER", "oracle")
	dbPath, cfgPath, _ := workspace(t)
	err := run(context.Background(), []string{"--config", cfgPath, "--db", dbPath, "tasks", "list"}, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "invalid database.driver") {
		t.Fatalf("expected driver validation error, got %v", err)
	}
}

// TestWorkspaceRootFromUsesNearestMarker verifies workspace-root resolution behavior.
func TestWorkspaceRootFromUsesNearestMarker(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nested := filepath.Join(root, "cmd", "taskgate")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	got := workspaceRootFrom(nested)
	if filepath.Clean(got) != filepath.Clean(root) {
		t.Fatalf("expected workspace root %q, got %q", root, got)
	}
}

func TestRuntimeLoggerWritesDevFile(t *testing.T) {
	var console bytes.Buffer
	cfg := config.Default("/tmp/taskgate.db").Logging
	cfg.DevFile.Dir = t.TempDir()

	logger, err := newRuntimeLogger(&console, "task gate", true, cfg, func() time.Time {
		return time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	logger.Info("lifecycle event", "step", 1)
	logger.Component().Info("request served", "status", 200)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if filepath.Base(logger.DevLogPath()) != "task-gate-20260223.log" {
		t.Fatalf("unexpected dev log path %q", logger.DevLogPath())
	}
	content, err := os.ReadFile(logger.DevLogPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, want := range []string{"lifecycle event", "request served", "status=200"} {
		if !strings.Contains(string(content), want) {
			t.Fatalf("dev log missing %q: %q", want, content)
		}
	}
	if !strings.Contains(console.String(), "request served") {
		t.Fatalf("console missing component log: %q", console.String())
	}
}

func TestRuntimeLoggerRejectsUnknownLevel(t *testing.T) {
	cfg := config.Default("/tmp/taskgate.db").Logging
	cfg.Level = "loud"
	if _, err := newRuntimeLogger(io.Discard, "taskgate", false, cfg, nil); err == nil {
		t.Fatal("expected level parse error")
	}
}
