package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hylla/taskgate/internal/adapters/auth"
	"github.com/hylla/taskgate/internal/adapters/server/common"
	"github.com/hylla/taskgate/internal/adapters/storage/sqlite"
	"github.com/hylla/taskgate/internal/adapters/storage/storagetest"
	"github.com/hylla/taskgate/internal/app"
	"github.com/hylla/taskgate/internal/telemetry"
)

type testStack struct {
	server *httptest.Server
	tokens *auth.Tokens
	ready  error
}

// newTestStack wires sqlite, the service, real tokens and every transport.
func newTestStack(t *testing.T) *testStack {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	storagetest.Seed(t, repo, 0)

	registry := prometheus.NewRegistry()
	svc := app.NewService(repo, nil, app.ServiceConfig{Metrics: telemetry.NewMetrics(registry)})
	tokens, err := auth.NewTokens(auth.TokensConfig{Secret: "server-test-secret-0123456789"})
	if err != nil {
		t.Fatalf("NewTokens() error = %v", err)
	}
	adapter := common.NewAppServiceAdapter(svc, tokens)

	stack := &testStack{tokens: tokens}
	handler, _, err := NewHandler(Config{}, Dependencies{
		Tasks:   adapter,
		Auth:    adapter,
		Metrics: registry,
		Ready: func(ctx context.Context) error {
			if stack.ready != nil {
				return stack.ready
			}
			return repo.Ping(ctx)
		},
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	stack.server = httptest.NewServer(handler)
	t.Cleanup(stack.server.Close)
	return stack
}

func (s *testStack) token(t *testing.T, username string) string {
	t.Helper()
	raw, _, err := s.tokens.Issue(username)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return raw
}

func (s *testStack) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return resp, data
}

// TestHandlerHealthAndReadiness verifies liveness and readiness probes.
func TestHandlerHealthAndReadiness(t *testing.T) {
	stack := newTestStack(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, body := stack.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
			t.Fatalf("%s = %d %s", path, resp.StatusCode, body)
		}
	}

	stack.ready = errors.New("store offline")
	resp, body := stack.do(t, http.MethodGet, "/readyz", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "store offline") {
		t.Fatalf("/readyz = %d %s", resp.StatusCode, body)
	}
}

// TestHandlerEndToEndWorkflow drives a task from Open to Closed over REST.
func TestHandlerEndToEndWorkflow(t *testing.T) {
	stack := newTestStack(t)
	alice := stack.token(t, "alice")
	bob := stack.token(t, "bob")

	resp, body := stack.do(t, http.MethodPost, "/api/v1/tasks", alice, map[string]any{
		"app_acronym": "APP1",
		"name":        "Ship it",
		"plan":        "Q1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %s", resp.StatusCode, body)
	}
	var task common.TaskView
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if task.ID != "APP1_1" || task.State != "Open" {
		t.Fatalf("unexpected task %#v", task)
	}

	for _, step := range []struct {
		token  string
		target string
		want   int
	}{
		{alice, "ToDo", http.StatusOK},
		{alice, "Doing", http.StatusOK},
		{alice, "Done", http.StatusOK},
		{alice, "Closed", http.StatusForbidden},
		{bob, "Closed", http.StatusOK},
		{bob, "Doing", http.StatusForbidden},
	} {
		resp, body := stack.do(t, http.MethodPost, "/api/v1/tasks/APP1_1/transition", step.token, map[string]any{"target": step.target})
		if resp.StatusCode != step.want {
			t.Fatalf("transition to %s = %d %s, want %d", step.target, resp.StatusCode, body, step.want)
		}
	}

	resp, body = stack.do(t, http.MethodGet, "/api/v1/tasks/APP1_1", alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if task.State != "Closed" || len(task.Notes) != 4 {
		t.Fatalf("unexpected closed task %#v", task)
	}

	resp, body = stack.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "taskgate_tasks_created_total") {
		t.Fatalf("/metrics = %d", resp.StatusCode)
	}
}

// TestHandlerRejectsBadTokens verifies REST and MCP both require a valid bearer token.
func TestHandlerRejectsBadTokens(t *testing.T) {
	stack := newTestStack(t)
	for _, tc := range []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/v1/tasks", nil},
		{http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}},
	} {
		resp, body := stack.do(t, tc.method, tc.path, "not-a-token", tc.body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s = %d %s, want 401", tc.path, resp.StatusCode, body)
		}
	}
}

// TestHandlerMCPCallsServiceAsCaller verifies the MCP endpoint acts as the token subject.
func TestHandlerMCPCallsServiceAsCaller(t *testing.T) {
	stack := newTestStack(t)
	alice := stack.token(t, "alice")
	resp, body := stack.do(t, http.MethodPost, "/mcp", alice, map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      "taskgate.whoami",
			"arguments": map[string]any{},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mcp = %d %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `alice`) {
		t.Fatalf("whoami payload missing caller: %s", body)
	}
}

func TestNormalizeConfig(t *testing.T) {
	cfg, err := normalizeConfig(Config{APIEndpoint: "api/", MCPEndpoint: " ", MetricsEndpoint: "/"})
	if err != nil {
		t.Fatalf("normalizeConfig() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api" || cfg.MCPEndpoint != "/mcp" || cfg.MetricsEndpoint != "/metrics" || cfg.ServerName != "taskgate" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if _, err := normalizeConfig(Config{APIEndpoint: "/mcp"}); err == nil {
		t.Fatal("expected endpoint collision error")
	}
	if _, err := normalizeConfig(Config{MetricsEndpoint: "/healthz"}); err == nil {
		t.Fatal("expected reserved endpoint collision error")
	}
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected missing dependency error")
	}
}
