// Package httpapi provides the REST HTTP adapter for the task workflow.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hylla/taskgate/internal/adapters/server/common"
	"github.com/hylla/taskgate/internal/app"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	tasks  common.TaskService
	router chi.Router
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs the API router. Every route requires a bearer token.
func NewHandler(tasks common.TaskService, auth common.Authenticator, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{tasks: tasks}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(logger))
	r.Use(Authenticate(auth))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{Code: "not_found", Message: "endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, APIError{Code: "method_not_allowed", Message: "method not allowed"})
	})

	r.Get("/me", h.handleMe)
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.handleListTasks)
		r.Post("/", h.handleCreateTask)
		r.Get("/{taskID}", h.handleGetTask)
		r.Post("/{taskID}/transition", h.handleTransitionTask)
		r.Put("/{taskID}/plan", h.handleChangePlan)
		r.Post("/{taskID}/notes", h.handleAppendNote)
	})
	r.Route("/applications", func(r chi.Router) {
		r.Get("/", h.handleListApplications)
		r.Get("/{acronym}/access", h.handleAccess)
		r.Get("/{acronym}/plans", h.handleListPlans)
	})
	h.router = r
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// handleMe serves GET `/me`.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	me, err := h.tasks.Me(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

// handleListTasks serves GET `/tasks`.
func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.ListTasks(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleCreateTask serves POST `/tasks`.
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req common.CreateTaskRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	task, err := h.tasks.CreateTask(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// handleGetTask serves GET `/tasks/{taskID}`.
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleTransitionTask serves POST `/tasks/{taskID}/transition`.
func (h *Handler) handleTransitionTask(w http.ResponseWriter, r *http.Request) {
	var req common.TransitionTaskRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.TaskID = chi.URLParam(r, "taskID")
	task, err := h.tasks.TransitionTask(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleChangePlan serves PUT `/tasks/{taskID}/plan`.
func (h *Handler) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var req common.ChangePlanRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.TaskID = chi.URLParam(r, "taskID")
	task, err := h.tasks.ChangePlan(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleAppendNote serves POST `/tasks/{taskID}/notes`.
func (h *Handler) handleAppendNote(w http.ResponseWriter, r *http.Request) {
	var req common.AppendNoteRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.TaskID = chi.URLParam(r, "taskID")
	task, err := h.tasks.AppendNote(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// handleListApplications serves GET `/applications`.
func (h *Handler) handleListApplications(w http.ResponseWriter, r *http.Request) {
	applications, err := h.tasks.ListApplications(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": applications})
}

// handleAccess serves GET `/applications/{acronym}/access`.
func (h *Handler) handleAccess(w http.ResponseWriter, r *http.Request) {
	access, err := h.tasks.Access(r.Context(), chi.URLParam(r, "acronym"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, access)
}

// handleListPlans serves GET `/applications/{acronym}/plans`.
func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.tasks.ListPlans(r.Context(), chi.URLParam(r, "acronym"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

// StatusFor maps a transport error code onto an HTTP status.
func StatusFor(code string) int {
	switch code {
	case common.CodeUnauthenticated:
		return http.StatusUnauthorized
	case app.CodeForbidden:
		return http.StatusForbidden
	case app.CodeInvalidInput:
		return http.StatusBadRequest
	case app.CodeInvalidReference:
		return http.StatusUnprocessableEntity
	case app.CodeInvalidTransition, app.CodeConflict:
		return http.StatusConflict
	case app.CodeNotFound:
		return http.StatusNotFound
	case app.CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSONError(w, http.StatusInternalServerError, APIError{Code: app.CodeInternal, Message: "unknown error"})
		return
	}
	code := common.ErrorCode(err)
	if code == common.CodeUnauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="taskgate"`)
	}
	if code == app.CodeTransient {
		w.Header().Set("Retry-After", "1")
	}
	writeJSONError(w, StatusFor(code), APIError{Code: code, Message: err.Error()})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope. The payload is encoded before
// the status line goes out so encode failures can still answer 500.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		body.Reset()
		statusCode = http.StatusInternalServerError
		_ = json.NewEncoder(&body).Encode(ErrorEnvelope{Error: APIError{Code: "encode_error", Message: err.Error()}})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body.Bytes())
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// normalizePath canonicalizes one request path for logging.
func normalizePath(path string) string {
	return "/" + strings.Trim(strings.TrimSpace(path), "/")
}
