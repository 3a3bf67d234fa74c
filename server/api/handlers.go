package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/cairn/depgraph"
	"github.com/GoCodeAlone/cairn/internal/service"
	"github.com/GoCodeAlone/cairn/task"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Service Service
	Logger  *slog.Logger
	Version string
	StartAt int64 // unix timestamp of server start
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/lists", h.listLists)
	mux.HandleFunc("POST /api/lists", h.createList)
	mux.HandleFunc("GET /api/lists/{id}", h.getList)
	mux.HandleFunc("DELETE /api/lists/{id}", h.deleteList)
	mux.HandleFunc("GET /api/lists/{id}/tasks", h.listTasks)
	mux.HandleFunc("GET /api/lists/{id}/ready", h.readyTasks)
	mux.HandleFunc("GET /api/lists/{id}/analysis", h.analysis)
	mux.HandleFunc("GET /api/lists/{id}/cycles", h.cycles)

	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", h.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)
	mux.HandleFunc("PUT /api/tasks/{id}/dependencies", h.setDependencies)
	mux.HandleFunc("POST /api/tasks/{id}/dependencies/validate", h.validateDependencies)
	mux.HandleFunc("GET /api/tasks/{id}/block-reason", h.blockReason)

	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StatusCode maps a domain error to an HTTP status: cycles and version
// conflicts are 409, unknown ids 404, bad input 400, anything else 500.
func StatusCode(err error) int {
	var (
		cycle *depgraph.CircularDependencyError
		verr  *depgraph.ValidationError
	)
	switch {
	case errors.As(err, &cycle), errors.Is(err, task.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &verr), errors.Is(err, task.ErrInvalidInput), errors.Is(err, task.ErrInvalidTransition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status StatusCode picks. Cycle errors also carry
// the offending cycle.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
	}
	var cycle *depgraph.CircularDependencyError
	if errors.As(err, &cycle) {
		writeJSON(w, code, map[string]any{"error": err.Error(), "cycle": cycle.Cycle})
		return
	}
	writeError(w, code, err.Error())
}

// intParam reads a non-negative integer query parameter, 0 when absent.
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &depgraph.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

// --- List handlers ---

func (h *Handlers) listLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.Service.Lists(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

func (h *Handlers) createList(w http.ResponseWriter, r *http.Request) {
	var l task.List
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	created, err := h.Service.CreateList(r.Context(), &l)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) getList(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.GetList(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handlers) deleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteList(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	filter := task.Filter{ListID: r.PathValue("id")}
	if s := r.URL.Query().Get("status"); s != "" {
		st := task.Status(s)
		filter.Status = &st
	}
	var err error
	if filter.Limit, err = intParam(r, "limit"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		h.fail(w, r, err)
		return
	}

	tasks, err := h.Service.ListTasks(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) readyTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tasks, err := h.Service.ReadyTasks(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) analysis(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) cycles(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ListCycles(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Task handlers ---

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	created, err := h.Service.CreateTask(r.Context(), &t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Service.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	var p service.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Service.UpdateTask(r.Context(), r.PathValue("id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Dependency handlers ---

// dependenciesRequest is the body of the dependency endpoints. The field is
// required; an empty array clears.
type dependenciesRequest struct {
	Dependencies *[]string `json:"dependencies"`
}

var errDependenciesRequired = errors.New(`"dependencies" is required; send [] to clear`)

func decodeDependencies(r *http.Request) ([]string, error) {
	var req dependenciesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.Dependencies == nil {
		return nil, errDependenciesRequired
	}
	return *req.Dependencies, nil
}

func (h *Handlers) setDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := decodeDependencies(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Service.SetDependencies(r.Context(), r.PathValue("id"), deps)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) validateDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := decodeDependencies(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := h.Service.ValidateDependencies(r.Context(), r.PathValue("id"), deps)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) blockReason(w http.ResponseWriter, r *http.Request) {
	reason, err := h.Service.BlockReason(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reason)
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": h.Version,
	}
	if h.StartAt > 0 {
		resp["uptime_seconds"] = time.Now().Unix() - h.StartAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
