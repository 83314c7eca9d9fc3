package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/crmpilot/internal/apperr"
	"github.com/kalambet/crmpilot/internal/auth"
	"github.com/kalambet/crmpilot/internal/jobs"
	"github.com/kalambet/crmpilot/internal/storage"
)

const defaultInteractionLimit = 20

type customerRequest struct {
	Name    string                 `json:"name"`
	Email   string                 `json:"email"`
	Company string                 `json:"company"`
	Type    storage.CustomerType   `json:"type"`
	Status  storage.CustomerStatus `json:"status"`
	Tags    []string               `json:"tags"`
}

type interactionRequest struct {
	Type       storage.InteractionType `json:"type"`
	Summary    string                  `json:"summary"`
	Details    string                  `json:"details"`
	OccurredAt *time.Time              `json:"occurred_at"`
}

type taskRequest struct {
	CustomerID  string               `json:"customer_id"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	DueAt       time.Time            `json:"due_at"`
	Priority    storage.TaskPriority `json:"priority"`
	Status      storage.TaskStatus   `json:"status"`
	Tags        []string             `json:"tags"`
}

type taskPatch struct {
	Status storage.TaskStatus `json:"status"`
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("invalid request body")
	}
	return nil
}

// storeErr turns storage.ErrNotFound into a NotFound for what, and anything
// else into an internal error.
func storeErr(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("%s not found", what)
	}
	return apperr.Wrap(apperr.KindInternal, err, what)
}

func handleListCustomers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		page := storage.Page{
			Limit:  parseIntParam(r, "limit", 0, 0),
			Offset: parseIntParam(r, "offset", 0, 0),
		}
		customers, err := deps.Store.ListCustomers(r.Context(), userID, page)
		if err != nil {
			writeError(w, r, deps.Logger, storeErr(err, "customers"))
			return
		}
		writeJSON(w, http.StatusOK, customers)
	}
}

func handleCreateCustomer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		var req customerRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}

		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, r, deps.Logger, apperr.Invalid("name is required"))
			return
		}
		if req.Type == "" {
			req.Type = storage.CustomerBusiness
		}
		if req.Status == "" {
			req.Status = storage.CustomerActive
		}
		if !req.Type.Valid() {
			writeError(w, r, deps.Logger, apperr.Invalid("unknown customer type %q", req.Type))
			return
		}
		if !req.Status.Valid() {
			writeError(w, r, deps.Logger, apperr.Invalid("unknown customer status %q", req.Status))
			return
		}

		c, err := deps.Store.CreateCustomer(r.Context(), storage.Customer{
			ID:      uuid.NewString(),
			UserID:  userID,
			Name:    req.Name,
			Email:   strings.TrimSpace(req.Email),
			Company: strings.TrimSpace(req.Company),
			Type:    req.Type,
			Status:  req.Status,
			Tags:    req.Tags,
		})
		if err != nil {
			writeError(w, r, deps.Logger, storeErr(err, "customer"))
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func handleGetCustomer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		c, err := deps.Store.GetCustomer(r.Context(), userID, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, deps.Logger, storeErr(err, "customer"))
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		customerID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetCustomer(r.Context(), userID, customerID); err != nil {
			writeError(w, r, deps.Logger, storeErr(err, "customer"))
			return
		}

		limit := parseIntParam(r, "limit", defaultInteractionLimit, 100)
		interactions, err := deps.Store.ListInteractions(r.Context(), userID, customerID, limit)
		if err != nil {
			writeError(w, r, deps.Logger, storeErr(err, "interactions"))
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

func handleCreateInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		var req interactionRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		if !req.Type.Valid() {
			writeError(w, r, deps.Logger, apperr.Invalid("unknown interaction type %q", req.Type))
			return
		}
		req.Summary = strings.TrimSpace(req.Summary)
		if req.Summary == "" {
			writeError(w, r, deps.Logger, apperr.Invalid("summary is required"))
			return
		}

		ix := storage.Interaction{
			ID:         uuid.NewString(),
			CustomerID: chi.URLParam(r, "id"),
			UserID:     userID,
			Type:       req.Type,
			Summary:    req.Summary,
			Details:    req.Details,
		}
		if req.OccurredAt != nil {
			ix.OccurredAt = req.OccurredAt.UTC()
		}

		ix, err := deps.Store.CreateInteraction(r.Context(), ix)
		if err != nil {
			writeError(w, r, deps.Logger, storeErr(err, "customer"))
			return
		}

		// The interaction is saved either way; a queueing failure only
		// costs the background summary.
		if strings.TrimSpace(ix.Details) != "" && deps.Assistant != nil {
			if err := enqueueSummary(r, deps, userID, ix.ID); err != nil {
				deps.Logger.Warn("queueing interaction summary failed", "interaction_id", ix.ID, "error", err)
			}
		}

		writeJSON(w, http.StatusCreated, ix)
	}
}

func enqueueSummary(r *http.Request, deps Deps, userID, interactionID string) error {
	job, err := jobs.NewSummarizeJob(userID, interactionID)
	if err != nil {
		return err
	}
	return deps.Store.EnqueueJob(r.Context(), job)
}

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		status := storage.TaskStatus(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			writeError(w, r, deps.Logger, apperr.Invalid("unknown task status %q", status))
			return
		}
		page := storage.Page{
			Limit:  parseIntParam(r, "limit", 0, 0),
			Offset: parseIntParam(r, "offset", 0, 0),
		}
		tasks, err := deps.Store.ListTasks(r.Context(), userID, status, page)
		if err != nil {
			writeError(w, r, deps.Logger, storeErr(err, "tasks"))
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		var req taskRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}

		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" {
			writeError(w, r, deps.Logger, apperr.Invalid("title is required"))
			return
		}
		if req.DueAt.IsZero() {
			writeError(w, r, deps.Logger, apperr.Invalid("due_at is required"))
			return
		}
		if req.Priority == "" {
			req.Priority = storage.PriorityMedium
		}
		if req.Status == "" {
			req.Status = storage.TaskTodo
		}
		if !req.Priority.Valid() {
			writeError(w, r, deps.Logger, apperr.Invalid("unknown task priority %q", req.Priority))
			return
		}
		if !req.Status.Valid() {
			writeError(w, r, deps.Logger, apperr.Invalid("unknown task status %q", req.Status))
			return
		}

		t, err := deps.Store.CreateTask(r.Context(), storage.Task{
			ID:          uuid.NewString(),
			UserID:      userID,
			CustomerID:  strings.TrimSpace(req.CustomerID),
			Title:       req.Title,
			Description: req.Description,
			DueAt:       req.DueAt.UTC(),
			Priority:    req.Priority,
			Status:      req.Status,
			Tags:        req.Tags,
		})
		if err != nil {
			writeError(w, r, deps.Logger, storeErr(err, "customer"))
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleUpdateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		var req taskPatch
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}
		if !req.Status.Valid() {
			writeError(w, r, deps.Logger, apperr.Invalid("unknown task status %q", req.Status))
			return
		}

		t, err := deps.Store.UpdateTaskStatus(r.Context(), userID, chi.URLParam(r, "id"), req.Status)
		if err != nil {
			writeError(w, r, deps.Logger, storeErr(err, "task"))
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
