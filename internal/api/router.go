// Package api serves the HTTP surface: AI assistance, transcription and the
// owner-scoped record endpoints.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/crmpilot/internal/assist"
	"github.com/kalambet/crmpilot/internal/auth"
	"github.com/kalambet/crmpilot/internal/events"
	"github.com/kalambet/crmpilot/internal/metrics"
	"github.com/kalambet/crmpilot/internal/storage"
)

const (
	maxRequestBodySize    = 1 << 20  // 1MB
	DefaultMaxUploadBytes = 25 << 20 // 25MiB
)

// Store is the record store contract the handlers need. Both the SQLite and
// the PostgreSQL stores satisfy it.
type Store interface {
	CreateCustomer(ctx context.Context, c storage.Customer) (storage.Customer, error)
	GetCustomer(ctx context.Context, userID, id string) (storage.Customer, error)
	ListCustomers(ctx context.Context, userID string, page storage.Page) ([]storage.Customer, error)
	CreateInteraction(ctx context.Context, i storage.Interaction) (storage.Interaction, error)
	ListInteractions(ctx context.Context, userID, customerID string, limit int) ([]storage.Interaction, error)
	CreateTask(ctx context.Context, t storage.Task) (storage.Task, error)
	ListTasks(ctx context.Context, userID string, status storage.TaskStatus, page storage.Page) ([]storage.Task, error)
	UpdateTaskStatus(ctx context.Context, userID, id string, status storage.TaskStatus) (storage.Task, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Assistant runs AI intents.
type Assistant interface {
	Run(ctx context.Context, userID string, in assist.Intent) (assist.Result, error)
}

// Transcriber turns an uploaded audio stream into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Deps holds the handler dependencies. Assistant and Transcriber may be nil,
// in which case their routes answer 503.
type Deps struct {
	Store       Store
	Verifier    auth.Verifier
	CookieName  string
	Assistant   Assistant
	Transcriber Transcriber
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger

	MaxUploadBytes int64
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if d.CookieName == "" {
		d.CookieName = auth.DefaultCookieName
	}
}

// NewHandler returns the root router.
func NewHandler(deps Deps) http.Handler {
	deps.defaults()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger, deps.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(deps.Verifier, deps.CookieName, deps.Logger))

		r.Post("/ai", handleAI(deps))
		r.Post("/transcribe", handleTranscribe(deps))

		r.Get("/customers", handleListCustomers(deps))
		r.Post("/customers", handleCreateCustomer(deps))
		r.Get("/customers/{id}", handleGetCustomer(deps))
		r.Get("/customers/{id}/interactions", handleListInteractions(deps))
		r.Post("/customers/{id}/interactions", handleCreateInteraction(deps))

		r.Get("/tasks", handleListTasks(deps))
		r.Post("/tasks", handleCreateTask(deps))
		r.Patch("/tasks/{id}", handleUpdateTask(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// requestLogger logs one line per request and counts it by route pattern.
func requestLogger(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := chi.RouteContext(r.Context()).RoutePattern()
				if route == "" {
					route = "unmatched"
				}
				m.ObserveHTTP(route, status)
				logger.Debug("request",
					"method", r.Method,
					"route", route,
					"status", status,
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
