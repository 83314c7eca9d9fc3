// Package jobs runs queued background work. Today that is summarizing newly
// logged interactions into their ai_summary column.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/crmpilot/internal/assist"
	"github.com/kalambet/crmpilot/internal/metrics"
	"github.com/kalambet/crmpilot/internal/storage"
)

const TypeSummarizeInteraction = "summarize_interaction"

// errFallback marks a summary that came back as the fixed fallback text.
var errFallback = errors.New("assistant returned fallback summary")

// Store abstracts the job queue and the interaction columns the worker touches.
type Store interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetInteraction(ctx context.Context, userID, id string) (storage.Interaction, error)
	SetInteractionAISummary(ctx context.Context, userID, id, summary string) error
}

// Runner executes an assistant intent.
type Runner interface {
	Run(ctx context.Context, userID string, in assist.Intent) (assist.Result, error)
}

type summarizePayload struct {
	UserID        string `json:"user_id"`
	InteractionID string `json:"interaction_id"`
}

// NewSummarizeJob builds a single-attempt job that summarizes one interaction.
func NewSummarizeJob(userID, interactionID string) (storage.Job, error) {
	payload, err := json.Marshal(summarizePayload{UserID: userID, InteractionID: interactionID})
	if err != nil {
		return storage.Job{}, err
	}
	return storage.Job{
		ID:          uuid.NewString(),
		Type:        TypeSummarizeInteraction,
		PayloadJSON: string(payload),
		MaxAttempts: 1,
	}, nil
}

// Worker polls the job queue and summarizes interaction details.
type Worker struct {
	store   Store
	runner  Runner
	poll    time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Worker)

func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(w *Worker) { w.metrics = m } }

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store Store, runner Runner, pollInterval time.Duration, opts ...Option) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	w := &Worker{
		store:  store,
		runner: runner,
		poll:   pollInterval,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{TypeSummarizeInteraction})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.summarize(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		w.metrics.ObserveJob(job.Type, false)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	w.metrics.ObserveJob(job.Type, true)
	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) summarize(ctx context.Context, job *storage.Job) error {
	var p summarizePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	ix, err := w.store.GetInteraction(ctx, p.UserID, p.InteractionID)
	if err != nil {
		return fmt.Errorf("loading interaction %s: %w", p.InteractionID, err)
	}

	res, err := w.runner.Run(ctx, p.UserID, assist.SummarizeInteraction{Details: ix.Details})
	if err != nil {
		return fmt.Errorf("summarizing: %w", err)
	}
	if res.Fallback {
		return errFallback
	}

	if err := w.store.SetInteractionAISummary(ctx, p.UserID, ix.ID, res.Text); err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	return nil
}
