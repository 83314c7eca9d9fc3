// Package assist runs the AI intents: record lookup, prompt composition and
// a single completion call. Completion failures never reach the caller; they
// are logged and replaced with a fixed fallback text.
package assist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/crmpilot/internal/apperr"
	"github.com/kalambet/crmpilot/internal/composer"
	"github.com/kalambet/crmpilot/internal/events"
	"github.com/kalambet/crmpilot/internal/metrics"
	"github.com/kalambet/crmpilot/internal/proxy"
	"github.com/kalambet/crmpilot/internal/storage"
)

// Fallback texts returned when the completion call fails.
const (
	FallbackInsights    = "Unable to generate insights at this time."
	FallbackSuggestions = "Unable to generate suggestions at this time."
	FallbackSummary     = "Unable to summarize interaction at this time."
)

const (
	DefaultModel            = "gpt-4o-mini"
	DefaultTemperature      = 0.7
	DefaultTimeout          = 30 * time.Second
	DefaultInteractionLimit = 10

	publishTimeout = 2 * time.Second
)

// Completer performs one chat completion.
type Completer interface {
	Complete(ctx context.Context, req proxy.CompletionRequest) (string, error)
}

// RecordReader is the owner-scoped read contract of the record store.
type RecordReader interface {
	GetCustomer(ctx context.Context, userID, id string) (storage.Customer, error)
	ListInteractions(ctx context.Context, userID, customerID string, limit int) ([]storage.Interaction, error)
}

// Config tunes the completion requests the Assistant sends.
type Config struct {
	Model            string
	Temperature      float64
	Timeout          time.Duration
	InteractionLimit int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.InteractionLimit <= 0 {
		c.InteractionLimit = DefaultInteractionLimit
	}
	return c
}

// Result is the text returned for an intent. Fallback reports that Text is
// the fixed fallback rather than a completion.
type Result struct {
	Text     string
	Fallback bool
}

// Assistant runs intents against the model and falls back to fixed text on failure.
type Assistant struct {
	completer Completer
	records   RecordReader
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher
}

// Option configures an Assistant.
type Option func(*Assistant)

func WithLogger(l *slog.Logger) Option { return func(a *Assistant) { a.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Assistant) { a.metrics = m } }

func WithPublisher(p events.Publisher) Option { return func(a *Assistant) { a.publisher = p } }

// New builds an Assistant. A zero Temperature in cfg is sent as-is; callers
// that want the default pass DefaultTemperature.
func New(c Completer, records RecordReader, cfg Config, opts ...Option) *Assistant {
	a := &Assistant{
		completer: c,
		records:   records,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default(),
		publisher: events.Nop{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run executes one intent for userID. It fails only on lookup problems
// (NotFound, InvalidRequest, Internal); completion failures yield a
// fallback Result.
func (a *Assistant) Run(ctx context.Context, userID string, in Intent) (Result, error) {
	switch in := in.(type) {
	case GenerateInsights:
		c, ix, err := a.loadCustomer(ctx, userID, in.CustomerID)
		if err != nil {
			return Result{}, err
		}
		res := a.complete(ctx, in.Action(), composer.Insights(c, ix), FallbackInsights, "customer_id", c.ID)
		a.publish(ctx, events.TypeInsights, userID, c.ID, res)
		return res, nil

	case SuggestTasks:
		c, ix, err := a.loadCustomer(ctx, userID, in.CustomerID)
		if err != nil {
			return Result{}, err
		}
		res := a.complete(ctx, in.Action(), composer.FollowUps(c, ix), FallbackSuggestions, "customer_id", c.ID)
		a.publish(ctx, events.TypeSuggestions, userID, c.ID, res)
		return res, nil

	case SummarizeInteraction:
		if strings.TrimSpace(in.Details) == "" {
			return Result{}, apperr.Invalid("data.details is required")
		}
		res := a.complete(ctx, in.Action(), composer.Summary(in.Details), FallbackSummary, "details_len", len(in.Details))
		a.publish(ctx, events.TypeSummary, userID, "", res)
		return res, nil

	default:
		return Result{}, apperr.Invalid("unsupported intent %T", in)
	}
}

// loadCustomer reads the customer, then its interactions, newest first.
func (a *Assistant) loadCustomer(ctx context.Context, userID, customerID string) (storage.Customer, []storage.Interaction, error) {
	c, err := a.records.GetCustomer(ctx, userID, customerID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Customer{}, nil, apperr.NotFound("customer not found")
	}
	if err != nil {
		return storage.Customer{}, nil, apperr.Wrap(apperr.KindInternal, err, "loading customer")
	}

	ix, err := a.records.ListInteractions(ctx, userID, c.ID, a.cfg.InteractionLimit)
	if err != nil {
		return storage.Customer{}, nil, apperr.Wrap(apperr.KindInternal, err, "loading interactions")
	}
	if ix == nil {
		ix = []storage.Interaction{}
	}
	return c, ix, nil
}

// complete makes exactly one completion call bounded by the configured
// timeout. logAttrs identify the record without exposing prompt content.
func (a *Assistant) complete(ctx context.Context, intent string, p composer.Prompt, fallback string, logAttrs ...any) Result {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, err := a.completer.Complete(ctx, proxy.CompletionRequest{
		Model: a.cfg.Model,
		Messages: []proxy.Message{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Temperature: a.cfg.Temperature,
		MaxTokens:   p.MaxTokens,
	})
	elapsed := time.Since(start)

	if err == nil && strings.TrimSpace(text) == "" {
		err = proxy.ErrEmptyCompletion
	}
	if err != nil {
		attrs := append([]any{"intent", intent, "error", err, "elapsed", elapsed}, logAttrs...)
		a.logger.Warn("completion failed, returning fallback", attrs...)
		a.metrics.ObserveCompletion(intent, true, elapsed)
		return Result{Text: fallback, Fallback: true}
	}

	a.metrics.ObserveCompletion(intent, false, elapsed)
	return Result{Text: text}
}

func (a *Assistant) publish(ctx context.Context, eventType, userID, customerID string, res Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := a.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		UserID:     userID,
		CustomerID: customerID,
		Fallback:   res.Fallback,
		At:         time.Now().UTC(),
	})
	a.metrics.ObserveEvent(eventType, err)
	if err != nil {
		a.logger.Warn("publishing event failed", "type", eventType, "error", err)
	}
}
