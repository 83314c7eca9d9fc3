package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/kalambet/crmpilot/internal/apperr"
	"github.com/kalambet/crmpilot/internal/assist"
	"github.com/kalambet/crmpilot/internal/auth"
	"github.com/kalambet/crmpilot/internal/events"
)

type aiRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// resultKey names the response field for each intent.
func resultKey(in assist.Intent) string {
	switch in.(type) {
	case assist.GenerateInsights:
		return "insights"
	case assist.SuggestTasks:
		return "suggestions"
	default:
		return "summary"
	}
}

func handleAI(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		if deps.Assistant == nil {
			writeError(w, r, deps.Logger, apperr.Unavailable("AI assistance is not configured"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req aiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, deps.Logger, apperr.Invalid("invalid request body"))
			return
		}

		intent, err := assist.ParseIntent(req.Action, req.Data)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}

		res, err := deps.Assistant.Run(r.Context(), userID, intent)
		if err != nil {
			writeError(w, r, deps.Logger, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{resultKey(intent): res.Text})
	}
}

func handleTranscribe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserFrom(r.Context())
		if deps.Transcriber == nil {
			writeError(w, r, deps.Logger, apperr.Unavailable("transcription is not configured"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		defer r.Body.Close()

		mr, err := r.MultipartReader()
		if err != nil {
			writeError(w, r, deps.Logger, apperr.Invalid("audio is required"))
			return
		}

		// Stream the audio part straight into the pipeline without buffering
		// the whole form in memory.
		for {
			part, err := mr.NextPart()
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writeError(w, r, deps.Logger, apperr.Invalid("audio exceeds the upload limit"))
					return
				}
				writeError(w, r, deps.Logger, apperr.Invalid("audio is required"))
				return
			}
			if part.FormName() != "audio" {
				part.Close()
				continue
			}

			start := time.Now()
			text, err := deps.Transcriber.Transcribe(r.Context(), part, filepath.Base(part.FileName()))
			part.Close()
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					err = apperr.Invalid("audio exceeds the upload limit")
				}
				writeError(w, r, deps.Logger, err)
				return
			}

			publish(r, deps, events.Event{Type: events.TypeTranscription, UserID: userID, At: time.Now().UTC()})
			deps.Logger.Debug("transcribed audio", "duration_ms", time.Since(start).Milliseconds())
			writeJSON(w, http.StatusOK, map[string]string{"text": text})
			return
		}
	}
}

const publishTimeout = 2 * time.Second

func publish(r *http.Request, deps Deps, e events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), publishTimeout)
	defer cancel()
	err := deps.Publisher.Publish(ctx, e)
	deps.Metrics.ObserveEvent(e.Type, err)
	if err != nil {
		deps.Logger.Warn("publishing event failed", "type", e.Type, "error", err)
	}
}
