package assist

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kalambet/crmpilot/internal/apperr"
)

// Action names accepted on the wire.
const (
	ActionGenerateInsights     = "generateInsights"
	ActionSuggestTasks         = "suggestTasks"
	ActionSummarizeInteraction = "summarizeInteraction"
)

// Intent is one of GenerateInsights, SuggestTasks or SummarizeInteraction.
// The unexported method closes the set to this package.
type Intent interface {
	Action() string
	isIntent()
}

// GenerateInsights asks for an analysis of one customer and their recent interactions.
type GenerateInsights struct {
	CustomerID string
}

// SuggestTasks asks for follow-up task ideas for one customer.
type SuggestTasks struct {
	CustomerID string
}

// SummarizeInteraction asks for a short summary of free-form interaction notes.
type SummarizeInteraction struct {
	Details string
}

func (GenerateInsights) Action() string     { return ActionGenerateInsights }
func (SuggestTasks) Action() string         { return ActionSuggestTasks }
func (SummarizeInteraction) Action() string { return ActionSummarizeInteraction }

func (GenerateInsights) isIntent()     {}
func (SuggestTasks) isIntent()         {}
func (SummarizeInteraction) isIntent() {}

type customerData struct {
	CustomerID string `json:"customerId"`
}

type detailsData struct {
	Details *string `json:"details"`
}

// ParseIntent decodes an action tag and its payload. Unknown actions,
// malformed payloads and missing fields are invalid requests.
func ParseIntent(action string, data json.RawMessage) (Intent, error) {
	switch action {
	case ActionGenerateInsights, ActionSuggestTasks:
		var d customerData
		if err := decodeData(data, &d); err != nil {
			return nil, err
		}
		id := strings.TrimSpace(d.CustomerID)
		if id == "" {
			return nil, apperr.Invalid("data.customerId is required")
		}
		if action == ActionGenerateInsights {
			return GenerateInsights{CustomerID: id}, nil
		}
		return SuggestTasks{CustomerID: id}, nil

	case ActionSummarizeInteraction:
		var d detailsData
		if err := decodeData(data, &d); err != nil {
			return nil, err
		}
		if d.Details == nil || strings.TrimSpace(*d.Details) == "" {
			return nil, apperr.Invalid("data.details is required")
		}
		return SummarizeInteraction{Details: *d.Details}, nil

	case "":
		return nil, apperr.Invalid("action is required")
	default:
		return nil, apperr.Invalid("unknown action %q", action)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Invalid("data must be an object")
	}
	return nil
}
