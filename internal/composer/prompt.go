// Package composer builds the system and user messages for each AI intent.
// It performs no I/O: the same records always produce byte-identical prompts.
package composer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kalambet/crmpilot/internal/storage"
)

// Max output tokens per intent.
const (
	InsightsMaxTokens  = 150
	FollowUpsMaxTokens = 150
	SummaryMaxTokens   = 100
)

const systemPreamble = "You are an assistant inside a customer relationship management tool. " +
	"Be concise and specific, and base every statement on the records provided."

// Prompt is a composed completion request without model parameters.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

type customerView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Company   string   `json:"company"`
	Type      string   `json:"type"`
	Status    string   `json:"status"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

type interactionView struct {
	Type       string `json:"type"`
	Summary    string `json:"summary"`
	Details    string `json:"details,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// Insights asks for insights about the customer relationship. Interactions
// should be ordered most recent first.
func Insights(c storage.Customer, interactions []storage.Interaction) Prompt {
	var sb strings.Builder
	writeRecords(&sb, c, interactions)
	sb.WriteString("Provide 2-3 brief insights about this customer relationship: ")
	sb.WriteString("engagement trends, risks, and opportunities.")

	return Prompt{
		System:    systemPreamble + " You analyze customer records and interaction history.",
		User:      sb.String(),
		MaxTokens: InsightsMaxTokens,
	}
}

// FollowUps asks for one or two follow-up actions for the customer.
func FollowUps(c storage.Customer, interactions []storage.Interaction) Prompt {
	var sb strings.Builder
	writeRecords(&sb, c, interactions)
	sb.WriteString("Suggest 1-2 specific follow-up actions for this customer. ")
	sb.WriteString("Phrase each as a short task title followed by one sentence of context.")

	return Prompt{
		System:    systemPreamble + " You plan follow-up tasks for account owners.",
		User:      sb.String(),
		MaxTokens: FollowUpsMaxTokens,
	}
}

// Summary asks for the key points of a single interaction's free-text notes.
func Summary(details string) Prompt {
	var sb strings.Builder
	sb.WriteString("Summarize the following customer interaction in 2-3 key points.\n\n")
	sb.WriteString("[Interaction Notes]\n")
	sb.WriteString(strings.TrimSpace(details))
	sb.WriteString("\n")

	return Prompt{
		System:    systemPreamble + " You summarize interaction notes.",
		User:      sb.String(),
		MaxTokens: SummaryMaxTokens,
	}
}

func writeRecords(sb *strings.Builder, c storage.Customer, interactions []storage.Interaction) {
	sb.WriteString("[Customer]\n")
	sb.WriteString(toJSON(viewCustomer(c)))
	sb.WriteString("\n\n[Interactions]\n")

	views := make([]interactionView, 0, len(interactions))
	for _, i := range interactions {
		views = append(views, interactionView{
			Type:       string(i.Type),
			Summary:    i.Summary,
			Details:    i.Details,
			OccurredAt: formatTime(i.OccurredAt),
		})
	}
	sb.WriteString(toJSON(views))
	sb.WriteString("\n\n")
}

func viewCustomer(c storage.Customer) customerView {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return customerView{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Company:   c.Company,
		Type:      string(c.Type),
		Status:    string(c.Status),
		Tags:      tags,
		CreatedAt: formatTime(c.CreatedAt),
		UpdatedAt: formatTime(c.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// toJSON cannot fail for the view types above, which hold only strings.
func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(b)
}
