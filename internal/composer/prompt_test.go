package composer

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/crmpilot/internal/storage"
)

func acme() storage.Customer {
	return storage.Customer{
		ID:        "c1",
		UserID:    "u1",
		Name:      "Acme",
		Email:     "ops@acme.test",
		Company:   "Acme Inc",
		Type:      storage.CustomerEnterprise,
		Status:    storage.CustomerActive,
		Tags:      []string{"vip"},
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func sampleInteractions() []storage.Interaction {
	return []storage.Interaction{
		{ID: "i2", Type: storage.InteractionEmail, Summary: "Sent pricing", OccurredAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "i1", Type: storage.InteractionCall, Summary: "Intro call", Details: "Discussed rollout", OccurredAt: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
	}
}

// sectionJSON extracts the JSON block that follows a [Header] line.
func sectionJSON(t *testing.T, text, header string) string {
	t.Helper()
	start := strings.Index(text, header+"\n")
	if start < 0 {
		t.Fatalf("section %s missing in:\n%s", header, text)
	}
	rest := text[start+len(header)+1:]
	end := strings.Index(rest, "\n\n")
	if end < 0 {
		t.Fatalf("section %s not terminated", header)
	}
	return rest[:end]
}

func TestInsights_EmbedsRecords(t *testing.T) {
	p := Insights(acme(), sampleInteractions())

	if p.MaxTokens != 150 {
		t.Errorf("MaxTokens = %d, want 150", p.MaxTokens)
	}
	if p.System == "" {
		t.Error("expected system instruction")
	}

	var cust map[string]any
	if err := json.Unmarshal([]byte(sectionJSON(t, p.User, "[Customer]")), &cust); err != nil {
		t.Fatalf("customer block is not JSON: %v", err)
	}
	if cust["name"] != "Acme" || cust["id"] != "c1" {
		t.Errorf("customer block = %v", cust)
	}

	var ix []map[string]any
	if err := json.Unmarshal([]byte(sectionJSON(t, p.User, "[Interactions]")), &ix); err != nil {
		t.Fatalf("interactions block is not JSON: %v", err)
	}
	if len(ix) != 2 {
		t.Fatalf("interactions = %d, want 2", len(ix))
	}
	if ix[0]["summary"] != "Sent pricing" {
		t.Errorf("order not preserved: first = %v", ix[0]["summary"])
	}
}

func TestInsights_EmptyInteractions(t *testing.T) {
	for _, ix := range [][]storage.Interaction{nil, {}} {
		p := Insights(storage.Customer{ID: "c1", Name: "Acme"}, ix)

		block := sectionJSON(t, p.User, "[Interactions]")
		if block != "[]" {
			t.Errorf("interactions block = %q, want []", block)
		}
		if !strings.Contains(p.User, "insights") {
			t.Error("expected insight request in user content")
		}
	}
}

func TestFollowUps_AsksForOneOrTwoActions(t *testing.T) {
	p := FollowUps(acme(), sampleInteractions())

	if p.MaxTokens != 150 {
		t.Errorf("MaxTokens = %d, want 150", p.MaxTokens)
	}
	if !strings.Contains(p.User, "1-2") {
		t.Errorf("user content should ask for 1-2 actions:\n%s", p.User)
	}
	if !strings.Contains(p.User, "[Customer]") {
		t.Error("expected customer section")
	}
}

func TestSummary(t *testing.T) {
	p := Summary("  Met with the CTO. They want SSO before renewal.  ")

	if p.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want 100", p.MaxTokens)
	}
	if !strings.Contains(p.User, "2-3 key points") {
		t.Errorf("user content should ask for 2-3 key points:\n%s", p.User)
	}
	if !strings.Contains(p.User, "[Interaction Notes]\nMet with the CTO. They want SSO before renewal.\n") {
		t.Errorf("details not embedded verbatim:\n%s", p.User)
	}
}

func TestCompose_Deterministic(t *testing.T) {
	a := Insights(acme(), sampleInteractions())
	b := Insights(acme(), sampleInteractions())
	if a != b {
		t.Error("Insights is not deterministic")
	}

	c := FollowUps(acme(), nil)
	d := FollowUps(acme(), nil)
	if c != d {
		t.Error("FollowUps is not deterministic")
	}
}

func TestInsights_NilTagsEncodeAsEmptyList(t *testing.T) {
	c := acme()
	c.Tags = nil
	p := Insights(c, nil)
	if !strings.Contains(p.User, `"tags": []`) {
		t.Errorf("expected empty tag list:\n%s", p.User)
	}
}
