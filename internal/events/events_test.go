package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix, typ, want string
	}{
		{"crm", TypeSummary, "crm.ai.summary"},
		{"", TypeTranscription, "transcription.completed"},
		{"acme.crm", TypeInsights, "acme.crm.ai.insights"},
	}
	for _, tt := range tests {
		if got := Subject(tt.prefix, tt.typ); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.prefix, tt.typ, got, tt.want)
		}
	}
}

func TestEventJSON(t *testing.T) {
	e := Event{Type: TypeInsights, UserID: "u1", CustomerID: "c1", Fallback: true, At: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"ai.insights","user_id":"u1","customer_id":"c1","fallback":true,"at":"2025-01-01T00:00:00Z"}`
	if string(b) != want {
		t.Errorf("json = %s\nwant   %s", b, want)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{Type: TypeSummary}); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewKafka_RequiresBrokers(t *testing.T) {
	if _, err := NewKafka(nil, "crm", slog.Default()); err == nil {
		t.Error("expected error without brokers")
	}
}

func TestKafkaMessage(t *testing.T) {
	p, err := NewKafka([]string{"localhost:9092"}, "crm", slog.Default())
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	defer p.Close()

	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	msg := p.message(Event{Type: TypeSuggestions, UserID: "u7", At: at}, []byte(`{}`))
	if msg.Topic != "crm.ai.suggestions" {
		t.Errorf("topic = %q", msg.Topic)
	}
	if string(msg.Key) != "u7" {
		t.Errorf("key = %q", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Errorf("time = %v", msg.Time)
	}
}
