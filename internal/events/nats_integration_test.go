//go:build integration

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestIntegration_NATSPublish(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Close()

	received := make(chan Event, 1)
	if _, err := sub.Subscribe("it.ai.summary", func(m *nats.Msg) {
		var e Event
		if err := json.Unmarshal(m.Data, &e); err == nil {
			received <- e
		}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Flush()

	p, err := NewNATS(url, "", "it", slog.Default())
	if err != nil {
		t.Fatalf("NewNATS: %v", err)
	}
	defer p.Close()

	if err := p.Publish(context.Background(), Event{Type: TypeSummary, UserID: "u1", At: time.Now()}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-received:
		if e.UserID != "u1" {
			t.Errorf("user = %q", e.UserID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
