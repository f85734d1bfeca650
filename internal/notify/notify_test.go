package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tgcollect/tgcollect/internal/bus"
	"github.com/tgcollect/tgcollect/internal/config"
)

func testAlert() *bus.AlertEvent {
	return &bus.AlertEvent{
		EventID:    "e1",
		TenantID:   1,
		GroupID:    10,
		GroupTitle: "General",
		MessageID:  100,
		SenderName: "alice",
		Keywords:   []string{"urgent"},
		Excerpt:    "urgent: the thing broke",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSlackNotifierPostsWebhook(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(config.SlackConfig{WebhookURL: srv.URL, Channel: "#alerts"})
	if err := n.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("webhook body not json: %v", err)
	}
	if payload["channel"] != "#alerts" {
		t.Errorf("channel = %v", payload["channel"])
	}
	text, _ := payload["text"].(string)
	if !strings.Contains(text, "General") {
		t.Errorf("text = %q, want group title", text)
	}
	if !strings.Contains(string(body), "urgent") {
		t.Error("payload missing matched keyword")
	}
}

func TestSlackNotifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewSlackNotifier(config.SlackConfig{WebhookURL: srv.URL})
	if err := n.Notify(context.Background(), testAlert()); err == nil {
		t.Fatal("Notify succeeded against a failing webhook")
	}
}

func TestSlackNotifierUnconfigured(t *testing.T) {
	n := NewSlackNotifier(config.SlackConfig{})
	if err := n.Notify(context.Background(), testAlert()); err == nil {
		t.Fatal("Notify succeeded without a webhook url")
	}
}

func TestAttachDeliversBusAlerts(t *testing.T) {
	events := bus.New()
	got := make(chan *bus.AlertEvent, 1)
	Attach(context.Background(), events, notifierFunc(func(ctx context.Context, ev *bus.AlertEvent) error {
		got <- ev
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go events.DispatchAlerts(ctx)

	events.PublishAlert(testAlert())
	select {
	case ev := <-got:
		if ev.EventID != "e1" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert never delivered")
	}
}

type notifierFunc func(ctx context.Context, ev *bus.AlertEvent) error

func (f notifierFunc) Notify(ctx context.Context, ev *bus.AlertEvent) error { return f(ctx, ev) }

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), testAlert()); err != nil {
		t.Fatal(err)
	}
}
