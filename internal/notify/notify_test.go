package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/intelforge/intelforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWebhookDelivery(t *testing.T) {
	var received event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("Failed to decode event: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := New(server.URL, testLogger())
	n.HumanInputRequired(context.Background(), &models.HumanInputRequest{
		ID:        "req-1",
		SessionID: "sess-1",
		PhaseID:   models.PhaseKeywordResearch,
		InputType: models.InputTypeKeywordLookup,
	})

	if received.Type != "human_input_required" {
		t.Errorf("Expected human_input_required event, got %q", received.Type)
	}
	if received.SessionID != "sess-1" {
		t.Errorf("Expected session id relayed, got %q", received.SessionID)
	}
	if received.At.IsZero() {
		t.Error("Expected event timestamp")
	}

	n.HandoverCreated(context.Background(), &models.Handover{
		ID:        "h-1",
		SessionID: "sess-1",
		PhaseID:   models.PhaseFoundationSynthesis,
		CreatedAt: time.Now(),
	})
	if received.Type != "handover_created" {
		t.Errorf("Expected handover_created event, got %q", received.Type)
	}
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(server.URL, testLogger())
	// Rejections and dead endpoints must not panic or propagate.
	n.HandoverCreated(context.Background(), &models.Handover{ID: "h-1", SessionID: "sess-1"})

	server.Close()
	n.HandoverCreated(context.Background(), &models.Handover{ID: "h-2", SessionID: "sess-1"})
}

func TestNoWebhookConfigured(t *testing.T) {
	n := New("", testLogger())
	n.HumanInputRequired(context.Background(), &models.HumanInputRequest{ID: "req-1", SessionID: "sess-1"})
}
