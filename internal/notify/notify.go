package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/intelforge/intelforge/pkg/models"
)

// Notifier delivers pipeline lifecycle events. Delivery is fire-and-forget:
// failures are logged and never abort the pipeline.
type Notifier interface {
	HumanInputRequired(ctx context.Context, req *models.HumanInputRequest)
	HandoverCreated(ctx context.Context, h *models.Handover)
}

// New returns a notifier that logs every event and, when webhookURL is set,
// also POSTs it as JSON.
func New(webhookURL string, logger *slog.Logger) Notifier {
	return &notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "notify"),
	}
}

type notifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

type event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

func (n *notifier) HumanInputRequired(ctx context.Context, req *models.HumanInputRequest) {
	n.logger.Info("Notification: human input required",
		"request_id", req.ID,
		"session_id", req.SessionID,
		"phase", req.PhaseID,
		"input_type", req.InputType)
	n.post(ctx, event{Type: "human_input_required", SessionID: req.SessionID, Payload: req, At: time.Now()})
}

func (n *notifier) HandoverCreated(ctx context.Context, h *models.Handover) {
	n.logger.Info("Notification: handover created",
		"handover_id", h.ID,
		"session_id", h.SessionID,
		"phase", h.PhaseID,
		"utilization", h.Utilization)
	n.post(ctx, event{Type: "handover_created", SessionID: h.SessionID, Payload: h, At: time.Now()})
}

func (n *notifier) post(ctx context.Context, ev event) {
	if n.webhookURL == "" {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Warn("Failed to marshal notification", "type", ev.Type, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("Failed to build notification request", "type", ev.Type, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("Notification delivery failed", "type", ev.Type, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("Notification rejected", "type", ev.Type, "status", resp.StatusCode)
	}
}
