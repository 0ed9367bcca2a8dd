package humaninput

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/intelforge/intelforge/internal/notify"
	"github.com/intelforge/intelforge/internal/store"
	"github.com/intelforge/intelforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCoordinator(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	s := store.NewMemory()
	c := NewCoordinator(s.Requests, notify.New("", testLogger()), 48*time.Hour, 0.5, testLogger())
	return c, s
}

func testSession() *models.Session {
	return &models.Session{ID: "s1", TenantID: "t1"}
}

func validResponses() map[string]map[string]any {
	return map[string]map[string]any{
		models.InputTypeKeywordLookup: {
			"volume":      float64(1200),
			"competition": 0.4,
			"cost":        1.25,
		},
		models.InputTypeAnalyticsExport: {
			"sessions":        float64(50_000),
			"conversion_rate": 0.031,
			"top_pages":       []any{"/pricing", "/docs"},
		},
		models.InputTypeCompetitorPricing: {
			"competitor":    "Rival Corp",
			"price_points":  []any{float64(29), float64(99), float64(299)},
			"billing_model": "monthly",
		},
	}
}

func TestWorkflowRoundTripPerType(t *testing.T) {
	for inputType, response := range validResponses() {
		t.Run(inputType, func(t *testing.T) {
			c, _ := testCoordinator(t)
			ctx := context.Background()

			req, err := c.InitiateWorkflow(ctx, testSession(), "some-phase", inputType, nil)
			if err != nil {
				t.Fatalf("InitiateWorkflow failed: %v", err)
			}
			if req.Status != models.RequestWaiting {
				t.Errorf("Expected waiting status, got %s", req.Status)
			}
			if req.Instructions == "" {
				t.Error("Expected type-specific instructions")
			}
			if !req.ExpiredAt.Equal(req.SentAt.Add(48 * time.Hour)) {
				t.Errorf("Expected expiry 48h after sent, got %s", req.ExpiredAt)
			}

			done, err := c.ProcessResponse(ctx, req.ID, response)
			if err != nil {
				t.Fatalf("ProcessResponse failed: %v", err)
			}
			if done.Status != models.RequestCompleted {
				t.Errorf("Expected completed status, got %s", done.Status)
			}
			if done.RespondedAt.IsZero() {
				t.Error("Expected RespondedAt set")
			}

			// Completed requests cannot be answered again.
			if _, err := c.ProcessResponse(ctx, req.ID, response); !errors.Is(err, ErrRequestNotWaiting) {
				t.Errorf("Expected ErrRequestNotWaiting, got %v", err)
			}
		})
	}
}

func TestProcessResponseValidationFailure(t *testing.T) {
	c, s := testCoordinator(t)
	ctx := context.Background()

	req, err := c.InitiateWorkflow(ctx, testSession(), "keyword-research", models.InputTypeKeywordLookup, nil)
	if err != nil {
		t.Fatalf("InitiateWorkflow failed: %v", err)
	}

	// Missing cost, competition out of range.
	_, err = c.ProcessResponse(ctx, req.ID, map[string]any{
		"volume":      float64(100),
		"competition": 1.5,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if !strings.Contains(verr.Reason, "cost") || !strings.Contains(verr.Reason, "competition") {
		t.Errorf("Expected both problems reported, got %q", verr.Reason)
	}

	// The request stays waiting with the failure recorded.
	stored, err := s.Requests.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != models.RequestWaiting {
		t.Errorf("Expected request still waiting, got %s", stored.Status)
	}
	if stored.Retries != 1 {
		t.Errorf("Expected 1 retry recorded, got %d", stored.Retries)
	}
	if stored.ValidationError == "" {
		t.Error("Expected validation error recorded")
	}

	// A corrected resubmission succeeds and clears the error.
	done, err := c.ProcessResponse(ctx, req.ID, validResponses()[models.InputTypeKeywordLookup])
	if err != nil {
		t.Fatalf("Corrected ProcessResponse failed: %v", err)
	}
	if done.ValidationError != "" {
		t.Errorf("Expected validation error cleared, got %q", done.ValidationError)
	}
}

func TestProcessResponseExpired(t *testing.T) {
	c, s := testCoordinator(t)
	ctx := context.Background()

	req, err := c.InitiateWorkflow(ctx, testSession(), "keyword-research", models.InputTypeKeywordLookup, nil)
	if err != nil {
		t.Fatalf("InitiateWorkflow failed: %v", err)
	}

	c.now = func() time.Time { return time.Now().Add(49 * time.Hour) }

	if _, err := c.ProcessResponse(ctx, req.ID, validResponses()[models.InputTypeKeywordLookup]); !errors.Is(err, ErrRequestNotWaiting) {
		t.Errorf("Expected ErrRequestNotWaiting for expired request, got %v", err)
	}
	stored, err := s.Requests.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != models.RequestExpired {
		t.Errorf("Expected expired status, got %s", stored.Status)
	}
}

func TestSendRemindersOnce(t *testing.T) {
	c, _ := testCoordinator(t)
	ctx := context.Background()

	if _, err := c.InitiateWorkflow(ctx, testSession(), "keyword-research", models.InputTypeKeywordLookup, nil); err != nil {
		t.Fatalf("InitiateWorkflow failed: %v", err)
	}

	// Before the reminder point nothing fires.
	sent, err := c.SendReminders(ctx)
	if err != nil {
		t.Fatalf("SendReminders failed: %v", err)
	}
	if sent != 0 {
		t.Errorf("Expected no reminders before due point, got %d", sent)
	}

	// Past half the timeout exactly one reminder fires, once.
	c.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	sent, err = c.SendReminders(ctx)
	if err != nil {
		t.Fatalf("SendReminders failed: %v", err)
	}
	if sent != 1 {
		t.Errorf("Expected 1 reminder, got %d", sent)
	}
	sent, err = c.SendReminders(ctx)
	if err != nil {
		t.Fatalf("SendReminders failed: %v", err)
	}
	if sent != 0 {
		t.Errorf("Expected no repeat reminder, got %d", sent)
	}
}

func TestExpireOldRequests(t *testing.T) {
	c, _ := testCoordinator(t)
	ctx := context.Background()

	if _, err := c.InitiateWorkflow(ctx, testSession(), "keyword-research", models.InputTypeKeywordLookup, nil); err != nil {
		t.Fatalf("InitiateWorkflow failed: %v", err)
	}
	if _, err := c.InitiateWorkflow(ctx, testSession(), "channel-economics", models.InputTypeCompetitorPricing, nil); err != nil {
		t.Fatalf("InitiateWorkflow failed: %v", err)
	}

	c.now = func() time.Time { return time.Now().Add(49 * time.Hour) }
	expired, err := c.ExpireOldRequests(ctx)
	if err != nil {
		t.Fatalf("ExpireOldRequests failed: %v", err)
	}
	if expired != 2 {
		t.Errorf("Expected 2 expired, got %d", expired)
	}

	pending, err := c.CheckPending(ctx)
	if err != nil {
		t.Fatalf("CheckPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending requests, got %d", len(pending))
	}
}

func TestValidateResponseUnknownTypeFailsClosed(t *testing.T) {
	if err := validateResponse("mystery-type", map[string]any{"anything": 1}); err == nil {
		t.Error("Expected unknown type to fail closed")
	}
}

func TestBuildInstructionsUsesRequestData(t *testing.T) {
	got := buildInstructions(models.InputTypeKeywordLookup, map[string]any{"keywords": "cnc tooling"})
	if !strings.Contains(got, "cnc tooling") {
		t.Errorf("Expected keywords embedded in instructions, got %q", got)
	}
}
