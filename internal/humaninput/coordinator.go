package humaninput

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/intelforge/intelforge/internal/notify"
	"github.com/intelforge/intelforge/internal/store"
	"github.com/intelforge/intelforge/pkg/models"
)

// ErrRequestNotWaiting means a response arrived for a request that was
// already resolved or expired.
var ErrRequestNotWaiting = errors.New("human input request is not waiting")

// ValidationError reports why a submitted response was rejected. The request
// stays waiting and the human is asked to resubmit.
type ValidationError struct {
	InputType string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s response: %s", e.InputType, e.Reason)
}

// Coordinator manages the lifecycle of externally-sourced data requests:
// creating them with human-readable instructions, validating submissions
// against per-type schemas, and driving reminders and expiry.
type Coordinator struct {
	requests         store.HumanInputRepository
	notifier         notify.Notifier
	timeout          time.Duration
	reminderFraction float64
	logger           *slog.Logger
	now              func() time.Time
}

// NewCoordinator creates a coordinator. reminderFraction is the share of the
// timeout after which an unanswered request gets one reminder.
func NewCoordinator(requests store.HumanInputRepository, notifier notify.Notifier, timeout time.Duration, reminderFraction float64, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		requests:         requests,
		notifier:         notifier,
		timeout:          timeout,
		reminderFraction: reminderFraction,
		logger:           logger.With("component", "humaninput"),
		now:              time.Now,
	}
}

// InitiateWorkflow creates a pending request for a human-input phase and
// fires the notification. The session pauses until ProcessResponse succeeds
// or the request expires.
func (c *Coordinator) InitiateWorkflow(ctx context.Context, session *models.Session, phase models.PhaseID, inputType string, requestData map[string]any) (*models.HumanInputRequest, error) {
	now := c.now()
	req := &models.HumanInputRequest{
		ID:           uuid.New().String(),
		SessionID:    session.ID,
		PhaseID:      phase,
		InputType:    inputType,
		RequestData:  requestData,
		Instructions: buildInstructions(inputType, requestData),
		Status:       models.RequestWaiting,
		SentAt:       now,
		ExpiredAt:    now.Add(c.timeout),
		Timeout:      c.timeout,
	}

	if err := c.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create human input request: %w", err)
	}

	c.logger.Info("Human input requested",
		"request_id", req.ID,
		"session_id", session.ID,
		"phase", phase,
		"input_type", inputType,
		"expires_at", req.ExpiredAt)

	c.notifier.HumanInputRequired(ctx, req)
	return req, nil
}

// ProcessResponse validates and records a submitted response. A response is
// accepted only if every required field for the input type is present and
// well-typed; otherwise the request stays waiting with the validation error
// recorded.
func (c *Coordinator) ProcessResponse(ctx context.Context, requestID string, response map[string]any) (*models.HumanInputRequest, error) {
	req, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if req.Status != models.RequestWaiting {
		return nil, fmt.Errorf("%w: request %s is %s", ErrRequestNotWaiting, requestID, req.Status)
	}

	now := c.now()
	if req.Expired(now) {
		req.Status = models.RequestExpired
		if err := c.requests.Update(ctx, req); err != nil {
			return nil, fmt.Errorf("failed to expire request: %w", err)
		}
		return nil, fmt.Errorf("%w: request %s expired", ErrRequestNotWaiting, requestID)
	}

	if err := validateResponse(req.InputType, response); err != nil {
		req.Retries++
		req.ValidationError = err.Error()
		if updateErr := c.requests.Update(ctx, req); updateErr != nil {
			return nil, fmt.Errorf("failed to record validation error: %w", updateErr)
		}
		c.logger.Warn("Human input rejected",
			"request_id", requestID,
			"input_type", req.InputType,
			"retries", req.Retries,
			"error", err)
		return req, err
	}

	req.Status = models.RequestCompleted
	req.Response = response
	req.RespondedAt = now
	req.ValidationError = ""
	if err := c.requests.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to complete request: %w", err)
	}

	c.logger.Info("Human input accepted",
		"request_id", requestID,
		"input_type", req.InputType,
		"waited", now.Sub(req.SentAt))
	return req, nil
}

// CheckPending returns all requests still waiting for a human.
func (c *Coordinator) CheckPending(ctx context.Context) ([]*models.HumanInputRequest, error) {
	return c.requests.ListByStatus(ctx, models.RequestWaiting)
}

// SendReminders fires one reminder per waiting request once the reminder
// fraction of its timeout has elapsed. Returns the number of reminders sent.
func (c *Coordinator) SendReminders(ctx context.Context) (int, error) {
	waiting, err := c.requests.ListByStatus(ctx, models.RequestWaiting)
	if err != nil {
		return 0, err
	}

	now := c.now()
	sent := 0
	for _, req := range waiting {
		if req.RemindersSent > 0 {
			continue
		}
		due := req.SentAt.Add(time.Duration(float64(req.Timeout) * c.reminderFraction))
		if now.Before(due) {
			continue
		}

		req.RemindersSent++
		if err := c.requests.Update(ctx, req); err != nil {
			return sent, fmt.Errorf("failed to record reminder: %w", err)
		}
		c.notifier.HumanInputRequired(ctx, req)
		c.logger.Info("Reminder sent", "request_id", req.ID, "input_type", req.InputType)
		sent++
	}
	return sent, nil
}

// ExpireOldRequests transitions every waiting request past its deadline to
// expired. Returns the number of requests expired.
func (c *Coordinator) ExpireOldRequests(ctx context.Context) (int, error) {
	waiting, err := c.requests.ListByStatus(ctx, models.RequestWaiting)
	if err != nil {
		return 0, err
	}

	now := c.now()
	expired := 0
	for _, req := range waiting {
		if !req.Expired(now) {
			continue
		}
		req.Status = models.RequestExpired
		if err := c.requests.Update(ctx, req); err != nil {
			return expired, fmt.Errorf("failed to expire request: %w", err)
		}
		c.logger.Warn("Human input request expired",
			"request_id", req.ID,
			"session_id", req.SessionID,
			"phase", req.PhaseID)
		expired++
	}
	return expired, nil
}
