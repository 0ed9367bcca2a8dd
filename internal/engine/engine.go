package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/intelforge/intelforge/internal/archive"
	"github.com/intelforge/intelforge/internal/budget"
	"github.com/intelforge/intelforge/internal/config"
	"github.com/intelforge/intelforge/internal/humaninput"
	"github.com/intelforge/intelforge/internal/llm"
	"github.com/intelforge/intelforge/internal/metrics"
	"github.com/intelforge/intelforge/internal/notify"
	"github.com/intelforge/intelforge/internal/prompt"
	"github.com/intelforge/intelforge/internal/store"
	"github.com/intelforge/intelforge/pkg/models"
)

var (
	// ErrSessionTerminal is returned when an operation targets a session that
	// already completed or failed.
	ErrSessionTerminal = errors.New("engine: session already terminal")
	// ErrSessionNotPaused is returned when resume-style operations hit a
	// session that is not waiting on anything.
	ErrSessionNotPaused = errors.New("engine: session is not paused")
	// ErrPhaseNotFailed is returned by RetryPhase for phases that never failed.
	ErrPhaseNotFailed = errors.New("engine: phase has not failed")
	// ErrUnknownPhase is returned when a phase id is not in the configured plan.
	ErrUnknownPhase = errors.New("engine: unknown phase")
	// ErrHandoverRecovered is returned when a handover was already consumed.
	ErrHandoverRecovered = errors.New("engine: handover already recovered")
	// ErrHandoverPending is returned when an operation would execute phases on
	// a session that must first be resumed through its handover. A session
	// carries at most one unrecovered handover.
	ErrHandoverPending = errors.New("engine: session has an unrecovered handover")
	// ErrConfigMismatch is returned when the running configuration no longer
	// matches the one a handover was created under.
	ErrConfigMismatch = errors.New("engine: configuration changed since handover")
)

// Deps carries the engine's collaborators. Every field is required except
// Collector; construction fails loudly on a missing dependency rather than
// reaching for a hidden default.
type Deps struct {
	Store       *store.Store
	Completer   llm.Completer
	Catalog     *prompt.Catalog
	Monitor     *budget.Monitor
	Inputs      *humaninput.Coordinator
	Synthesizer *archive.Synthesizer
	Notifier    notify.Notifier
	Collector   *metrics.Collector
	Logger      *slog.Logger
}

// Engine drives sessions through the configured phase plan: executing phases
// in order, pausing for externally-sourced data, synthesizing archives at
// boundary phases, and cutting handover checkpoints when the context budget
// runs out.
type Engine struct {
	cfg       *config.Config
	plan      models.PhasePlan
	store     *store.Store
	completer llm.Completer
	catalog   *prompt.Catalog
	monitor   *budget.Monitor
	inputs    *humaninput.Coordinator
	synth     *archive.Synthesizer
	notifier  notify.Notifier
	collector *metrics.Collector
	logger    *slog.Logger
}

// New constructs an engine over the given plan and dependencies.
func New(cfg *config.Config, plan models.PhasePlan, deps Deps) (*Engine, error) {
	if len(plan) == 0 {
		return nil, fmt.Errorf("engine: empty phase plan")
	}
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("engine: store is required")
	case deps.Completer == nil:
		return nil, fmt.Errorf("engine: completer is required")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("engine: prompt catalog is required")
	case deps.Monitor == nil:
		return nil, fmt.Errorf("engine: budget monitor is required")
	case deps.Inputs == nil:
		return nil, fmt.Errorf("engine: human-input coordinator is required")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("engine: archive synthesizer is required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("engine: notifier is required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("engine: logger is required")
	}
	if deps.Collector == nil {
		deps.Collector = metrics.NewCollector(deps.Logger)
	}
	return &Engine{
		cfg:       cfg,
		plan:      plan,
		store:     deps.Store,
		completer: deps.Completer,
		catalog:   deps.Catalog,
		monitor:   deps.Monitor,
		inputs:    deps.Inputs,
		synth:     deps.Synthesizer,
		notifier:  deps.Notifier,
		collector: deps.Collector,
		logger:    deps.Logger.With("component", "engine"),
	}, nil
}

// StartSession creates a new pending session over the configured phase subset
// (or the full plan when no subset is configured).
func (e *Engine) StartSession(ctx context.Context) (*models.Session, error) {
	phases, err := e.configuredPhases()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.Session{
		ID:              uuid.New().String(),
		TenantID:        e.cfg.Pipeline.TenantID,
		Phases:          phases,
		CompletedPhases: make(map[models.PhaseID]bool),
		FailedPhases:    make(map[models.PhaseID]bool),
		Status:          models.SessionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	e.monitor.StartSession(session.ID, phases)

	e.logger.Info("Session started",
		"session_id", session.ID,
		"tenant_id", session.TenantID,
		"phases", len(phases))
	return session, nil
}

// configuredPhases resolves the pipeline's phase list against the plan. An
// empty config list means the full plan in order.
func (e *Engine) configuredPhases() ([]models.PhaseID, error) {
	if len(e.cfg.Pipeline.Phases) == 0 {
		return e.plan.IDs(), nil
	}
	phases := make([]models.PhaseID, 0, len(e.cfg.Pipeline.Phases))
	for _, raw := range e.cfg.Pipeline.Phases {
		id := models.PhaseID(raw)
		if _, ok := e.plan.SpecFor(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, raw)
		}
		phases = append(phases, id)
	}
	return phases, nil
}

// SessionStatus returns the caller-facing summary for a session, including
// any still-waiting human-input requests.
func (e *Engine) SessionStatus(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	session, err := e.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	completed := 0
	for _, id := range session.Phases {
		if session.CompletedPhases[id] {
			completed++
		}
	}
	percent := 0.0
	if len(session.Phases) > 0 {
		percent = float64(completed) / float64(len(session.Phases)) * 100
	}

	summary := &models.SessionSummary{
		SessionID:          session.ID,
		Status:             session.Status,
		CurrentPhase:       session.CurrentPhase,
		PercentComplete:    percent,
		TokensUsed:         session.TokensUsed,
		ContextUtilization: float64(session.TokensUsed) / float64(e.cfg.Budget.WindowSize) * 100,
	}

	requests, err := e.store.Requests.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list human-input requests: %w", err)
	}
	for _, req := range requests {
		if req.Status == models.RequestWaiting {
			summary.PendingInputs = append(summary.PendingInputs, *req)
		}
	}
	return summary, nil
}

// PhaseMetrics returns the per-attempt token and timing breakdown for a
// session, ordered by start time.
func (e *Engine) PhaseMetrics(ctx context.Context, sessionID string) ([]models.PhaseMetric, error) {
	if _, err := e.store.Sessions.Get(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	records, err := e.store.Phases.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase records: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	out := make([]models.PhaseMetric, 0, len(records))
	for _, rec := range records {
		var duration time.Duration
		if !rec.FinishedAt.IsZero() {
			duration = rec.FinishedAt.Sub(rec.StartedAt)
		}
		out = append(out, models.PhaseMetric{
			PhaseID:        rec.PhaseID,
			Attempt:        rec.Attempt,
			Status:         rec.Status,
			PromptTokens:   rec.PromptTokens,
			ResponseTokens: rec.ResponseTokens,
			TotalTokens:    rec.TotalTokens,
			Duration:       duration,
		})
	}
	return out, nil
}

// EstimateRemainingPhases projects how many further phases fit in the current
// context window. Advisory only.
func (e *Engine) EstimateRemainingPhases(ctx context.Context, sessionID string) (int, error) {
	session, err := e.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load session: %w", err)
	}
	e.ensureTracked(session)
	return e.monitor.EstimateRemainingCapacity(sessionID)
}

// ensureTracked re-seeds the budget monitor for sessions loaded from storage
// after a process restart.
func (e *Engine) ensureTracked(session *models.Session) {
	if _, err := e.monitor.Summary(session.ID); err != nil {
		e.monitor.Restore(session.ID, session.Phases, session.TokensUsed)
	}
}

// refreshPendingInputs updates the waiting-request gauge. Gauge drift on a
// listing error is tolerable; the next transition corrects it.
func (e *Engine) refreshPendingInputs(ctx context.Context) {
	requests, err := e.store.Requests.ListByStatus(ctx, models.RequestWaiting)
	if err != nil {
		e.logger.Warn("Failed to count waiting requests", "error", err)
		return
	}
	e.collector.SetPendingHumanInputs(len(requests))
}

// updateSession persists session mutations with a fresh UpdatedAt.
func (e *Engine) updateSession(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now()
	if err := e.store.Sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}
