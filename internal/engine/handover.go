package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intelforge/intelforge/internal/budget"
	"github.com/intelforge/intelforge/pkg/models"
)

// createHandover persists a recovery checkpoint for a session whose context
// budget is exhausted and pauses the session. Execution continues only in a
// successor session created by ResumeFromHandover.
func (e *Engine) createHandover(ctx context.Context, session *models.Session, phase models.PhaseID, state budget.State) (*models.Handover, error) {
	archives, err := e.store.Archives.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	var latestArchiveID string
	var preserve []string
	for _, a := range archives {
		preserve = append(preserve, a.ID)
		latestArchiveID = a.ID
	}
	if max := e.cfg.Pipeline.MaxContextArchives; len(preserve) > max {
		preserve = preserve[len(preserve)-max:]
	}

	critical := models.CriticalState{
		LatestArchiveID: latestArchiveID,
		TokensUsed:      state.TokensUsed,
		PlanHash:        hashPlan(session.Phases),
	}
	for _, id := range session.Phases {
		switch {
		case session.CompletedPhases[id]:
			critical.CompletedPhases = append(critical.CompletedPhases, id)
		case session.FailedPhases[id]:
			critical.FailedPhases = append(critical.FailedPhases, id)
		default:
			critical.PendingPhases = append(critical.PendingPhases, id)
		}
	}

	nextAction := "all phases attempted; review failures"
	if next := session.NextPendingPhase(); next != "" {
		nextAction = fmt.Sprintf("resume at phase %s", next)
	}

	h := &models.Handover{
		ID:               uuid.New().String(),
		SessionID:        session.ID,
		PhaseID:          phase,
		Utilization:      state.Utilization,
		TotalTokens:      state.TokensUsed,
		State:            critical,
		NextAction:       nextAction,
		LatestArchiveID:  latestArchiveID,
		PreserveArchives: preserve,
		Sequence:         session.HandoverCount + 1,
		ConfigHash:       e.configHash(),
		CreatedAt:        time.Now(),
	}
	if err := e.store.Handovers.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to persist handover: %w", err)
	}

	session.HandoverCount = h.Sequence
	session.Status = models.SessionPaused
	if err := e.updateSession(ctx, session); err != nil {
		return nil, err
	}
	e.monitor.ClearSession(session.ID)

	e.collector.IncrementHandovers()
	e.notifier.HandoverCreated(ctx, h)
	e.logger.Warn("Handover checkpoint created",
		"session_id", session.ID,
		"handover_id", h.ID,
		"sequence", h.Sequence,
		"utilization", fmt.Sprintf("%.1f%%", h.Utilization),
		"next_action", h.NextAction)
	return h, nil
}

// pendingHandover returns the id of this session's unrecovered handover, if any.
func (e *Engine) pendingHandover(ctx context.Context, sessionID string) (string, error) {
	handovers, err := e.store.Handovers.ListBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to list handovers: %w", err)
	}
	for _, h := range handovers {
		if !h.Recovered {
			return h.ID, nil
		}
	}
	return "", nil
}

// ResumeFromHandover consumes a handover checkpoint: it creates a successor
// session with a fresh context window, carries the preserved archives over,
// and marks the handover recovered. A handover resumes exactly once, and only
// under the configuration it was created with.
func (e *Engine) ResumeFromHandover(ctx context.Context, handoverID string) (*models.Session, error) {
	h, err := e.store.Handovers.Get(ctx, handoverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load handover: %w", err)
	}
	if h.Recovered {
		return nil, fmt.Errorf("%w: %s (recovered into %s)", ErrHandoverRecovered, h.ID, h.TargetSessionID)
	}
	if hash := e.configHash(); hash != h.ConfigHash {
		return nil, fmt.Errorf("%w: handover %s expects config %s, current is %s", ErrConfigMismatch, h.ID, h.ConfigHash, hash)
	}

	origin, err := e.store.Sessions.Get(ctx, h.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load origin session: %w", err)
	}
	if hashPlan(origin.Phases) != h.State.PlanHash {
		return nil, fmt.Errorf("%w: phase plan changed since handover %s", ErrConfigMismatch, h.ID)
	}

	now := time.Now()
	successor := &models.Session{
		ID:              uuid.New().String(),
		TenantID:        origin.TenantID,
		Phases:          append([]models.PhaseID(nil), origin.Phases...),
		CompletedPhases: make(map[models.PhaseID]bool),
		FailedPhases:    make(map[models.PhaseID]bool),
		Status:          models.SessionPending,
		HandoverCount:   h.Sequence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, id := range h.State.CompletedPhases {
		successor.CompletedPhases[id] = true
	}
	for _, id := range h.State.FailedPhases {
		successor.FailedPhases[id] = true
	}
	if err := e.store.Sessions.Create(ctx, successor); err != nil {
		return nil, fmt.Errorf("failed to create successor session: %w", err)
	}

	// Carry the preserved archives into the successor's working set so its
	// context assembly and archive chain continue seamlessly. Copies get new
	// ids; chain links keep pointing at the originals.
	for _, archiveID := range h.PreserveArchives {
		original, err := e.store.Archives.Get(ctx, archiveID)
		if err != nil {
			return nil, fmt.Errorf("failed to load preserved archive %s: %w", archiveID, err)
		}
		carried := *original
		carried.ID = uuid.New().String()
		carried.SessionID = successor.ID
		if err := e.store.Archives.Create(ctx, &carried); err != nil {
			return nil, fmt.Errorf("failed to carry archive forward: %w", err)
		}
	}

	// Successor starts with a fresh context window; the exhausted counter
	// stays with the origin session.
	e.monitor.StartSession(successor.ID, successor.Phases)

	h.Recovered = true
	h.RecoveredAt = now
	h.TargetSessionID = successor.ID
	if err := e.store.Handovers.Update(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to mark handover recovered: %w", err)
	}

	e.logger.Info("Handover recovered",
		"handover_id", h.ID,
		"origin_session", h.SessionID,
		"successor_session", successor.ID,
		"sequence", h.Sequence,
		"next_action", h.NextAction)
	return successor, nil
}

// ListUnrecoveredHandovers returns every handover still awaiting a resume.
func (e *Engine) ListUnrecoveredHandovers(ctx context.Context) ([]*models.Handover, error) {
	return e.store.Handovers.ListUnrecovered(ctx)
}

// configHash fingerprints the configuration surface a successor session
// depends on. Presentation-only settings are excluded so log or notify
// changes never invalidate a checkpoint.
func (e *Engine) configHash() string {
	payload := struct {
		TenantID     string   `json:"tenant_id"`
		BusinessName string   `json:"business_name"`
		Industry     string   `json:"industry"`
		TargetMarket string   `json:"target_market"`
		Phases       []string `json:"phases"`
		WindowSize   int      `json:"window_size"`
		Threshold    float64  `json:"threshold"`
		Model        string   `json:"model"`
	}{
		TenantID:     e.cfg.Pipeline.TenantID,
		BusinessName: e.cfg.Pipeline.BusinessName,
		Industry:     e.cfg.Pipeline.Industry,
		TargetMarket: e.cfg.Pipeline.TargetMarket,
		Phases:       e.cfg.Pipeline.Phases,
		WindowSize:   e.cfg.Budget.WindowSize,
		Threshold:    e.cfg.Budget.HandoverThreshold,
		Model:        e.cfg.Model.ModelName,
	}
	return hashJSON(payload)
}

// hashPlan fingerprints an ordered phase list.
func hashPlan(phases []models.PhaseID) string {
	return hashJSON(phases)
}

func hashJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
