package budget

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/intelforge/intelforge/pkg/models"
)

// State is a snapshot of one session's context-window accounting
type State struct {
	SessionID       string
	TokensUsed      int
	WindowSize      int
	Utilization     float64 // percent, 0..100
	CompletedPhases int
	TotalPhases     int
	NeedsHandover   bool
}

type sessionState struct {
	phases     []models.PhaseID
	tokensUsed int
	perPhase   map[models.PhaseID]int
	completed  map[models.PhaseID]bool
}

// Monitor tracks cumulative token consumption per session against a fixed
// window size and raises the handover signal once the configured utilization
// threshold is crossed. Sessions are isolated: state is keyed by session id
// and must be cleared explicitly to bound memory.
type Monitor struct {
	windowSize int
	threshold  float64 // utilization fraction that triggers handover
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// NewMonitor creates a monitor with the given window size (tokens) and
// handover threshold fraction.
func NewMonitor(windowSize int, threshold float64, logger *slog.Logger) *Monitor {
	return &Monitor{
		windowSize: windowSize,
		threshold:  threshold,
		logger:     logger.With("component", "budget"),
		sessions:   make(map[string]*sessionState),
	}
}

// StartSession registers a session and its configured phase list. Restarting
// an already-tracked session resets its accounting.
func (m *Monitor) StartSession(sessionID string, phases []models.PhaseID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &sessionState{
		phases:    append([]models.PhaseID(nil), phases...),
		perPhase:  make(map[models.PhaseID]int),
		completed: make(map[models.PhaseID]bool),
	}
	m.logger.Debug("Budget tracking started",
		"session_id", sessionID,
		"phases", len(phases),
		"window_size", m.windowSize,
		"threshold", m.threshold)
}

// Restore seeds a session's counter from a previously persisted total, for
// sessions resumed after a handover.
func (m *Monitor) Restore(sessionID string, phases []models.PhaseID, tokensUsed int) {
	m.StartSession(sessionID, phases)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID].tokensUsed = tokensUsed
}

// AddTokens records a phase's prompt/response token delta and reports whether
// a handover is now required.
func (m *Monitor) AddTokens(sessionID string, phase models.PhaseID, promptTokens, responseTokens int) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return State{}, false, fmt.Errorf("budget: unknown session %s", sessionID)
	}

	delta := promptTokens + responseTokens
	st.tokensUsed += delta
	st.perPhase[phase] += delta

	snapshot := m.snapshot(sessionID, st)
	if snapshot.NeedsHandover {
		m.logger.Warn("Context budget threshold crossed",
			"session_id", sessionID,
			"phase", phase,
			"tokens_used", st.tokensUsed,
			"utilization", fmt.Sprintf("%.1f%%", snapshot.Utilization))
	}
	return snapshot, snapshot.NeedsHandover, nil
}

// CompletePhase marks a phase finished for capacity-estimation purposes.
func (m *Monitor) CompletePhase(sessionID string, phase models.PhaseID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[sessionID]; ok {
		st.completed[phase] = true
	}
}

// EstimateRemainingCapacity projects how many further phases fit before the
// handover threshold, using the average tokens-per-completed-phase so far
// (falling back to windowSize/totalPhases before any phase completes). This
// is advisory, never a guarantee.
func (m *Monitor) EstimateRemainingCapacity(sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("budget: unknown session %s", sessionID)
	}

	budget := int(float64(m.windowSize)*m.threshold) - st.tokensUsed
	if budget <= 0 {
		return 0, nil
	}

	perPhase := 0
	if len(st.completed) > 0 {
		total := 0
		for phase := range st.completed {
			total += st.perPhase[phase]
		}
		perPhase = total / len(st.completed)
	}
	if perPhase <= 0 {
		if len(st.phases) == 0 {
			return 0, nil
		}
		perPhase = m.windowSize / len(st.phases)
	}
	if perPhase <= 0 {
		return 0, nil
	}
	return budget / perPhase, nil
}

// Summary returns the current accounting snapshot for a session.
func (m *Monitor) Summary(sessionID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return State{}, fmt.Errorf("budget: unknown session %s", sessionID)
	}
	return m.snapshot(sessionID, st), nil
}

// ClearSession drops a session's state. Call once the session terminates.
func (m *Monitor) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// snapshot builds a State; callers hold m.mu.
func (m *Monitor) snapshot(sessionID string, st *sessionState) State {
	utilization := float64(st.tokensUsed) / float64(m.windowSize) * 100
	return State{
		SessionID:       sessionID,
		TokensUsed:      st.tokensUsed,
		WindowSize:      m.windowSize,
		Utilization:     utilization,
		CompletedPhases: len(st.completed),
		TotalPhases:     len(st.phases),
		NeedsHandover:   float64(st.tokensUsed) >= float64(m.windowSize)*m.threshold,
	}
}
