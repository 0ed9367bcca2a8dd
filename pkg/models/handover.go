package models

import "time"

// CriticalState is the compact blob a successor session needs to resume where
// the exhausted one stopped.
type CriticalState struct {
	CompletedPhases []PhaseID `json:"completed_phases"`
	FailedPhases    []PhaseID `json:"failed_phases"`
	PendingPhases   []PhaseID `json:"pending_phases"`
	LatestArchiveID string    `json:"latest_archive_id,omitempty"`
	TokensUsed      int       `json:"tokens_used"`
	PlanHash        string    `json:"plan_hash"`
}

// Handover is a recovery checkpoint created when the budget monitor signals
// context-window exhaustion. Consumed exactly once by a resume operation.
type Handover struct {
	ID               string        `json:"id"`
	SessionID        string        `json:"session_id"`
	PhaseID          PhaseID       `json:"phase_id"`
	Utilization      float64       `json:"utilization"` // percent, 0..100
	TotalTokens      int           `json:"total_tokens"`
	State            CriticalState `json:"state"`
	NextAction       string        `json:"next_action"`
	LatestArchiveID  string        `json:"latest_archive_id,omitempty"`
	PreserveArchives []string      `json:"preserve_archives,omitempty"`
	Sequence         int           `json:"sequence"`
	ConfigHash       string        `json:"config_hash"`
	Recovered        bool          `json:"recovered"`
	RecoveredAt      time.Time     `json:"recovered_at,omitzero"`
	TargetSessionID  string        `json:"target_session_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}
