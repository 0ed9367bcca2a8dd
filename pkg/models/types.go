package models

import "time"

// SessionStatus represents the lifecycle state of a pipeline session
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionExecuting SessionStatus = "executing"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// PhaseStatus represents the state of a single phase execution attempt
type PhaseStatus string

const (
	PhasePending      PhaseStatus = "pending"
	PhaseRunning      PhaseStatus = "running"
	PhaseWaitingHuman PhaseStatus = "waiting_human"
	PhaseCompleted    PhaseStatus = "completed"
	PhaseFailed       PhaseStatus = "failed"
)

// Session identifies one end-to-end pipeline run
type Session struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	Phases           []PhaseID        `json:"phases"` // configured execution order
	CompletedPhases  map[PhaseID]bool `json:"completed_phases"`
	FailedPhases     map[PhaseID]bool `json:"failed_phases"`
	CurrentPhase     PhaseID          `json:"current_phase"`
	Status           SessionStatus    `json:"status"`
	TokensUsed       int              `json:"tokens_used"`
	HandoverCount    int              `json:"handover_count"`
	PendingRequestID string           `json:"pending_request_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsPhaseDone reports whether a phase has already been attempted to completion
// or permanent failure.
func (s *Session) IsPhaseDone(id PhaseID) bool {
	return s.CompletedPhases[id] || s.FailedPhases[id]
}

// AllPhasesCompleted reports whether every configured phase completed successfully.
func (s *Session) AllPhasesCompleted() bool {
	for _, id := range s.Phases {
		if !s.CompletedPhases[id] {
			return false
		}
	}
	return true
}

// NextPendingPhase returns the first configured phase that has neither completed
// nor failed, or "" when none remain.
func (s *Session) NextPendingPhase() PhaseID {
	for _, id := range s.Phases {
		if !s.IsPhaseDone(id) {
			return id
		}
	}
	return ""
}

// PhaseRecord is one execution attempt of one phase within a session.
// Immutable once finalized; retries create a new record with Attempt+1.
type PhaseRecord struct {
	ID                 string         `json:"id"`
	SessionID          string         `json:"session_id"`
	PhaseID            PhaseID        `json:"phase_id"`
	Attempt            int            `json:"attempt"`
	Prompt             string         `json:"prompt"`
	Response           string         `json:"response"`
	Extracted          map[string]any `json:"extracted,omitempty"`
	PromptTokens       int            `json:"prompt_tokens"`
	ResponseTokens     int            `json:"response_tokens"`
	TotalTokens        int            `json:"total_tokens"`
	ContextUtilization float64        `json:"context_utilization"` // percent, 0..100
	Status             PhaseStatus    `json:"status"`
	HumanInput         bool           `json:"human_input"`
	HumanInputType     string         `json:"human_input_type,omitempty"`
	ErrorCode          string         `json:"error_code,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
}

// ExecutionResult summarizes one ExecuteSession invocation
type ExecutionResult struct {
	SessionID        string        `json:"session_id"`
	Status           SessionStatus `json:"status"`
	CompletedPhases  int           `json:"completed_phases"`
	FailedPhases     int           `json:"failed_phases"`
	ArchiveIDs       []string      `json:"archive_ids,omitempty"`
	HandoverID       string        `json:"handover_id,omitempty"`
	PendingRequestID string        `json:"pending_request_id,omitempty"`
	Paused           bool          `json:"paused"`
	Duration         time.Duration `json:"duration"`
}

// SessionSummary is the caller-facing status object
type SessionSummary struct {
	SessionID          string              `json:"session_id"`
	Status             SessionStatus       `json:"status"`
	CurrentPhase       PhaseID             `json:"current_phase"`
	PercentComplete    float64             `json:"percent_complete"`
	TokensUsed         int                 `json:"tokens_used"`
	ContextUtilization float64             `json:"context_utilization"`
	PendingInputs      []HumanInputRequest `json:"pending_inputs,omitempty"`
}

// PhaseMetric is the per-phase token/timing breakdown exposed by the engine
type PhaseMetric struct {
	PhaseID        PhaseID       `json:"phase_id"`
	Attempt        int           `json:"attempt"`
	Status         PhaseStatus   `json:"status"`
	PromptTokens   int           `json:"prompt_tokens"`
	ResponseTokens int           `json:"response_tokens"`
	TotalTokens    int           `json:"total_tokens"`
	Duration       time.Duration `json:"duration"`
}
