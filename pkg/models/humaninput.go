package models

import "time"

// Supported externally-sourced data types. Unknown types fail closed with a
// generic instruction and no automatic validation.
const (
	InputTypeKeywordLookup     = "keyword-lookup"
	InputTypeAnalyticsExport   = "analytics-export"
	InputTypeCompetitorPricing = "competitor-pricing"
)

// RequestStatus represents the lifecycle of a human-input request
type RequestStatus string

const (
	RequestWaiting   RequestStatus = "waiting"
	RequestCompleted RequestStatus = "completed"
	RequestExpired   RequestStatus = "expired"
	RequestError     RequestStatus = "error"
)

// HumanInputRequest is a pending or resolved ask for externally-sourced data.
// Resolved (or expired) exactly once.
type HumanInputRequest struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	PhaseID         PhaseID        `json:"phase_id"`
	InputType       string         `json:"input_type"`
	RequestData     map[string]any `json:"request_data,omitempty"`
	Instructions    string         `json:"instructions"`
	Status          RequestStatus  `json:"status"`
	SentAt          time.Time      `json:"sent_at"`
	RespondedAt     time.Time      `json:"responded_at,omitzero"`
	ExpiredAt       time.Time      `json:"expired_at"`
	Response        map[string]any `json:"response,omitempty"`
	ValidationError string         `json:"validation_error,omitempty"`
	RemindersSent   int            `json:"reminders_sent"`
	Retries         int            `json:"retries"`
	Timeout         time.Duration  `json:"timeout"`
}

// Expired reports whether the request has outlived its timeout at time now.
func (r *HumanInputRequest) Expired(now time.Time) bool {
	return r.Status == RequestWaiting && now.After(r.ExpiredAt)
}
