package models

import "time"

// Archive is a synthesis checkpoint produced at an archive-boundary phase.
// Content is immutable after creation; re-validation may attach scores but
// never rewrites frameworks or the summary.
type Archive struct {
	ID                string              `json:"id"`
	SessionID         string              `json:"session_id"`
	TriggerPhase      PhaseID             `json:"trigger_phase"`
	Summary           IntelligenceSummary `json:"summary"`
	Frameworks        Frameworks          `json:"frameworks"`
	TokensAtCreation  int                 `json:"tokens_at_creation"`
	PhasesIncluded    []PhaseID           `json:"phases_included"`
	PreviousArchiveID string              `json:"previous_archive_id,omitempty"`
	Version           int                 `json:"version"`
	Integrity         FrameworkIntegrity  `json:"integrity"`
	QualityScore      float64             `json:"quality_score"`
	CreatedAt         time.Time           `json:"created_at"`
}

// IntelligenceSummary is the accumulated synthesis of phase outputs
type IntelligenceSummary struct {
	Headline      string   `json:"headline"`
	Insights      []string `json:"insights"`
	Opportunities []string `json:"opportunities"`
	Priorities    []string `json:"priorities"`
}

// Frameworks holds the four named analytical result categories that must
// survive every synthesis. Fixed fields per bucket; Extra carries any
// free-form metadata a phase attaches.
type Frameworks struct {
	CustomerPsychology   CustomerPsychologyFramework   `json:"customer_psychology"`
	CompetitiveAnalysis  CompetitiveAnalysisFramework  `json:"competitive_analysis"`
	AuthorityPositioning AuthorityPositioningFramework `json:"authority_positioning"`
	ContentStrategy      ContentStrategyFramework      `json:"content_strategy"`
}

type CustomerPsychologyFramework struct {
	PainPoints  []string          `json:"pain_points"`
	Desires     []string          `json:"desires"`
	Objections  []string          `json:"objections"`
	BuyerStages []string          `json:"buyer_stages"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type CompetitiveAnalysisFramework struct {
	Competitors []string          `json:"competitors"`
	Strengths   []string          `json:"strengths"`
	Weaknesses  []string          `json:"weaknesses"`
	MarketGaps  []string          `json:"market_gaps"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type AuthorityPositioningFramework struct {
	ExpertiseAreas  []string          `json:"expertise_areas"`
	ProofPoints     []string          `json:"proof_points"`
	Differentiators []string          `json:"differentiators"`
	Extra           map[string]string `json:"extra,omitempty"`
}

type ContentStrategyFramework struct {
	Pillars      []string          `json:"pillars"`
	Formats      []string          `json:"formats"`
	Channels     []string          `json:"channels"`
	CadenceNotes []string          `json:"cadence_notes"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// FrameworkIntegrity records the per-framework pass/fail of the required-field
// checklist. Annotation only: validating never mutates framework content.
type FrameworkIntegrity struct {
	CustomerPsychology   bool      `json:"customer_psychology"`
	CompetitiveAnalysis  bool      `json:"competitive_analysis"`
	AuthorityPositioning bool      `json:"authority_positioning"`
	ContentStrategy      bool      `json:"content_strategy"`
	CheckedAt            time.Time `json:"checked_at"`
}
