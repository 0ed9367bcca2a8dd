package archive

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/intelforge/intelforge/pkg/models"
)

// Synthesizer folds phase outputs into intelligence archives at boundary
// phases, merging the named analytical frameworks so nothing earned in a
// prior phase is dropped by a later synthesis.
type Synthesizer struct {
	logger *slog.Logger
}

// NewSynthesizer creates a synthesizer
func NewSynthesizer(logger *slog.Logger) *Synthesizer {
	return &Synthesizer{logger: logger.With("component", "archive")}
}

// BuildArchive produces a new archive from every phase record since the last
// archive plus all prior archives. Frameworks are seeded from the most recent
// prior archive and merged field-by-field with set-union semantics; insights
// accumulate deduplicated across the batch and all priors.
func (s *Synthesizer) BuildArchive(sessionID string, trigger models.PhaseID, records []*models.PhaseRecord, previous []*models.Archive, tokensAtCreation int) *models.Archive {
	a := &models.Archive{
		ID:               uuid.New().String(),
		SessionID:        sessionID,
		TriggerPhase:     trigger,
		TokensAtCreation: tokensAtCreation,
		CreatedAt:        time.Now(),
		Version:          1,
	}

	var latest *models.Archive
	for _, prev := range previous {
		if latest == nil || prev.Version > latest.Version {
			latest = prev
		}
	}
	if latest != nil {
		a.Version = latest.Version + 1
		a.PreviousArchiveID = latest.ID
		a.Frameworks = latest.Frameworks
	}

	for _, rec := range records {
		a.PhasesIncluded = append(a.PhasesIncluded, rec.PhaseID)
	}

	a.Summary = s.synthesizeSummary(trigger, records, previous)
	for _, rec := range records {
		mergeFrameworks(&a.Frameworks, rec.Extracted)
	}

	a.Integrity, a.QualityScore = ValidateFrameworkIntegrity(&a.Frameworks)

	s.logger.Info("Archive built",
		"archive_id", a.ID,
		"session_id", sessionID,
		"trigger", trigger,
		"version", a.Version,
		"phases_included", len(a.PhasesIncluded),
		"quality_score", a.QualityScore)
	return a
}

// synthesizeSummary applies the phase-specific synthesis plus the cross-batch
// insight accumulation.
func (s *Synthesizer) synthesizeSummary(trigger models.PhaseID, records []*models.PhaseRecord, previous []*models.Archive) models.IntelligenceSummary {
	summary := models.IntelligenceSummary{
		Headline: headlineFor(trigger, len(records)),
	}

	// Prior insights first so the oldest finding keeps its position.
	for _, prev := range previous {
		summary.Insights = appendUnique(summary.Insights, prev.Summary.Insights...)
	}
	for _, rec := range records {
		summary.Insights = appendUnique(summary.Insights, stringList(rec.Extracted, "insights")...)
		summary.Opportunities = appendUnique(summary.Opportunities, stringList(rec.Extracted, "opportunities")...)
		summary.Priorities = appendUnique(summary.Priorities, stringList(rec.Extracted, "priorities")...)
	}
	return summary
}

func headlineFor(trigger models.PhaseID, batchSize int) string {
	switch trigger {
	case models.PhaseFoundationSynthesis:
		return fmt.Sprintf("Foundation intelligence: market, audience, and competitive base from %d phases", batchSize)
	case models.PhasePositioningSynthesis:
		return fmt.Sprintf("Positioning intelligence: authority and content direction from %d phases", batchSize)
	case models.PhaseExecutiveBriefing:
		return fmt.Sprintf("Executive intelligence: complete picture across %d phases", batchSize)
	default:
		return fmt.Sprintf("Intelligence checkpoint at %s covering %d phases", trigger, batchSize)
	}
}

// mergeFrameworks folds a phase record's extracted framework data into the
// four fixed buckets. Unknown bucket or field names land in the bucket's
// Extra map rather than being invented as new structure.
func mergeFrameworks(f *models.Frameworks, extracted map[string]any) {
	raw, ok := extracted["frameworks"].(map[string]any)
	if !ok {
		return
	}

	if bucket, ok := raw["customer_psychology"].(map[string]any); ok {
		f.CustomerPsychology.PainPoints = appendUnique(f.CustomerPsychology.PainPoints, stringList(bucket, "pain_points")...)
		f.CustomerPsychology.Desires = appendUnique(f.CustomerPsychology.Desires, stringList(bucket, "desires")...)
		f.CustomerPsychology.Objections = appendUnique(f.CustomerPsychology.Objections, stringList(bucket, "objections")...)
		f.CustomerPsychology.BuyerStages = appendUnique(f.CustomerPsychology.BuyerStages, stringList(bucket, "buyer_stages")...)
		f.CustomerPsychology.Extra = mergeExtra(f.CustomerPsychology.Extra, bucket,
			"pain_points", "desires", "objections", "buyer_stages")
	}
	if bucket, ok := raw["competitive_analysis"].(map[string]any); ok {
		f.CompetitiveAnalysis.Competitors = appendUnique(f.CompetitiveAnalysis.Competitors, stringList(bucket, "competitors")...)
		f.CompetitiveAnalysis.Strengths = appendUnique(f.CompetitiveAnalysis.Strengths, stringList(bucket, "strengths")...)
		f.CompetitiveAnalysis.Weaknesses = appendUnique(f.CompetitiveAnalysis.Weaknesses, stringList(bucket, "weaknesses")...)
		f.CompetitiveAnalysis.MarketGaps = appendUnique(f.CompetitiveAnalysis.MarketGaps, stringList(bucket, "market_gaps")...)
		f.CompetitiveAnalysis.Extra = mergeExtra(f.CompetitiveAnalysis.Extra, bucket,
			"competitors", "strengths", "weaknesses", "market_gaps")
	}
	if bucket, ok := raw["authority_positioning"].(map[string]any); ok {
		f.AuthorityPositioning.ExpertiseAreas = appendUnique(f.AuthorityPositioning.ExpertiseAreas, stringList(bucket, "expertise_areas")...)
		f.AuthorityPositioning.ProofPoints = appendUnique(f.AuthorityPositioning.ProofPoints, stringList(bucket, "proof_points")...)
		f.AuthorityPositioning.Differentiators = appendUnique(f.AuthorityPositioning.Differentiators, stringList(bucket, "differentiators")...)
		f.AuthorityPositioning.Extra = mergeExtra(f.AuthorityPositioning.Extra, bucket,
			"expertise_areas", "proof_points", "differentiators")
	}
	if bucket, ok := raw["content_strategy"].(map[string]any); ok {
		f.ContentStrategy.Pillars = appendUnique(f.ContentStrategy.Pillars, stringList(bucket, "pillars")...)
		f.ContentStrategy.Formats = appendUnique(f.ContentStrategy.Formats, stringList(bucket, "formats")...)
		f.ContentStrategy.Channels = appendUnique(f.ContentStrategy.Channels, stringList(bucket, "channels")...)
		f.ContentStrategy.CadenceNotes = appendUnique(f.ContentStrategy.CadenceNotes, stringList(bucket, "cadence_notes")...)
		f.ContentStrategy.Extra = mergeExtra(f.ContentStrategy.Extra, bucket,
			"pillars", "formats", "channels", "cadence_notes")
	}
}

// stringList reads a list-valued field out of decoded JSON, tolerating both
// []any and []string shapes.
func stringList(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch items := m[key].(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// appendUnique appends items not already present, preserving order.
func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range items {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}

// mergeExtra copies scalar fields outside the known set into the bucket's
// open-ended metadata map.
func mergeExtra(extra map[string]string, bucket map[string]any, known ...string) map[string]string {
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}
	for key, value := range bucket {
		if _, ok := knownSet[key]; ok {
			continue
		}
		s, ok := value.(string)
		if !ok || s == "" {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[key] = s
	}
	return extra
}
