package models

// PhaseID identifies one step of the fixed analysis sequence
type PhaseID string

const (
	PhaseMarketLandscape      PhaseID = "market-landscape"
	PhaseAudienceSegmentation PhaseID = "audience-segmentation"
	PhaseCustomerPsychology   PhaseID = "customer-psychology"
	PhaseKeywordResearch      PhaseID = "keyword-research"
	PhaseCompetitorDiscovery  PhaseID = "competitor-discovery"
	PhaseCompetitiveAnalysis  PhaseID = "competitive-analysis"
	PhaseFoundationSynthesis  PhaseID = "foundation-synthesis"
	PhaseAnalyticsBaseline    PhaseID = "analytics-baseline"
	PhaseAuthorityPositioning PhaseID = "authority-positioning"
	PhaseContentGapAnalysis   PhaseID = "content-gap-analysis"
	PhaseTrendScan            PhaseID = "trend-scan"
	PhasePositioningSynthesis PhaseID = "positioning-synthesis"
	PhaseContentStrategy      PhaseID = "content-strategy"
	PhaseChannelEconomics     PhaseID = "channel-economics"
	PhaseExecutiveBriefing    PhaseID = "executive-briefing"
)

// PhaseSpec is the immutable per-phase configuration entry. Phase behavior
// (who pauses for human input, who triggers archiving) lives here rather than
// in scattered conditionals.
type PhaseSpec struct {
	ID                 PhaseID
	Name               string
	RequiresHumanInput bool
	HumanInputType     string
	CreatesArchive     bool
	Temperature        float64
	MaxTokens          int
}

// PhasePlan is an ordered, immutable phase table
type PhasePlan []PhaseSpec

// DefaultPhasePlan returns the standard 15-phase business-intelligence sequence.
func DefaultPhasePlan() PhasePlan {
	return PhasePlan{
		{ID: PhaseMarketLandscape, Name: "Market Landscape", Temperature: 0.7, MaxTokens: 4096},
		{ID: PhaseAudienceSegmentation, Name: "Audience Segmentation", Temperature: 0.7, MaxTokens: 4096},
		{ID: PhaseCustomerPsychology, Name: "Customer Psychology", Temperature: 0.8, MaxTokens: 4096},
		{ID: PhaseKeywordResearch, Name: "Keyword Research", RequiresHumanInput: true, HumanInputType: InputTypeKeywordLookup, Temperature: 0.3, MaxTokens: 2048},
		{ID: PhaseCompetitorDiscovery, Name: "Competitor Discovery", Temperature: 0.7, MaxTokens: 4096},
		{ID: PhaseCompetitiveAnalysis, Name: "Competitive Analysis", Temperature: 0.7, MaxTokens: 4096},
		{ID: PhaseFoundationSynthesis, Name: "Foundation Synthesis", CreatesArchive: true, Temperature: 0.5, MaxTokens: 4096},
		{ID: PhaseAnalyticsBaseline, Name: "Analytics Baseline", RequiresHumanInput: true, HumanInputType: InputTypeAnalyticsExport, Temperature: 0.3, MaxTokens: 2048},
		{ID: PhaseAuthorityPositioning, Name: "Authority Positioning", Temperature: 0.8, MaxTokens: 4096},
		{ID: PhaseContentGapAnalysis, Name: "Content Gap Analysis", Temperature: 0.7, MaxTokens: 4096},
		{ID: PhaseTrendScan, Name: "Trend Scan", Temperature: 0.9, MaxTokens: 4096},
		{ID: PhasePositioningSynthesis, Name: "Positioning Synthesis", CreatesArchive: true, Temperature: 0.5, MaxTokens: 4096},
		{ID: PhaseContentStrategy, Name: "Content Strategy", Temperature: 0.7, MaxTokens: 4096},
		{ID: PhaseChannelEconomics, Name: "Channel Economics", RequiresHumanInput: true, HumanInputType: InputTypeCompetitorPricing, Temperature: 0.3, MaxTokens: 2048},
		{ID: PhaseExecutiveBriefing, Name: "Executive Briefing", CreatesArchive: true, Temperature: 0.5, MaxTokens: 8192},
	}
}

// SpecFor returns the spec for a phase id, or false if unknown.
func (p PhasePlan) SpecFor(id PhaseID) (PhaseSpec, bool) {
	for _, spec := range p {
		if spec.ID == id {
			return spec, true
		}
	}
	return PhaseSpec{}, false
}

// IDs returns the ordered phase identifiers.
func (p PhasePlan) IDs() []PhaseID {
	ids := make([]PhaseID, len(p))
	for i, spec := range p {
		ids[i] = spec.ID
	}
	return ids
}
