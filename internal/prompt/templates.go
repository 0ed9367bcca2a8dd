package prompt

import "github.com/intelforge/intelforge/pkg/models"

// defaultTemplates returns the embedded per-phase template set. A catalog file
// overrides individual entries; the engine hard-fails on any phase missing
// from both.
//
// Every template shares the same variable contract: BusinessName, Industry,
// TargetMarket, CompletedPhases (comma-separated ids), PriorIntelligence
// (synthesized archive context, possibly empty), and HumanData for phases fed
// by externally-sourced input.
func defaultTemplates() map[models.PhaseID]string {
	return map[models.PhaseID]string{
		models.PhaseMarketLandscape: `You are a senior market analyst. Map the market landscape for "{{.BusinessName}}", a {{.Industry}} business serving {{.TargetMarket}}.

Cover market size signals, dominant players, pricing norms, and regulatory pressure.
{{.PriorIntelligence}}
Return your analysis followed by a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "opportunities": ["..."]}
` + "```",

		models.PhaseAudienceSegmentation: `Segment the addressable audience for {{.BusinessName}} ({{.Industry}}, targeting {{.TargetMarket}}).

For each segment give size, urgency of need, and willingness to pay. Build on prior findings:
{{.PriorIntelligence}}
Completed phases: {{.CompletedPhases}}

End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "frameworks": {"customer_psychology": {"buyer_stages": ["..."]}}}
` + "```",

		models.PhaseCustomerPsychology: `Profile the buying psychology of {{.BusinessName}}'s customers in {{.TargetMarket}}.

Identify pain points, desires, objections, and the stages buyers move through.
{{.PriorIntelligence}}
End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "frameworks": {"customer_psychology": {"pain_points": ["..."], "desires": ["..."], "objections": ["..."], "buyer_stages": ["..."]}}}
` + "```",

		models.PhaseKeywordResearch: `Using the externally-sourced keyword report below, rank the keyword opportunities for {{.BusinessName}}.

Keyword report:
{{.HumanData}}

Weigh volume against competition and cost. End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "opportunities": ["..."]}
` + "```",

		models.PhaseCompetitorDiscovery: `List the direct and adjacent competitors of {{.BusinessName}} in {{.Industry}}.

For each, give positioning, price band, and primary channel.
{{.PriorIntelligence}}
End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "frameworks": {"competitive_analysis": {"competitors": ["..."]}}}
` + "```",

		models.PhaseCompetitiveAnalysis: `Analyze the competitive field discovered so far for {{.BusinessName}}.

Contrast strengths and weaknesses, then name the market gaps nobody serves.
{{.PriorIntelligence}}
End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "frameworks": {"competitive_analysis": {"strengths": ["..."], "weaknesses": ["..."], "market_gaps": ["..."]}}}
` + "```",

		models.PhaseFoundationSynthesis: `Synthesize everything learned so far about {{.BusinessName}} into a foundation briefing.

Prior intelligence:
{{.PriorIntelligence}}
Completed phases: {{.CompletedPhases}}

Fold insights into priorities. End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "priorities": ["..."]}
` + "```",

		models.PhaseAnalyticsBaseline: `Interpret the analytics export below for {{.BusinessName}} and establish the performance baseline.

Analytics export:
{{.HumanData}}

Flag underperforming pages and conversion bottlenecks. End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "opportunities": ["..."]}
` + "```",

		models.PhaseAuthorityPositioning: `Define the authority positioning for {{.BusinessName}} in {{.Industry}}.

Name expertise areas, proof points, and differentiators that competitors cannot copy.
{{.PriorIntelligence}}
End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "frameworks": {"authority_positioning": {"expertise_areas": ["..."], "proof_points": ["..."], "differentiators": ["..."]}}}
` + "```",

		models.PhaseContentGapAnalysis: `Find the content gaps between what {{.TargetMarket}} searches for and what {{.BusinessName}} and its competitors publish.
{{.PriorIntelligence}}
End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "opportunities": ["..."], "frameworks": {"content_strategy": {"pillars": ["..."]}}}
` + "```",

		models.PhaseTrendScan: `Scan for emerging trends in {{.Industry}} relevant to {{.BusinessName}} over the next 12 months.

Separate durable shifts from noise.
{{.PriorIntelligence}}
End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "opportunities": ["..."]}
` + "```",

		models.PhasePositioningSynthesis: `Synthesize the positioning work for {{.BusinessName}} into a single strategic stance.

Prior intelligence:
{{.PriorIntelligence}}
Completed phases: {{.CompletedPhases}}

End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "priorities": ["..."]}
` + "```",

		models.PhaseContentStrategy: `Design the content strategy for {{.BusinessName}}: pillars, formats, channels, and cadence, grounded in the accumulated intelligence.
{{.PriorIntelligence}}
End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "frameworks": {"content_strategy": {"pillars": ["..."], "formats": ["..."], "channels": ["..."], "cadence_notes": ["..."]}}}
` + "```",

		models.PhaseChannelEconomics: `Using the competitor pricing data below, model the channel economics for {{.BusinessName}}.

Pricing data:
{{.HumanData}}

Estimate acquisition cost tolerance per channel. End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "priorities": ["..."]}
` + "```",

		models.PhaseExecutiveBriefing: `Write the executive briefing for {{.BusinessName}}: the complete business-intelligence picture, decisions required, and a 90-day action sequence.

Prior intelligence:
{{.PriorIntelligence}}
Completed phases: {{.CompletedPhases}}

End with a fenced JSON block:
` + "```json" + `
{"insights": ["..."], "priorities": ["..."]}
` + "```",
	}
}
