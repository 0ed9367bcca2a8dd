package archive

import (
	"time"

	"github.com/intelforge/intelforge/pkg/models"
)

// ValidateFrameworkIntegrity runs the fixed required-field checklist against
// each framework bucket and returns the per-bucket results with a quality
// score equal to the fraction of buckets passing. The frameworks themselves
// are never modified.
func ValidateFrameworkIntegrity(f *models.Frameworks) (models.FrameworkIntegrity, float64) {
	integrity := models.FrameworkIntegrity{
		CustomerPsychology: len(f.CustomerPsychology.PainPoints) > 0 &&
			len(f.CustomerPsychology.Desires) > 0 &&
			len(f.CustomerPsychology.Objections) > 0,
		CompetitiveAnalysis: len(f.CompetitiveAnalysis.Competitors) > 0 &&
			len(f.CompetitiveAnalysis.Strengths) > 0 &&
			len(f.CompetitiveAnalysis.Weaknesses) > 0,
		AuthorityPositioning: len(f.AuthorityPositioning.ExpertiseAreas) > 0 &&
			len(f.AuthorityPositioning.Differentiators) > 0,
		ContentStrategy: len(f.ContentStrategy.Pillars) > 0 &&
			len(f.ContentStrategy.Channels) > 0,
		CheckedAt: time.Now(),
	}

	passing := 0
	for _, ok := range []bool{
		integrity.CustomerPsychology,
		integrity.CompetitiveAnalysis,
		integrity.AuthorityPositioning,
		integrity.ContentStrategy,
	} {
		if ok {
			passing++
		}
	}
	return integrity, float64(passing) / 4.0
}
