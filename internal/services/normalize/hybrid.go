package normalize

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/models"
)

// HybridBackend runs the rule-based parsers first and falls back to the LLM
// when their confidence lands below the configured floor. The LLM result is
// merged over the rule result so fields the model leaves empty keep the
// deterministic parse.
type HybridBackend struct {
	rules         *RuleBackend
	llm           *LLMBackend
	minConfidence float64
	logger        arbor.ILogger
}

func NewHybridBackend(rules *RuleBackend, llm *LLMBackend, minConfidence float64, logger arbor.ILogger) *HybridBackend {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &HybridBackend{
		rules:         rules,
		llm:           llm,
		minConfidence: minConfidence,
		logger:        logger,
	}
}

func (b *HybridBackend) Normalize(ctx context.Context, raw *models.RawJob) (*models.NormalizedJob, error) {
	ruled, err := b.rules.Normalize(ctx, raw)
	if err != nil {
		return nil, err
	}
	if ruled.NormalizationConfidence >= b.minConfidence {
		return ruled, nil
	}

	refined, err := b.llm.Normalize(ctx, raw)
	if err != nil {
		// A record normalized by rules alone beats no record at all.
		b.logger.Warn().
			Err(err).
			Str("raw_job_id", raw.ID).
			Float64("rule_confidence", ruled.NormalizationConfidence).
			Msg("LLM fallback failed, keeping rule-based result")
		return ruled, nil
	}

	merged := mergeNormalized(ruled, refined)
	merged.NormalizationMethod = models.NormalizationHybrid
	merged.ComputeQualityScore()
	return merged, nil
}

func (b *HybridBackend) Method() models.NormalizationMethod {
	return models.NormalizationHybrid
}

func (b *HybridBackend) Close() error {
	return b.llm.Close()
}

// mergeNormalized keeps the refined record and fills its gaps from the rule
// pass.
func mergeNormalized(ruled, refined *models.NormalizedJob) *models.NormalizedJob {
	out := *refined
	if out.Title == "" {
		out.Title = ruled.Title
	}
	if out.Company == "" {
		out.Company = ruled.Company
	}
	if out.Description == "" {
		out.Description = ruled.Description
	}
	if out.City == "" && out.State == "" && out.Country == "" {
		out.City = ruled.City
		out.State = ruled.State
		out.Country = ruled.Country
		out.Location = ruled.Location
	}
	if out.SalaryMin == nil && out.SalaryMax == nil {
		out.SalaryMin = ruled.SalaryMin
		out.SalaryMax = ruled.SalaryMax
		out.SalaryCurrency = ruled.SalaryCurrency
		out.SalaryPeriod = ruled.SalaryPeriod
	}
	if out.JobType == "" {
		out.JobType = ruled.JobType
	}
	if out.ExperienceLevel == "" {
		out.ExperienceLevel = ruled.ExperienceLevel
	}
	if out.PostedDate == nil {
		out.PostedDate = ruled.PostedDate
	}
	if len(out.Skills) == 0 {
		out.Skills = ruled.Skills
	}
	out.RemoteAllowed = out.RemoteAllowed || ruled.RemoteAllowed
	return &out
}
