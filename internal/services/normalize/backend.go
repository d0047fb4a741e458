// Package normalize turns raw extractions into canonical job records. The
// rule-based backend is self-contained; ml and hybrid modes layer an LLM
// provider on top of it.
package normalize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/models"
)

// locationSplitConfidence is the floor below which the original location
// string is preserved instead of the parsed split.
const locationSplitConfidence = 0.5

// Backend produces one normalized record per raw extraction.
type Backend interface {
	Normalize(ctx context.Context, raw *models.RawJob) (*models.NormalizedJob, error)
	Method() models.NormalizationMethod
	Close() error
}

// RuleBackend normalizes with the deterministic parsers alone. It needs no
// network and never fails a record.
type RuleBackend struct {
	skills *SkillMatcher
	logger arbor.ILogger
	now    func() time.Time
}

// NewRuleBackend loads the embedded skill vocabulary and returns the
// rule-based backend.
func NewRuleBackend(logger arbor.ILogger) (*RuleBackend, error) {
	matcher, err := NewSkillMatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to load skill vocabulary: %w", err)
	}
	return &RuleBackend{
		skills: matcher,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Normalize runs every parser over the raw fields and scores the result.
func (b *RuleBackend) Normalize(ctx context.Context, raw *models.RawJob) (*models.NormalizedJob, error) {
	n := models.NewNormalizedJob(raw)
	n.Title = collapseSpace(raw.Title)
	n.Company = collapseSpace(raw.Company)
	n.Description = strings.TrimSpace(raw.Description)

	loc := ParseLocation(raw.Location)
	if loc.Confidence >= locationSplitConfidence && (loc.City != "" || loc.State != "" || loc.Country != "") {
		n.City = loc.City
		n.State = loc.State
		n.Country = loc.Country
	} else if strings.TrimSpace(raw.Location) != "" {
		n.Location = collapseSpace(raw.Location)
	}
	n.RemoteAllowed = loc.Remote || containsWord(strings.ToLower(raw.Title), "remote")

	sal := ParseSalary(raw.SalaryText)
	n.SalaryMin = sal.Min
	n.SalaryMax = sal.Max
	n.SalaryCurrency = sal.Currency
	n.SalaryPeriod = sal.Period

	jt := ParseJobType(raw.JobTypeText)
	n.JobType = jt
	if n.JobType == "" {
		n.JobType = ParseJobType(raw.Title)
	}

	n.ExperienceLevel = ParseExperienceLevel(raw.Title)
	if n.ExperienceLevel == "" {
		n.ExperienceLevel = ParseExperienceLevel(raw.Description)
	}

	n.PostedDate = ParseDate(raw.PostedDateText, b.now().UTC())
	n.Skills = b.skills.Extract(raw.Title + "\n" + raw.Description)

	n.NormalizationConfidence = ruleConfidence(raw, loc, sal, jt, n.PostedDate)
	n.NormalizationMethod = models.NormalizationRuleBased
	n.ComputeQualityScore()
	return n, nil
}

func (b *RuleBackend) Method() models.NormalizationMethod {
	return models.NormalizationRuleBased
}

func (b *RuleBackend) Close() error { return nil }

// ruleConfidence averages the parse outcomes over the optional inputs the raw
// actually carried. A raw with no optional inputs normalizes at full
// confidence; jt is the direct parse of the job-type text, before any title
// fallback.
func ruleConfidence(raw *models.RawJob, loc Location, sal Salary, jt models.JobType, posted *time.Time) float64 {
	var scores []float64
	if strings.TrimSpace(raw.Location) != "" {
		scores = append(scores, loc.Confidence)
	}
	if strings.TrimSpace(raw.SalaryText) != "" {
		scores = append(scores, parseScore(sal.Min != nil || sal.Max != nil))
	}
	if strings.TrimSpace(raw.JobTypeText) != "" {
		scores = append(scores, parseScore(jt != ""))
	}
	if strings.TrimSpace(raw.PostedDateText) != "" {
		scores = append(scores, parseScore(posted != nil))
	}
	if len(scores) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func parseScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
