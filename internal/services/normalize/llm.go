package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/models"
)

// normalizeSystemPrompt instructs the provider to emit exactly one JSON
// object with the normalized fields.
const normalizeSystemPrompt = `You are a job posting normalizer. Given the raw fields of a scraped job posting, respond with a single JSON object and nothing else. Fields:
"title", "company": cleaned strings.
"city", "state", "country": location split, empty strings when unknown.
"remote_allowed": boolean.
"salary_min", "salary_max": numbers, or null when the posting names no figure.
"salary_currency": ISO-4217 code or empty string.
"salary_period": one of "hourly", "daily", "weekly", "monthly", "yearly", or empty string.
"job_type": one of "full_time", "part_time", "contract", "temporary", "internship", or empty string.
"experience_level": one of "entry", "junior", "mid", "senior", "lead", "staff", "principal", "director", or empty string.
"posted_date": ISO-8601 date or empty string.
"skills": array of technology and skill names mentioned in the posting.
"confidence": number between 0 and 1 for how certain you are overall.
Never invent values that are not supported by the input.`

// maxPromptDescription caps how much description text is sent per record.
const maxPromptDescription = 4000

// llmFields is the JSON shape the providers are asked to return.
type llmFields struct {
	Title           string   `json:"title"`
	Company         string   `json:"company"`
	City            string   `json:"city"`
	State           string   `json:"state"`
	Country         string   `json:"country"`
	RemoteAllowed   bool     `json:"remote_allowed"`
	SalaryMin       *float64 `json:"salary_min"`
	SalaryMax       *float64 `json:"salary_max"`
	SalaryCurrency  string   `json:"salary_currency"`
	SalaryPeriod    string   `json:"salary_period"`
	JobType         string   `json:"job_type"`
	ExperienceLevel string   `json:"experience_level"`
	PostedDate      string   `json:"posted_date"`
	Skills          []string `json:"skills"`
	Confidence      float64  `json:"confidence"`
}

// textProvider is the seam between the LLM backend and a concrete API client.
type textProvider interface {
	generate(ctx context.Context, system, prompt string) (string, error)
	name() string
	close() error
}

// LLMBackend normalizes by asking a cloud model for the structured fields.
type LLMBackend struct {
	provider textProvider
	retry    *llmRetryConfig
	logger   arbor.ILogger
	now      func() time.Time
}

// Normalize sends the raw fields to the provider and maps the returned JSON
// onto a normalized record. Rate-limited calls are retried with backoff.
func (b *LLMBackend) Normalize(ctx context.Context, raw *models.RawJob) (*models.NormalizedJob, error) {
	prompt := buildPrompt(raw)

	var text string
	var err error
	for attempt := 0; attempt <= b.retry.MaxRetries; attempt++ {
		text, err = b.provider.generate(ctx, normalizeSystemPrompt, prompt)
		if err == nil {
			break
		}
		if attempt == b.retry.MaxRetries {
			break
		}

		var backoff time.Duration
		if isRateLimitError(err) {
			backoff = b.retry.calculateBackoff(attempt, extractRetryDelay(err))
		} else {
			backoff = time.Duration(attempt+1) * 2 * time.Second
		}

		b.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Str("provider", b.provider.name()).
			Err(err).
			Msg("Retrying normalization call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s normalization failed: %w", b.provider.name(), err)
	}

	fields, err := decodeLLMFields(text)
	if err != nil {
		return nil, fmt.Errorf("%s returned unusable output: %w", b.provider.name(), err)
	}

	n := models.NewNormalizedJob(raw)
	applyLLMFields(n, fields, raw, b.now().UTC())
	n.NormalizationMethod = models.NormalizationML
	n.ComputeQualityScore()
	return n, nil
}

func (b *LLMBackend) Method() models.NormalizationMethod {
	return models.NormalizationML
}

func (b *LLMBackend) Close() error {
	return b.provider.close()
}

func buildPrompt(raw *models.RawJob) string {
	description := raw.Description
	if len(description) > maxPromptDescription {
		cut := maxPromptDescription
		for cut > 0 && !utf8.RuneStart(description[cut]) {
			cut--
		}
		description = description[:cut]
	}

	var sb strings.Builder
	sb.WriteString("Raw job posting fields:\n")
	fmt.Fprintf(&sb, "title: %s\n", raw.Title)
	fmt.Fprintf(&sb, "company: %s\n", raw.Company)
	fmt.Fprintf(&sb, "location: %s\n", raw.Location)
	fmt.Fprintf(&sb, "salary_text: %s\n", raw.SalaryText)
	fmt.Fprintf(&sb, "job_type_text: %s\n", raw.JobTypeText)
	fmt.Fprintf(&sb, "posted_date_text: %s\n", raw.PostedDateText)
	fmt.Fprintf(&sb, "description: %s\n", description)
	return sb.String()
}

// decodeLLMFields tolerates markdown fences and prose around the JSON object.
func decodeLLMFields(text string) (*llmFields, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var fields llmFields
	if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode response JSON: %w", err)
	}
	return &fields, nil
}

// applyLLMFields maps decoded fields onto the record, validating enums and
// falling back to the raw input where the model returned nothing.
func applyLLMFields(n *models.NormalizedJob, fields *llmFields, raw *models.RawJob, now time.Time) {
	n.Title = collapseSpace(fields.Title)
	if n.Title == "" {
		n.Title = collapseSpace(raw.Title)
	}
	n.Company = collapseSpace(fields.Company)
	if n.Company == "" {
		n.Company = collapseSpace(raw.Company)
	}
	n.Description = strings.TrimSpace(raw.Description)

	n.City = collapseSpace(fields.City)
	n.State = collapseSpace(fields.State)
	n.Country = collapseSpace(fields.Country)
	if n.City == "" && n.State == "" && n.Country == "" && strings.TrimSpace(raw.Location) != "" {
		n.Location = collapseSpace(raw.Location)
	}
	n.RemoteAllowed = fields.RemoteAllowed

	n.SalaryMin = fields.SalaryMin
	n.SalaryMax = fields.SalaryMax
	n.SalaryCurrency = strings.ToUpper(strings.TrimSpace(fields.SalaryCurrency))
	n.SalaryPeriod = parseSalaryPeriod(fields.SalaryPeriod)
	n.JobType = parseCanonicalJobType(fields.JobType)
	n.ExperienceLevel = strings.ToLower(strings.TrimSpace(fields.ExperienceLevel))
	n.PostedDate = ParseDate(fields.PostedDate, now)

	seen := make(map[string]struct{}, len(fields.Skills))
	for _, skill := range fields.Skills {
		skill = collapseSpace(skill)
		if skill == "" {
			continue
		}
		key := strings.ToLower(skill)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		n.Skills = append(n.Skills, skill)
	}

	confidence := fields.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	n.NormalizationConfidence = confidence
}

func parseSalaryPeriod(s string) models.SalaryPeriod {
	switch models.SalaryPeriod(strings.ToLower(strings.TrimSpace(s))) {
	case models.SalaryPeriodHourly:
		return models.SalaryPeriodHourly
	case models.SalaryPeriodDaily:
		return models.SalaryPeriodDaily
	case models.SalaryPeriodWeekly:
		return models.SalaryPeriodWeekly
	case models.SalaryPeriodMonthly:
		return models.SalaryPeriodMonthly
	case models.SalaryPeriodYearly:
		return models.SalaryPeriodYearly
	}
	return ""
}

func parseCanonicalJobType(s string) models.JobType {
	switch models.JobType(strings.ToLower(strings.TrimSpace(s))) {
	case models.JobTypeFullTime:
		return models.JobTypeFullTime
	case models.JobTypePartTime:
		return models.JobTypePartTime
	case models.JobTypeContract:
		return models.JobTypeContract
	case models.JobTypeTemporary:
		return models.JobTypeTemporary
	case models.JobTypeInternship:
		return models.JobTypeInternship
	}
	return ""
}
