package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/models"
)

func newHybrid(t *testing.T, provider *stubProvider, minConfidence float64) *HybridBackend {
	t.Helper()
	rules := newRuleBackend(t, dateNow)
	return NewHybridBackend(rules, newStubBackend(provider), minConfidence, arbor.NewLogger())
}

// lowConfidenceRaw parses badly enough to land under any sensible floor.
func lowConfidenceRaw() *models.RawJob {
	raw := models.NewRawJob("run-1", "job-1", "board-1")
	raw.Title = "Developer"
	raw.Company = "Globex"
	raw.Description = "Ship software."
	raw.Location = "Somewhere"
	raw.SalaryText = "Competitive"
	return raw
}

func TestHybridKeepsConfidentRuleResult(t *testing.T) {
	provider := &stubProvider{fn: reply(`{"title": "unused"}`)}
	hybrid := newHybrid(t, provider, 0.6)

	n, err := hybrid.Normalize(context.Background(), fullRaw())
	require.NoError(t, err)

	assert.Zero(t, provider.calls, "no LLM call above the confidence floor")
	assert.Equal(t, models.NormalizationRuleBased, n.NormalizationMethod)
	assert.Equal(t, "Senior Go Developer", n.Title)
}

func TestHybridRefinesLowConfidenceResult(t *testing.T) {
	provider := &stubProvider{fn: reply(
		`{"title": "Platform Developer", "city": "Lisbon", "country": "Portugal", "confidence": 0.9}`)}
	hybrid := newHybrid(t, provider, 0.6)

	n, err := hybrid.Normalize(context.Background(), lowConfidenceRaw())
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, models.NormalizationHybrid, n.NormalizationMethod)
	assert.Equal(t, "Platform Developer", n.Title, "model output wins")
	assert.Equal(t, "Lisbon", n.City)
	assert.Equal(t, "Globex", n.Company, "gaps filled from the rule pass")
	assert.Equal(t, "Ship software.", n.Description)
	assert.InDelta(t, 0.9, n.NormalizationConfidence, 1e-9)
}

func TestHybridMergeFillsLocationFromRules(t *testing.T) {
	// The model returns no geography; the rule pass kept the original string.
	provider := &stubProvider{fn: reply(`{"title": "Platform Developer", "confidence": 0.8}`)}
	hybrid := newHybrid(t, provider, 0.6)

	n, err := hybrid.Normalize(context.Background(), lowConfidenceRaw())
	require.NoError(t, err)

	assert.Equal(t, "Somewhere", n.Location)
	assert.Empty(t, n.City)
}

func TestHybridFallsBackToRulesOnLLMFailure(t *testing.T) {
	provider := &stubProvider{fn: func(int) (string, error) {
		return "", errors.New("429 quota exceeded")
	}}
	hybrid := newHybrid(t, provider, 0.6)

	n, err := hybrid.Normalize(context.Background(), lowConfidenceRaw())
	require.NoError(t, err, "a degraded record beats a failed one")

	assert.Equal(t, models.NormalizationRuleBased, n.NormalizationMethod)
	assert.Equal(t, "Developer", n.Title)
	assert.Equal(t, "Somewhere", n.Location)
}

func TestHybridConfidenceFloorDefault(t *testing.T) {
	hybrid := newHybrid(t, &stubProvider{fn: reply(`{}`)}, 0)
	assert.InDelta(t, 0.5, hybrid.minConfidence, 1e-9)
	assert.Equal(t, models.NormalizationHybrid, hybrid.Method())
}
