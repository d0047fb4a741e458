package normalize

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/common"
)

// NewBackend creates the normalizer backend selected by configuration.
// rule_based needs nothing beyond the embedded vocabulary; ml and hybrid
// construct the configured LLM provider and fail fast on missing API keys.
func NewBackend(cfg *common.Config, logger arbor.ILogger) (Backend, error) {
	mode := cfg.Normalizer.Mode
	if mode == "" {
		mode = "rule_based"
	}
	if mode != "rule_based" && mode != "ml" && mode != "hybrid" {
		return nil, fmt.Errorf("invalid normalizer mode '%s': must be 'rule_based', 'ml', or 'hybrid'", mode)
	}

	logger.Info().Str("mode", mode).Msg("Initializing normalizer backend")

	switch mode {
	case "ml":
		return newLLMBackend(cfg, logger)

	case "hybrid":
		rules, err := NewRuleBackend(logger)
		if err != nil {
			return nil, err
		}
		llm, err := newLLMBackend(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("hybrid mode needs a working LLM provider: %w", err)
		}
		return NewHybridBackend(rules, llm, cfg.Normalizer.MinConfidence, logger), nil

	default:
		return NewRuleBackend(logger)
	}
}

// newLLMBackend builds the provider named by configuration and wraps it in
// the shared retry and field-mapping layer.
func newLLMBackend(cfg *common.Config, logger arbor.ILogger) (*LLMBackend, error) {
	providerName := cfg.Normalizer.Provider
	if providerName == "" {
		providerName = "gemini"
	}

	var provider textProvider
	var model string
	switch providerName {
	case "gemini":
		p, err := newGeminiProvider(&cfg.Gemini)
		if err != nil {
			return nil, err
		}
		provider, model = p, p.model

	case "claude":
		p, err := newClaudeProvider(&cfg.Claude)
		if err != nil {
			return nil, err
		}
		provider, model = p, p.model

	default:
		return nil, fmt.Errorf("invalid normalizer provider '%s': must be 'gemini' or 'claude'", providerName)
	}

	logger.Debug().
		Str("provider", provider.name()).
		Str("model", model).
		Msg("LLM normalizer provider initialized")

	return &LLMBackend{
		provider: provider,
		retry:    newLLMRetryConfig(),
		logger:   logger,
		now:      time.Now,
	}, nil
}
