package normalize

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/laboro/internal/common"
	"google.golang.org/genai"
)

// normalizedSchema constrains Gemini structured output to the llmFields
// shape. Enum values are enforced in code rather than in the schema so the
// model can leave unknowns empty.
var normalizedSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":            {Type: genai.TypeString},
		"company":          {Type: genai.TypeString},
		"city":             {Type: genai.TypeString},
		"state":            {Type: genai.TypeString},
		"country":          {Type: genai.TypeString},
		"remote_allowed":   {Type: genai.TypeBoolean},
		"salary_min":       {Type: genai.TypeNumber},
		"salary_max":       {Type: genai.TypeNumber},
		"salary_currency":  {Type: genai.TypeString},
		"salary_period":    {Type: genai.TypeString},
		"job_type":         {Type: genai.TypeString},
		"experience_level": {Type: genai.TypeString},
		"posted_date":      {Type: genai.TypeString},
		"skills":           {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"confidence":       {Type: genai.TypeNumber},
	},
	Required: []string{"title", "company", "confidence"},
}

// geminiProvider generates normalized fields through the Gemini API with
// structured JSON output.
type geminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

func newGeminiProvider(cfg *common.GeminiConfig) (*geminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or gemini.api_key in config)")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	return &geminiProvider{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     common.Duration(cfg.Timeout, time.Minute),
	}, nil
}

func (p *geminiProvider) generate(ctx context.Context, system, prompt string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(p.temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   normalizedSchema,
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}}

	resp, err := p.client.Models.GenerateContent(timeoutCtx, p.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty text in gemini response")
	}
	return text, nil
}

func (p *geminiProvider) name() string { return "gemini" }

func (p *geminiProvider) close() error {
	// genai.Client needs no explicit cleanup beyond dropping the reference.
	p.client = nil
	return nil
}
