package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	DefaultPrimaryModel  = "gemini-2.5-flash"
	DefaultFallbackModel = "gemini-2.5-flash-lite"
)

// NewGenAIClient builds the Gemini API client shared by all generators.
func NewGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// GenAIGenerator calls one Gemini model and asks for JSON output.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

func NewGenAIGenerator(client *genai.Client, model string) *GenAIGenerator {
	return &GenAIGenerator{client: client, model: strings.TrimSpace(model)}
}

// Model returns the model name used for requests.
func (g *GenAIGenerator) Model() string { return g.model }

func (g *GenAIGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	if g == nil || g.client == nil {
		return Generation{}, errors.New("genai generator not configured")
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return Generation{}, err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Generation{}, fmt.Errorf("%s returned an empty response", g.model)
	}
	out := Generation{Text: text, Model: g.model}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:    int64(u.PromptTokenCount),
			CandidateTokens: int64(u.CandidatesTokenCount),
			TotalTokens:     int64(u.TotalTokenCount),
		}
	}
	return out, nil
}
