// Package ai wraps the generative model used to write persona stories.
package ai

import (
	"context"
	"strings"
)

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens    int64 `json:"promptTokenCount"`
	CandidateTokens int64 `json:"candidatesTokenCount"`
	TotalTokens     int64 `json:"totalTokenCount"`
}

// Generation is one completed model call.
type Generation struct {
	Text  string
	Model string
	Usage Usage
}

// TextGenerator turns a fully assembled prompt into text.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
}

// StripCodeFence removes a surrounding Markdown code fence (``` or ```json)
// that models often wrap JSON output in.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
