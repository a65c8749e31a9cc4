package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubGenerator struct {
	out   Generation
	err   error
	calls int
}

func (s *stubGenerator) Generate(context.Context, string) (Generation, error) {
	s.calls++
	return s.out, s.err
}

func TestFallbackGeneratorUsesLiteOnce(t *testing.T) {
	primary := &stubGenerator{err: errors.New("503 overloaded")}
	lite := &stubGenerator{out: Generation{Text: `{"title":"x"}`, Model: "lite"}}
	out, err := NewFallbackGenerator(primary, lite).Generate(context.Background(), "p")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Model != "lite" || primary.calls != 1 || lite.calls != 1 {
		t.Fatalf("unexpected routing: model=%s primary=%d lite=%d", out.Model, primary.calls, lite.calls)
	}
}

func TestFallbackGeneratorSkipsLiteOnSuccess(t *testing.T) {
	primary := &stubGenerator{out: Generation{Model: "flash"}}
	lite := &stubGenerator{}
	if _, err := NewFallbackGenerator(primary, lite).Generate(context.Background(), "p"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if lite.calls != 0 {
		t.Fatal("fallback must not run when primary succeeds")
	}
}

func TestFallbackGeneratorDoubleFailure(t *testing.T) {
	primary := &stubGenerator{err: errors.New("Error 429: Quota exceeded for GenerateRequestsPerDayPerProject")}
	lite := &stubGenerator{err: errors.New("Error 429: too many requests")}
	_, err := NewFallbackGenerator(primary, lite).Generate(context.Background(), "p")
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if !strings.HasPrefix(genErr.Message, "Daily Rate Limit Exceeded") {
		t.Fatalf("unexpected message %q", genErr.Message)
	}
	if primary.calls != 1 || lite.calls != 1 {
		t.Fatalf("expected exactly one call each, got %d/%d", primary.calls, lite.calls)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		primary  string
		fallback string
		want     string
	}{
		{"retry hint", "429 Too Many Requests. Please retry in 12.3s.", "boom", "Rate Limit Exceeded. Please wait 13 seconds and try again."},
		{"rate limit no hint", "boom", "status 429", "Rate Limit Exceeded. Please wait a moment and try again."},
		{"bad key", "API key not valid. Please pass a valid API key.", "API key not valid.", "AI Configuration Error: API Key Expired or Invalid."},
		{"quota", "RESOURCE_EXHAUSTED", "boom", "AI Quota Exhausted. Please try again later."},
		{"generic", "flash down", "lite down", "AI Usage Error. Flash: [flash down] | Lite: [lite down]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(errors.New(tc.primary), errors.New(tc.fallback)); got != tc.want {
				t.Fatalf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
		"```json{\"a\":1}```":     `{"a":1}`,
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
