package ai

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var retryHint = regexp.MustCompile(`retry in (\d+(?:\.\d+)?)s`)

const maxDetailLen = 300

// GenerationError is returned when both models failed. Message is safe to
// show to the caller; the wrapped errors are for logs.
type GenerationError struct {
	Message  string
	Primary  error
	Fallback error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

func (e *GenerationError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}

// FallbackGenerator tries the primary model once and, on any failure, the
// fallback model once. There is no backoff and no further retry.
type FallbackGenerator struct {
	primary  TextGenerator
	fallback TextGenerator
}

func NewFallbackGenerator(primary, fallback TextGenerator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (f *FallbackGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	out, primaryErr := f.primary.Generate(ctx, prompt)
	if primaryErr == nil {
		return out, nil
	}
	if f.fallback == nil {
		return Generation{}, &GenerationError{Message: Classify(primaryErr, nil), Primary: primaryErr}
	}
	slog.Warn("primary model failed, trying fallback", "err", primaryErr)
	out, fallbackErr := f.fallback.Generate(ctx, prompt)
	if fallbackErr == nil {
		return out, nil
	}
	return Generation{}, &GenerationError{
		Message:  Classify(primaryErr, fallbackErr),
		Primary:  primaryErr,
		Fallback: fallbackErr,
	}
}

// Classify turns provider failures into a user-facing message.
func Classify(primary, fallback error) string {
	p, f := errText(primary), errText(fallback)
	combined := p + " " + f
	switch {
	case strings.Contains(combined, "429") && strings.Contains(combined, "PerDay"):
		return "Daily Rate Limit Exceeded. You have used all free generations for today."
	case strings.Contains(combined, "429"):
		wait := "a moment"
		if m := retryHint.FindStringSubmatch(combined); m != nil {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
				wait = strconv.Itoa(int(math.Ceil(secs))) + " seconds"
			}
		}
		return "Rate Limit Exceeded. Please wait " + wait + " and try again."
	case strings.Contains(combined, "API key expired"), strings.Contains(combined, "API key not valid"):
		return "AI Configuration Error: API Key Expired or Invalid."
	case strings.Contains(combined, "RESOURCE_EXHAUSTED"), strings.Contains(strings.ToLower(combined), "quota"):
		return "AI Quota Exhausted. Please try again later."
	}
	return fmt.Sprintf("AI Usage Error. Flash: [%s] | Lite: [%s]", clip(p), clip(f))
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxDetailLen {
		return s[:maxDetailLen] + "..."
	}
	return s
}
