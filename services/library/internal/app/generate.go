package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zettler/pkg/ai"
	"zettler/pkg/domain"
)

const (
	defaultGeneratedType = "myth"
	usageHistoryLimit    = 50
)

// GenerateInput asks a persona for a new story.
type GenerateInput struct {
	AIUserID    string
	Prompt      string
	Type        string
	Title       string
	Summary     string
	IsAnonymous bool
}

// GenerateResult describes the saved story.
type GenerateResult struct {
	Slug  string   `json:"slug"`
	Title string   `json:"title"`
	Usage ai.Usage `json:"usage"`
}

type generatedStory struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// Generate writes a story in a persona's voice and files it on the AI shelf
// for review. The persona is checked before the model is called; the story
// and the usage counters are saved in one transaction.
func (a *App) Generate(ctx context.Context, caller *Identity, in GenerateInput) (GenerateResult, error) {
	super, err := a.RequireSuper(ctx, caller)
	if err != nil {
		return GenerateResult{}, err
	}
	personaID := strings.TrimSpace(in.AIUserID)
	if personaID == "" {
		return GenerateResult{}, errValidation("Missing parameters")
	}
	persona, ok, err := a.store.GetUser(ctx, personaID)
	if err != nil {
		return GenerateResult{}, errInternal("load persona", err)
	}
	if !ok || !persona.IsAI {
		return GenerateResult{}, errValidation("Invalid AI User")
	}
	profile, ok, err := a.store.GetAIProfile(ctx, personaID)
	if err != nil {
		return GenerateResult{}, errInternal("load ai profile", err)
	}
	if !ok {
		return GenerateResult{}, errValidation("AI Profile missing: Cannot generate content without persona definitions.")
	}
	if strings.TrimSpace(profile.SystemPrompt) == "" || strings.TrimSpace(profile.StyleGuide) == "" {
		return GenerateResult{}, errValidation("AI Profile incomplete: systemPrompt and styleGuide are required.")
	}
	if a.generator == nil {
		return GenerateResult{}, errUpstream("AI generation is not configured", nil)
	}

	prompt := buildPrompt(profile, in)
	out, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		var genErr *ai.GenerationError
		if errors.As(err, &genErr) {
			return GenerateResult{}, errUpstream(genErr.Message, err)
		}
		return GenerateResult{}, errUpstream("AI generation failed", err)
	}
	var parsed generatedStory
	if err := json.Unmarshal([]byte(ai.StripCodeFence(out.Text)), &parsed); err != nil {
		return GenerateResult{}, errUpstream("AI returned malformed output", err)
	}
	parsed.Title = strings.TrimSpace(parsed.Title)
	if parsed.Title == "" {
		return GenerateResult{}, errUpstream("AI returned a story without a title", nil)
	}
	if len([]rune(parsed.Title)) > maxStoryTitleRunes {
		parsed.Title = string([]rune(parsed.Title)[:maxStoryTitleRunes])
	}

	kind := strings.TrimSpace(in.Type)
	if kind == "" {
		kind = defaultGeneratedType
	}
	author := persona.DisplayName
	if in.IsAnonymous || strings.TrimSpace(author) == "" {
		author = anonymousAuthor
	}
	now := a.clock()
	story := domain.Story{
		Title:          parsed.Title,
		Type:           kind,
		Content:        parsed.Content,
		Summary:        parsed.Summary,
		Tags:           []string{},
		Shelf:          domain.ShelfAI,
		Status:         domain.StoryPending,
		AuthorID:       persona.ID,
		AuthorName:     author,
		IsPublicDomain: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	key, err := insertWithSuffix(parsed.Title, func(candidate string) error {
		story.Slug = candidate
		return a.store.CreateGeneratedStory(ctx, story, out.Usage.TotalTokens)
	})
	if err != nil {
		return GenerateResult{}, storeErr("save generated story", "", err)
	}
	slog.Info("story generated", "slug", key, "ai_id", persona.ID, "model", out.Model,
		"total_tokens", out.Usage.TotalTokens, "by", super.ID)
	return GenerateResult{Slug: key, Title: parsed.Title, Usage: out.Usage}, nil
}

func buildPrompt(profile domain.AIProfile, in GenerateInput) string {
	kind := strings.TrimSpace(in.Type)
	if kind == "" {
		kind = "Story"
	}
	title := strings.TrimSpace(in.Title)
	summary := strings.TrimSpace(in.Summary)
	extra := strings.TrimSpace(in.Prompt)

	var task strings.Builder
	fmt.Fprintf(&task, "Create a new %s.", kind)
	if title != "" {
		fmt.Fprintf(&task, " The title MUST be %q.", title)
	}
	if summary != "" {
		fmt.Fprintf(&task, " Use this summary as the core plot: %q.", summary)
	}
	switch {
	case extra != "":
		fmt.Fprintf(&task, " Additional context/instructions: %q.", extra)
	case title == "" && summary == "":
		task.WriteString(" Invent a new myth or history for the archive.")
	}

	var b strings.Builder
	b.WriteString(profile.SystemPrompt)
	b.WriteString("\nTask: ")
	b.WriteString(task.String())
	b.WriteString("\n\nOutput Format: JSON\n")
	b.WriteString(`Dictionary keys: "title" (string), "content" (markdown string), "summary" (string).`)
	b.WriteString("\n\nStyle Guide:\n")
	b.WriteString(profile.StyleGuide)
	b.WriteString("\n")
	return b.String()
}

// UsageStats is the current cycle plus archived cycles, newest first.
type UsageStats struct {
	Current *domain.UsageCycle    `json:"current"`
	History []domain.UsageHistory `json:"history"`
}

// AIUsage reports generation usage.
func (a *App) AIUsage(ctx context.Context, caller *Identity) (UsageStats, error) {
	if _, err := a.RequireSuper(ctx, caller); err != nil {
		return UsageStats{}, err
	}
	cycle, ok, err := a.store.GetUsage(ctx)
	if err != nil {
		return UsageStats{}, errInternal("get usage", err)
	}
	history, err := a.store.ListUsageHistory(ctx, usageHistoryLimit)
	if err != nil {
		return UsageStats{}, errInternal("list usage history", err)
	}
	stats := UsageStats{History: history}
	if ok {
		stats.Current = &cycle
	}
	if stats.History == nil {
		stats.History = []domain.UsageHistory{}
	}
	return stats, nil
}

// NoActiveCycleMessage is reported when there is nothing to archive.
const NoActiveCycleMessage = "No active cycle found."

// RefreshUsage archives the current cycle and starts a new one. The
// returned message is empty when a cycle was archived.
func (a *App) RefreshUsage(ctx context.Context, caller *Identity) (string, error) {
	super, err := a.RequireSuper(ctx, caller)
	if err != nil {
		return "", err
	}
	now := a.clock()
	historyID := strings.NewReplacer(":", "-", ".", "-").Replace(now.Format(time.RFC3339Nano))
	archived, ok, err := a.store.RefreshUsage(ctx, historyID, super.ID, now)
	if err != nil {
		return "", errInternal("refresh usage", err)
	}
	if !ok {
		return NoActiveCycleMessage, nil
	}
	slog.Info("ai usage cycle archived", "history_id", archived.ID,
		"total_requests", archived.TotalRequests, "total_tokens", archived.TotalTokens, "by", super.ID)
	return "", nil
}
