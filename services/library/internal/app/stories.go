package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"zettler/pkg/domain"
	"zettler/pkg/slug"
	"zettler/pkg/store"
)

const (
	maxStoryTitleRunes   = 200
	maxStoryContentRunes = 100_000
	maxTags              = 20
	maxTagRunes          = 40
	slugAttempts         = 5
	defaultStoryType     = "story"
	defaultEntryType     = "event"
	anonymousAuthor      = "Anonymous"
)

// CreateStoryInput is a member's draft submission.
type CreateStoryInput struct {
	Title          string
	Content        string
	Type           string
	Tags           []string
	IsPublicDomain bool
}

// CreateStory saves a draft on the unapproved shelf and returns its slug.
func (a *App) CreateStory(ctx context.Context, caller *Identity, in CreateStoryInput) (string, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(in.Title)
	if err := validateTitle(title); err != nil {
		return "", err
	}
	if utf8.RuneCountInString(in.Content) > maxStoryContentRunes {
		return "", errValidation("Content is too long")
	}
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return "", err
	}
	kind := strings.TrimSpace(in.Type)
	if kind == "" {
		kind = defaultStoryType
	}
	author := strings.TrimSpace(user.DisplayName)
	if author == "" {
		author = anonymousAuthor
	}
	now := a.clock()
	story := domain.Story{
		Title:          title,
		Type:           kind,
		Content:        in.Content,
		Tags:           tags,
		Shelf:          domain.ShelfUnapproved,
		Status:         domain.StoryDraft,
		AuthorID:       user.ID,
		AuthorName:     author,
		IsPublicDomain: in.IsPublicDomain,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	key, err := insertWithSuffix(title, func(candidate string) error {
		story.Slug = candidate
		return a.store.CreateStory(ctx, story)
	})
	if err != nil {
		return "", storeErr("create story", "", err)
	}
	slog.Info("story created", "slug", key, "author_id", user.ID)
	return key, nil
}

// insertWithSuffix slugifies title, appends a random suffix and calls
// insert until it stops reporting a conflict.
func insertWithSuffix(title string, insert func(string) error) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "untitled"
	}
	var err error
	for attempt := 0; attempt < slugAttempts; attempt++ {
		candidate := slug.WithSuffix(base)
		err = insert(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free slug after %d attempts: %w", slugAttempts, err)
}

// MyStories lists the caller's stories, newest first.
func (a *App) MyStories(ctx context.Context, caller *Identity) ([]domain.Story, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return nil, err
	}
	stories, err := a.store.ListStories(ctx, store.StoryFilter{AuthorID: user.ID})
	if err != nil {
		return nil, errInternal("list own stories", err)
	}
	return stories, nil
}

// GetOwnStory returns a story to its author or to staff.
func (a *App) GetOwnStory(ctx context.Context, caller *Identity, key string) (domain.Story, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return domain.Story{}, err
	}
	story, ok, err := a.store.GetStory(ctx, key)
	if err != nil {
		return domain.Story{}, errInternal("get story", err)
	}
	if !ok {
		return domain.Story{}, errNotFound("Story not found")
	}
	if story.AuthorID != user.ID && !user.Role.IsStaff() {
		slog.Warn("story access denied", "slug", key, "user_id", user.ID, "owner_id", story.AuthorID)
		return domain.Story{}, errForbidden("")
	}
	return story, nil
}

// StoryUpdate holds the optional fields of an edit. Nil means unchanged.
type StoryUpdate struct {
	Title          *string
	Type           *string
	Content        *string
	Tags           *[]string
	Shelf          *string
	Status         *string
	IsPublicDomain *bool
	IsFeatured     *bool
}

// UpdateStory applies an edit. The author and supers may change any field;
// admins who are not the author may only change status and featuring.
// Everyone else is refused before the edit is validated, and the story is
// left untouched.
func (a *App) UpdateStory(ctx context.Context, caller *Identity, key string, in StoryUpdate) (domain.Story, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return domain.Story{}, err
	}
	if !user.Role.IsStaff() {
		current, ok, err := a.store.GetStory(ctx, key)
		if err != nil {
			return domain.Story{}, errInternal("get story", err)
		}
		if !ok {
			return domain.Story{}, errNotFound("Not found")
		}
		if current.AuthorID != user.ID {
			slog.Warn("story update denied", "slug", key, "user_id", user.ID)
			return domain.Story{}, errForbidden("")
		}
	}
	var status domain.StoryStatus
	if in.Status != nil {
		status = domain.StoryStatus(strings.ToLower(strings.TrimSpace(*in.Status)))
		if !status.Valid() {
			return domain.Story{}, errValidation("Invalid status")
		}
	}
	var title string
	if in.Title != nil {
		title = strings.TrimSpace(*in.Title)
		if err := validateTitle(title); err != nil {
			return domain.Story{}, err
		}
	}
	if in.Content != nil && utf8.RuneCountInString(*in.Content) > maxStoryContentRunes {
		return domain.Story{}, errValidation("Content is too long")
	}
	var tags []string
	if in.Tags != nil {
		if tags, err = normalizeTags(*in.Tags); err != nil {
			return domain.Story{}, err
		}
	}
	updated, err := a.store.UpdateStory(ctx, key, func(s *domain.Story) error {
		full := s.AuthorID == user.ID || user.Role == domain.RoleSuper
		if !full && user.Role != domain.RoleAdmin {
			return errForbidden("")
		}
		if full {
			if in.Title != nil {
				s.Title = title
			}
			if in.Type != nil && strings.TrimSpace(*in.Type) != "" {
				s.Type = strings.TrimSpace(*in.Type)
			}
			if in.Content != nil {
				s.Content = *in.Content
			}
			if in.Tags != nil {
				s.Tags = tags
			}
			if in.Shelf != nil && strings.TrimSpace(*in.Shelf) != "" {
				s.Shelf = strings.TrimSpace(*in.Shelf)
			}
			if in.IsPublicDomain != nil {
				s.IsPublicDomain = *in.IsPublicDomain
			}
		}
		if in.Status != nil {
			s.Status = status
		}
		if in.IsFeatured != nil {
			s.IsFeatured = *in.IsFeatured
		}
		s.UpdatedAt = a.clock()
		return nil
	})
	if err != nil {
		if KindOf(err) == KindForbidden {
			slog.Warn("story update denied", "slug", key, "user_id", user.ID)
		}
		return domain.Story{}, storeErr("update story", "Not found", err)
	}
	return updated, nil
}

// AddEntryInput is a timeline entry appended to a story.
type AddEntryInput struct {
	StorySlug string
	Title     string
	Type      string
	Content   string
	// Date defaults to now.
	Date *time.Time
}

// AddEntry appends an entry to a story the caller wrote or curates.
func (a *App) AddEntry(ctx context.Context, caller *Identity, in AddEntryInput) (string, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return "", err
	}
	storySlug := strings.TrimSpace(in.StorySlug)
	title := strings.TrimSpace(in.Title)
	if storySlug == "" || title == "" || strings.TrimSpace(in.Content) == "" {
		return "", errValidation("Missing fields")
	}
	if err := validateTitle(title); err != nil {
		return "", err
	}
	if utf8.RuneCountInString(in.Content) > maxStoryContentRunes {
		return "", errValidation("Content is too long")
	}
	story, ok, err := a.store.GetStory(ctx, storySlug)
	if err != nil {
		return "", errInternal("get story", err)
	}
	if !ok {
		return "", errNotFound("Element not found")
	}
	if story.AuthorID != user.ID && !user.Role.IsStaff() {
		return "", errForbidden("")
	}
	kind := strings.TrimSpace(in.Type)
	if kind == "" {
		kind = defaultEntryType
	}
	now := a.clock()
	date := now
	if in.Date != nil && !in.Date.IsZero() {
		date = in.Date.UTC()
	}
	entry := domain.StoryEntry{
		StorySlug: storySlug,
		Title:     title,
		Type:      kind,
		Content:   in.Content,
		Date:      date,
		AuthorID:  user.ID,
		CreatedAt: now,
	}
	key, err := insertWithSuffix(title, func(candidate string) error {
		entry.ID = uuid.NewString()
		entry.Slug = candidate
		return a.store.CreateEntry(ctx, entry)
	})
	if err != nil {
		return "", storeErr("create entry", "", err)
	}
	return key, nil
}

// ElementView is a story with its timeline.
type ElementView struct {
	Element domain.Story        `json:"element"`
	Entries []domain.StoryEntry `json:"entries"`
}

// Element returns a story and its entries, newest entry first. Public and
// public-domain stories are open to everyone; others only to the author
// and to staff.
func (a *App) Element(ctx context.Context, caller *Identity, key string) (ElementView, error) {
	story, ok, err := a.store.GetStory(ctx, key)
	if err != nil {
		return ElementView{}, errInternal("get story", err)
	}
	if !ok {
		return ElementView{}, errNotFound("Element not found")
	}
	visible := story.Status.Public() || story.IsPublicDomain
	if !visible && caller != nil && caller.UID == story.AuthorID {
		visible = true
	}
	if !visible {
		_, isStaff, err := a.staff(ctx, caller)
		if err != nil {
			return ElementView{}, err
		}
		visible = isStaff
	}
	if !visible {
		return ElementView{}, errForbidden("")
	}
	entries, err := a.store.ListEntries(ctx, key)
	if err != nil {
		return ElementView{}, errInternal("list entries", err)
	}
	if entries == nil {
		entries = []domain.StoryEntry{}
	}
	return ElementView{Element: story, Entries: entries}, nil
}

// AdminStories lists every story for supers.
func (a *App) AdminStories(ctx context.Context, caller *Identity) ([]domain.Story, error) {
	if _, err := a.RequireSuper(ctx, caller); err != nil {
		return nil, err
	}
	stories, err := a.store.ListStories(ctx, store.StoryFilter{})
	if err != nil {
		return nil, errInternal("list stories", err)
	}
	return stories, nil
}

func validateTitle(title string) error {
	if title == "" {
		return errValidation("Title required")
	}
	if utf8.RuneCountInString(title) > maxStoryTitleRunes {
		return errValidation("Title is too long")
	}
	return nil
}

func normalizeTags(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagRunes {
			return nil, errValidation("Tag is too long")
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, errValidation(fmt.Sprintf("At most %d tags", maxTags))
	}
	return out, nil
}
