package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"zettler/pkg/domain"
	"zettler/pkg/slug"
	"zettler/pkg/store"
)

const maxShelfTitleRunes = 120

// CreateShelfInput is the admin form for a new shelf.
type CreateShelfInput struct {
	Title       string
	Description string
	// IsPublic defaults to true when nil.
	IsPublic *bool
}

// CreateShelf adds a shelf at the end of the display order. Shelf slugs are
// the bare slugified title, so a repeated title is a conflict.
func (a *App) CreateShelf(ctx context.Context, caller *Identity, in CreateShelfInput) (domain.Shelf, error) {
	admin, err := a.RequireAdmin(ctx, caller)
	if err != nil {
		return domain.Shelf{}, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Shelf{}, errValidation("Title required")
	}
	if utf8.RuneCountInString(title) > maxShelfTitleRunes {
		return domain.Shelf{}, errValidation("Title is too long")
	}
	key := slug.Make(title)
	if key == "" {
		return domain.Shelf{}, errValidation("Title must contain letters or digits")
	}
	isPublic := true
	if in.IsPublic != nil {
		isPublic = *in.IsPublic
	}
	shelf, err := a.store.CreateShelf(ctx, domain.Shelf{
		Slug:        key,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		IsPublic:    isPublic,
		CreatedAt:   a.clock(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Shelf{}, errConflict("Shelf exists", err)
		}
		return domain.Shelf{}, errInternal("create shelf", err)
	}
	slog.Info("shelf created", "slug", shelf.Slug, "order", shelf.Order, "by", admin.ID)
	return shelf, nil
}

// ShelfRef is the short form used by pickers.
type ShelfRef struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// ShelfList returns every shelf in display order.
func (a *App) ShelfList(ctx context.Context) ([]ShelfRef, error) {
	shelves, err := a.store.ListShelves(ctx, false)
	if err != nil {
		return nil, errInternal("list shelves", err)
	}
	out := make([]ShelfRef, 0, len(shelves))
	for _, s := range shelves {
		out = append(out, ShelfRef{Slug: s.Slug, Title: s.Title})
	}
	return out, nil
}

// LibraryShelf is a public shelf with the stories placed on it.
type LibraryShelf struct {
	domain.Shelf
	Books []domain.Story `json:"books"`
}

// Library is the public index: public shelves in order, each holding its
// publicly visible stories newest first. Stories whose shelf does not exist
// land on the community shelf when it is public. Stories on a members-only
// shelf are left out, as are empty shelves.
func (a *App) Library(ctx context.Context) ([]LibraryShelf, error) {
	shelves, stories, err := a.shelvesAndStories(ctx, false)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(shelves))
	out := make([]LibraryShelf, len(shelves))
	for i, s := range shelves {
		index[s.Slug] = i
		out[i] = LibraryShelf{Shelf: s, Books: []domain.Story{}}
	}
	community, hasCommunity := index[domain.ShelfCommunity]
	if hasCommunity && !shelves[community].IsPublic {
		hasCommunity = false
	}
	for _, story := range stories {
		i, ok := index[story.Shelf]
		if !ok {
			if !hasCommunity {
				continue
			}
			i = community
		}
		if !out[i].IsPublic {
			continue
		}
		out[i].Books = append(out[i].Books, story)
	}
	filled := out[:0]
	for _, s := range out {
		if s.IsPublic && len(s.Books) > 0 {
			filled = append(filled, s)
		}
	}
	return filled, nil
}

// BookSummary is the card shown for a story on a shelf.
type BookSummary struct {
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Slug          string    `json:"slug"`
	PublishedDate time.Time `json:"publishedDate"`
	Shelf         string    `json:"shelf"`
	Type          string    `json:"type"`
}

// ShelfView is one category of the shelves page.
type ShelfView struct {
	Category    string        `json:"category"`
	Slug        string        `json:"slug"`
	Description string        `json:"description"`
	Books       []BookSummary `json:"books"`
}

// LibraryShelves lists shelves with book summaries. Guests only see public
// shelves; signed-in callers see all of them.
func (a *App) LibraryShelves(ctx context.Context, caller *Identity) ([]ShelfView, error) {
	publicOnly := caller == nil
	shelves, stories, err := a.shelvesAndStories(ctx, publicOnly)
	if err != nil {
		return nil, err
	}
	byShelf := make(map[string][]BookSummary)
	for _, s := range stories {
		if s.Shelf == "" {
			continue
		}
		byShelf[s.Shelf] = append(byShelf[s.Shelf], BookSummary{
			Title:         s.Title,
			Author:        s.AuthorName,
			Slug:          s.Slug,
			PublishedDate: s.CreatedAt,
			Shelf:         s.Shelf,
			Type:          s.Type,
		})
	}
	out := make([]ShelfView, 0, len(shelves))
	for _, s := range shelves {
		books := byShelf[s.Slug]
		if books == nil {
			books = []BookSummary{}
		}
		out = append(out, ShelfView{Category: s.Title, Slug: s.Slug, Description: s.Description, Books: books})
	}
	return out, nil
}

// shelvesAndStories reads shelves and publicly visible stories concurrently.
func (a *App) shelvesAndStories(ctx context.Context, publicShelvesOnly bool) ([]domain.Shelf, []domain.Story, error) {
	var (
		shelves []domain.Shelf
		stories []domain.Story
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		shelves, err = a.store.ListShelves(gctx, publicShelvesOnly)
		return err
	})
	g.Go(func() error {
		var err error
		stories, err = a.store.ListStories(gctx, store.StoryFilter{PublicOnly: true})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, errInternal("load library", err)
	}
	return shelves, stories, nil
}
