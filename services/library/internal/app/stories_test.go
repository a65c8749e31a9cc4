package app

import (
	"context"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"zettler/pkg/domain"
)

func ptr[T any](v T) *T { return &v }

func TestCreateShelf(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.seedUser(t, "admin", domain.RoleAdmin)

	shelf, err := env.app.CreateShelf(ctx, admin, CreateShelfInput{Title: "Science Fiction"})
	if err != nil {
		t.Fatalf("create shelf: %v", err)
	}
	if shelf.Slug != "science-fiction" || shelf.Order != 0 || !shelf.IsPublic {
		t.Fatalf("unexpected shelf %+v", shelf)
	}
	_, err = env.app.CreateShelf(ctx, admin, CreateShelfInput{Title: "Science  Fiction!"})
	wantKind(t, err, KindConflict)

	next, err := env.app.CreateShelf(ctx, admin, CreateShelfInput{Title: "Myths", IsPublic: ptr(false)})
	if err != nil {
		t.Fatalf("create second shelf: %v", err)
	}
	if next.Order != 1 || next.IsPublic {
		t.Fatalf("unexpected second shelf %+v", next)
	}

	_, err = env.app.CreateShelf(ctx, admin, CreateShelfInput{Title: "  "})
	wantKind(t, err, KindValidation)
	_, err = env.app.CreateShelf(ctx, admin, CreateShelfInput{Title: "!!!"})
	wantKind(t, err, KindValidation)
	_, err = env.app.CreateShelf(ctx, env.seedUser(t, "m", domain.RoleMember), CreateShelfInput{Title: "Mine"})
	wantKind(t, err, KindForbidden)

	list, err := env.app.ShelfList(ctx)
	if err != nil {
		t.Fatalf("shelf list: %v", err)
	}
	want := []ShelfRef{{Slug: "science-fiction", Title: "Science Fiction"}, {Slug: "myths", Title: "Myths"}}
	if !reflect.DeepEqual(list, want) {
		t.Fatalf("shelf list = %+v", list)
	}
}

var suffixed = regexp.MustCompile(`^the-first-tale-[a-z0-9]{4}$`)

func TestCreateStoryDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	author := env.seedUser(t, "u1", domain.RoleMember)

	key, err := env.app.CreateStory(ctx, author, CreateStoryInput{
		Title:   "The First Tale",
		Content: "Once.",
		Tags:    []string{"Myth", "myth", " sea "},
	})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	if !suffixed.MatchString(key) {
		t.Fatalf("slug %q lacks the random suffix", key)
	}
	story, ok, _ := env.store.GetStory(ctx, key)
	if !ok {
		t.Fatalf("story not stored")
	}
	if story.Shelf != domain.ShelfUnapproved || story.Status != domain.StoryDraft || story.AuthorName != "User u1" {
		t.Fatalf("unexpected defaults %+v", story)
	}
	if !reflect.DeepEqual(story.Tags, []string{"myth", "sea"}) {
		t.Fatalf("tags = %v", story.Tags)
	}

	other, err := env.app.CreateStory(ctx, author, CreateStoryInput{Title: "The First Tale"})
	if err != nil || other == key {
		t.Fatalf("second story with same title = %q, %v", other, err)
	}

	_, err = env.app.CreateStory(ctx, author, CreateStoryInput{Title: ""})
	wantKind(t, err, KindValidation)
	_, err = env.app.CreateStory(ctx, author, CreateStoryInput{Title: strings.Repeat("x", 201)})
	wantKind(t, err, KindValidation)
	_, err = env.app.CreateStory(ctx, author, CreateStoryInput{Title: "Long", Content: strings.Repeat("y", 100_001)})
	wantKind(t, err, KindValidation)
	_, err = env.app.CreateStory(ctx, nil, CreateStoryInput{Title: "Guest"})
	wantKind(t, err, KindUnauthenticated)

	mine, err := env.app.MyStories(ctx, author)
	if err != nil || len(mine) != 2 {
		t.Fatalf("my stories = %d, %v", len(mine), err)
	}
}

func TestUpdateStoryPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.seedUser(t, "owner", domain.RoleMember)
	stranger := env.seedUser(t, "stranger", domain.RoleMember)
	admin := env.seedUser(t, "admin", domain.RoleAdmin)
	super := env.seedUser(t, "super", domain.RoleSuper)

	key, err := env.app.CreateStory(ctx, owner, CreateStoryInput{Title: "Draft", Content: "v1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _, _ := env.store.GetStory(ctx, key)

	_, err = env.app.UpdateStory(ctx, stranger, key, StoryUpdate{Title: ptr("Hijacked"), Status: ptr("published")})
	wantKind(t, err, KindForbidden)
	after, _, _ := env.store.GetStory(ctx, key)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rejected update changed the story:\nbefore %+v\nafter  %+v", before, after)
	}
	_, err = env.app.UpdateStory(ctx, stranger, key, StoryUpdate{Status: ptr("bogus"), Title: ptr("")})
	wantKind(t, err, KindForbidden)

	updated, err := env.app.UpdateStory(ctx, admin, key, StoryUpdate{
		Title:      ptr("Admin title"),
		Content:    ptr("admin content"),
		Status:     ptr("approved"),
		IsFeatured: ptr(true),
	})
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if updated.Title != "Draft" || updated.Content != "v1" {
		t.Fatalf("admin changed owner-only fields: %+v", updated)
	}
	if updated.Status != domain.StoryApproved || !updated.IsFeatured {
		t.Fatalf("admin status/featured not applied: %+v", updated)
	}

	updated, err = env.app.UpdateStory(ctx, owner, key, StoryUpdate{
		Title:   ptr("Final"),
		Content: ptr("v2"),
		Shelf:   ptr("myths"),
		Tags:    ptr([]string{"Epic"}),
	})
	if err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if updated.Title != "Final" || updated.Content != "v2" || updated.Shelf != "myths" || updated.Tags[0] != "epic" {
		t.Fatalf("owner update not applied: %+v", updated)
	}
	if updated.Slug != key {
		t.Fatalf("slug changed to %s", updated.Slug)
	}

	if _, err := env.app.UpdateStory(ctx, super, key, StoryUpdate{Type: ptr("legend")}); err != nil {
		t.Fatalf("super update: %v", err)
	}
	_, err = env.app.UpdateStory(ctx, owner, key, StoryUpdate{Status: ptr("live")})
	wantKind(t, err, KindValidation)
	_, err = env.app.UpdateStory(ctx, owner, "missing", StoryUpdate{Title: ptr("x")})
	wantKind(t, err, KindNotFound)

	if _, err := env.app.GetOwnStory(ctx, owner, key); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := env.app.GetOwnStory(ctx, admin, key); err != nil {
		t.Fatalf("admin get: %v", err)
	}
	_, err = env.app.GetOwnStory(ctx, stranger, key)
	wantKind(t, err, KindForbidden)
}

func TestElementVisibilityAndEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.seedUser(t, "owner", domain.RoleMember)
	stranger := env.seedUser(t, "stranger", domain.RoleMember)
	admin := env.seedUser(t, "admin", domain.RoleAdmin)

	key, err := env.app.CreateStory(ctx, owner, CreateStoryInput{Title: "Secret"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.app.Element(ctx, nil, key)
	wantKind(t, err, KindForbidden)
	_, err = env.app.Element(ctx, stranger, key)
	wantKind(t, err, KindForbidden)
	if _, err := env.app.Element(ctx, owner, key); err != nil {
		t.Fatalf("owner element: %v", err)
	}
	if _, err := env.app.Element(ctx, admin, key); err != nil {
		t.Fatalf("admin element: %v", err)
	}
	_, err = env.app.Element(ctx, nil, "nope")
	wantKind(t, err, KindNotFound)

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := env.app.AddEntry(ctx, owner, AddEntryInput{StorySlug: key, Title: "Birth", Content: "born", Date: &older}); err != nil {
		t.Fatalf("add entry: %v", err)
	}
	if _, err := env.app.AddEntry(ctx, owner, AddEntryInput{StorySlug: key, Title: "Death", Content: "died"}); err != nil {
		t.Fatalf("add entry: %v", err)
	}
	_, err = env.app.AddEntry(ctx, stranger, AddEntryInput{StorySlug: key, Title: "Graffiti", Content: "x"})
	wantKind(t, err, KindForbidden)
	_, err = env.app.AddEntry(ctx, owner, AddEntryInput{StorySlug: key, Title: "No content"})
	wantKind(t, err, KindValidation)
	_, err = env.app.AddEntry(ctx, owner, AddEntryInput{StorySlug: "gone", Title: "x", Content: "y"})
	wantKind(t, err, KindNotFound)

	if _, err := env.app.UpdateStory(ctx, admin, key, StoryUpdate{Status: ptr("published")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	view, err := env.app.Element(ctx, nil, key)
	if err != nil {
		t.Fatalf("guest element after publish: %v", err)
	}
	if len(view.Entries) != 2 || view.Entries[0].Title != "Death" || view.Entries[0].Type != "event" {
		t.Fatalf("entries not newest first: %+v", view.Entries)
	}
}

func TestLibraryViews(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.seedUser(t, "admin", domain.RoleAdmin)
	author := env.seedUser(t, "author", domain.RoleMember)

	for _, in := range []CreateShelfInput{
		{Title: "Myths"},
		{Title: "Community"},
		{Title: "Empty"},
		{Title: "Vault", IsPublic: ptr(false)},
	} {
		if _, err := env.app.CreateShelf(ctx, admin, in); err != nil {
			t.Fatalf("create shelf %s: %v", in.Title, err)
		}
	}
	place := func(title, shelf, status string) string {
		key, err := env.app.CreateStory(ctx, author, CreateStoryInput{Title: title})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		if _, err := env.app.UpdateStory(ctx, author, key, StoryUpdate{Shelf: ptr(shelf), Status: ptr(status)}); err != nil {
			t.Fatalf("place %s: %v", title, err)
		}
		return key
	}
	place("Sea God", "myths", "approved")
	place("Lost Shelf", "nowhere", "published")
	place("Hidden", "myths", "draft")
	place("Locked", "vault", "approved")

	lib, err := env.app.Library(ctx)
	if err != nil {
		t.Fatalf("library: %v", err)
	}
	if len(lib) != 2 || lib[0].Slug != "myths" || lib[1].Slug != "community" {
		t.Fatalf("unexpected library shelves %+v", lib)
	}
	if len(lib[0].Books) != 1 || lib[0].Books[0].Title != "Sea God" {
		t.Fatalf("myths books = %+v", lib[0].Books)
	}
	if len(lib[1].Books) != 1 || lib[1].Books[0].Title != "Lost Shelf" {
		t.Fatalf("community fallback = %+v", lib[1].Books)
	}

	guest, err := env.app.LibraryShelves(ctx, nil)
	if err != nil {
		t.Fatalf("guest shelves: %v", err)
	}
	if len(guest) != 3 {
		t.Fatalf("guest should see 3 public shelves, got %d", len(guest))
	}
	member, err := env.app.LibraryShelves(ctx, author)
	if err != nil {
		t.Fatalf("member shelves: %v", err)
	}
	if len(member) != 4 || member[3].Category != "Vault" || len(member[3].Books) != 1 {
		t.Fatalf("member shelves = %+v", member)
	}
	if member[2].Books == nil {
		t.Fatalf("empty shelf must serialize an empty list")
	}
}

func TestLibraryMembersOnlyCommunity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.seedUser(t, "admin", domain.RoleAdmin)
	author := env.seedUser(t, "author", domain.RoleMember)

	if _, err := env.app.CreateShelf(ctx, admin, CreateShelfInput{Title: "Community", IsPublic: ptr(false)}); err != nil {
		t.Fatalf("create shelf: %v", err)
	}
	key, err := env.app.CreateStory(ctx, author, CreateStoryInput{Title: "Stray"})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	if _, err := env.app.UpdateStory(ctx, author, key, StoryUpdate{Shelf: ptr("nowhere"), Status: ptr("approved")}); err != nil {
		t.Fatalf("place story: %v", err)
	}

	lib, err := env.app.Library(ctx)
	if err != nil {
		t.Fatalf("library: %v", err)
	}
	if len(lib) != 0 {
		t.Fatalf("members-only community must stay off the public index, got %+v", lib)
	}
}

func TestAdminStoriesSuperOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	super := env.seedUser(t, "root", domain.RoleSuper)
	admin := env.seedUser(t, "adm", domain.RoleAdmin)
	member := env.seedUser(t, "m1", domain.RoleMember)

	for _, title := range []string{"One", "Two"} {
		if _, err := env.app.CreateStory(ctx, member, CreateStoryInput{Title: title, Content: "c"}); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	_, err := env.app.AdminStories(ctx, admin)
	wantKind(t, err, KindForbidden)
	_, err = env.app.AdminStories(ctx, nil)
	wantKind(t, err, KindUnauthenticated)

	all, err := env.app.AdminStories(ctx, super)
	if err != nil {
		t.Fatalf("admin stories: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin stories = %d, want 2", len(all))
	}
}
