package store

import (
	"context"
	"errors"
	"time"

	"zettler/pkg/domain"
)

var (
	// ErrNotFound means the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a unique key is taken or a state precondition failed.
	ErrConflict = errors.New("conflict")
)

// StoryFilter narrows ListStories. Zero value lists everything.
type StoryFilter struct {
	AuthorID   string
	PublicOnly bool
	Limit      int
}

// CardRequest describes one library card issuance.
type CardRequest struct {
	UserID     string
	Branch     string
	Year       string
	ApprovedBy string
	At         time.Time
}

// Store is the persistence boundary of the library service. Methods that
// touch more than one record run in a single transaction.
type Store interface {
	// users
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	CreateUserIfAbsent(ctx context.Context, u domain.User) (domain.User, bool, error)
	// UpdateUser and UpdatePersona hand the callback a zero UpdatedAt. A
	// timestamp the callback sets is kept; otherwise the current time is
	// stamped.
	UpdateUser(ctx context.Context, id string, mutate func(*domain.User) error) (domain.User, error)
	ListUsersWithoutCard(ctx context.Context) ([]domain.User, error)

	// cards and personas
	IssueCard(ctx context.Context, req CardRequest) (string, error)
	CreatePersona(ctx context.Context, persona domain.User, profile domain.AIProfile, year string) (domain.User, error)
	UpdatePersona(ctx context.Context, id string, mutate func(*domain.User, *domain.AIProfile) error) (domain.User, domain.AIProfile, error)
	GetAIProfile(ctx context.Context, userID string) (domain.AIProfile, bool, error)

	// shelves
	CreateShelf(ctx context.Context, s domain.Shelf) (domain.Shelf, error)
	ListShelves(ctx context.Context, publicOnly bool) ([]domain.Shelf, error)

	// stories and entries
	CreateStory(ctx context.Context, s domain.Story) error
	CreateGeneratedStory(ctx context.Context, s domain.Story, tokens int64) error
	GetStory(ctx context.Context, slug string) (domain.Story, bool, error)
	ListStories(ctx context.Context, f StoryFilter) ([]domain.Story, error)
	UpdateStory(ctx context.Context, slug string, mutate func(*domain.Story) error) (domain.Story, error)
	CreateEntry(ctx context.Context, e domain.StoryEntry) error
	ListEntries(ctx context.Context, storySlug string) ([]domain.StoryEntry, error)

	// ai usage
	GetUsage(ctx context.Context) (domain.UsageCycle, bool, error)
	ListUsageHistory(ctx context.Context, limit int) ([]domain.UsageHistory, error)
	RefreshUsage(ctx context.Context, historyID, by string, at time.Time) (domain.UsageHistory, bool, error)

	// notifications
	CreateNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// stamped returns t, or the current time when the mutate callback left it
// zero.
func stamped(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
