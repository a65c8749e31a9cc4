package domain

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleSuper  Role = "super"
)

// Valid reports whether r is one of the assignable roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleSuper:
		return true
	}
	return false
}

// IsStaff is true for roles allowed to curate content.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleSuper
}

type UserStatus string

const (
	UserPending  UserStatus = "pending"
	UserApproved UserStatus = "approved"
)

type User struct {
	ID                string     `json:"uid"`
	Email             string     `json:"email"`
	DisplayName       string     `json:"displayName"`
	PhotoURL          string     `json:"photoURL,omitempty"`
	AvatarKey         string     `json:"-"`
	Role              Role       `json:"role"`
	Status            UserStatus `json:"status"`
	LibraryCardNumber string     `json:"libraryCardNumber,omitempty"`
	Branch            string     `json:"branch,omitempty"`
	ApprovedAt        *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy        string     `json:"approvedBy,omitempty"`
	IsAI              bool       `json:"isAI,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// HasApprovedCard is true once a card has been issued and the user approved.
func (u User) HasApprovedCard() bool {
	return u.LibraryCardNumber != "" && u.Status == UserApproved
}

type Shelf struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	IsPublic    bool      `json:"isPublic"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"createdAt"`
}

type StoryStatus string

const (
	StoryDraft     StoryStatus = "draft"
	StoryPending   StoryStatus = "pending"
	StoryApproved  StoryStatus = "approved"
	StoryPublished StoryStatus = "published"
	StoryArchived  StoryStatus = "archived"
)

func (s StoryStatus) Valid() bool {
	switch s {
	case StoryDraft, StoryPending, StoryApproved, StoryPublished, StoryArchived:
		return true
	}
	return false
}

// Public reports whether stories in this status show up in library views.
func (s StoryStatus) Public() bool {
	return s == StoryApproved || s == StoryPublished
}

// Reserved shelf slugs.
const (
	ShelfUnapproved = "unapproved"
	ShelfAI         = "ai"
	ShelfCommunity  = "community"
)

type Story struct {
	Slug           string      `json:"slug"`
	Title          string      `json:"title"`
	Type           string      `json:"type"`
	Content        string      `json:"content"`
	Summary        string      `json:"summary,omitempty"`
	Tags           []string    `json:"tags"`
	Shelf          string      `json:"shelf"`
	Status         StoryStatus `json:"status"`
	AuthorID       string      `json:"authorId"`
	AuthorName     string      `json:"author"`
	IsPublicDomain bool        `json:"isPublicDomain"`
	IsFeatured     bool        `json:"isFeatured"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type StoryEntry struct {
	ID        string    `json:"id"`
	StorySlug string    `json:"storySlug"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Date      time.Time `json:"date"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

type AIProfile struct {
	UserID       string    `json:"userId"`
	SystemPrompt string    `json:"systemPrompt"`
	StyleGuide   string    `json:"styleGuide"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UsageCycle is the running AI usage counter since the last refresh.
type UsageCycle struct {
	TotalRequests int64      `json:"totalRequests"`
	TotalTokens   int64      `json:"totalTokens"`
	LastRefreshAt *time.Time `json:"lastRefreshAt,omitempty"`
	RefreshedBy   string     `json:"refreshedBy,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type UsageHistory struct {
	ID            string     `json:"id"`
	TotalRequests int64      `json:"totalRequests"`
	TotalTokens   int64      `json:"totalTokens"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	ArchivedAt    time.Time  `json:"archivedAt"`
	ArchivedBy    string     `json:"archivedBy"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
