package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"zettler/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID                string `gorm:"primaryKey"`
	Email             string `gorm:"index"`
	DisplayName       string `gorm:"not null"`
	PhotoURL          string
	AvatarKey         string
	Role              string `gorm:"not null"`
	Status            string `gorm:"not null"`
	LibraryCardNumber string `gorm:"index"`
	Branch            string
	ApprovedAt        *time.Time
	ApprovedBy        string
	IsAI              bool      `gorm:"not null;default:false"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime:false"`
}

type CounterModel struct {
	Key       string    `gorm:"primaryKey"`
	Count     int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type ShelfModel struct {
	Slug        string `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Description string `gorm:"not null;default:''"`
	IsPublic    bool   `gorm:"not null"`
	SortOrder   int    `gorm:"not null;index"`
	CreatedAt   time.Time
}

type StoryModel struct {
	Slug           string         `gorm:"primaryKey"`
	Title          string         `gorm:"not null"`
	Type           string         `gorm:"not null"`
	Content        string         `gorm:"type:text;not null"`
	Summary        string         `gorm:"type:text"`
	Tags           datatypes.JSON `gorm:"type:jsonb"`
	Shelf          string         `gorm:"not null;index"`
	Status         string         `gorm:"not null;index"`
	AuthorID       string         `gorm:"not null;index"`
	AuthorName     string         `gorm:"not null"`
	IsPublicDomain bool           `gorm:"not null"`
	IsFeatured     bool           `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index"`
	UpdatedAt      time.Time      `gorm:"not null;autoUpdateTime:false"`
}

type StoryEntryModel struct {
	ID        string    `gorm:"primaryKey"`
	StorySlug string    `gorm:"not null;uniqueIndex:idx_entry_story_slug"`
	Slug      string    `gorm:"not null;uniqueIndex:idx_entry_story_slug"`
	Title     string    `gorm:"not null"`
	Type      string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	Date      time.Time `gorm:"not null;index"`
	AuthorID  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

type AIProfileModel struct {
	UserID       string `gorm:"primaryKey"`
	SystemPrompt string `gorm:"type:text"`
	StyleGuide   string    `gorm:"type:text"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

type UsageCycleModel struct {
	ID            string `gorm:"primaryKey"`
	TotalRequests int64  `gorm:"not null"`
	TotalTokens   int64  `gorm:"not null"`
	LastRefreshAt *time.Time
	RefreshedBy   string
	UpdatedAt     time.Time
}

type UsageHistoryModel struct {
	ID         string         `gorm:"primaryKey"`
	Snapshot   datatypes.JSON `gorm:"type:jsonb;not null"`
	ArchivedAt time.Time      `gorm:"not null;index"`
	ArchivedBy string         `gorm:"not null"`
}

type NotificationModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Title     string    `gorm:"not null"`
	Message   string    `gorm:"type:text;not null"`
	Type      string    `gorm:"not null"`
	Read      bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;index"`
}

const currentCycleID = "current"

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:                u.ID,
		Email:             u.Email,
		DisplayName:       u.DisplayName,
		PhotoURL:          u.PhotoURL,
		AvatarKey:         u.AvatarKey,
		Role:              string(u.Role),
		Status:            string(u.Status),
		LibraryCardNumber: u.LibraryCardNumber,
		Branch:            u.Branch,
		ApprovedAt:        u.ApprovedAt,
		ApprovedBy:        u.ApprovedBy,
		IsAI:              u.IsAI,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:                m.ID,
		Email:             m.Email,
		DisplayName:       m.DisplayName,
		PhotoURL:          m.PhotoURL,
		AvatarKey:         m.AvatarKey,
		Role:              domain.Role(m.Role),
		Status:            domain.UserStatus(m.Status),
		LibraryCardNumber: m.LibraryCardNumber,
		Branch:            m.Branch,
		ApprovedAt:        m.ApprovedAt,
		ApprovedBy:        m.ApprovedBy,
		IsAI:              m.IsAI,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func shelfToModel(s domain.Shelf) ShelfModel {
	return ShelfModel{
		Slug:        s.Slug,
		Title:       s.Title,
		Description: s.Description,
		IsPublic:    s.IsPublic,
		SortOrder:   s.Order,
		CreatedAt:   s.CreatedAt,
	}
}

func shelfFromModel(m ShelfModel) domain.Shelf {
	return domain.Shelf{
		Slug:        m.Slug,
		Title:       m.Title,
		Description: m.Description,
		IsPublic:    m.IsPublic,
		Order:       m.SortOrder,
		CreatedAt:   m.CreatedAt,
	}
}

func storyToModel(s domain.Story) StoryModel {
	tags, _ := json.Marshal(cloneStrings(s.Tags))
	return StoryModel{
		Slug:           s.Slug,
		Title:          s.Title,
		Type:           s.Type,
		Content:        s.Content,
		Summary:        s.Summary,
		Tags:           datatypes.JSON(tags),
		Shelf:          s.Shelf,
		Status:         string(s.Status),
		AuthorID:       s.AuthorID,
		AuthorName:     s.AuthorName,
		IsPublicDomain: s.IsPublicDomain,
		IsFeatured:     s.IsFeatured,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func storyFromModel(m StoryModel) domain.Story {
	var tags []string
	if len(m.Tags) > 0 {
		_ = json.Unmarshal(m.Tags, &tags)
	}
	return domain.Story{
		Slug:           m.Slug,
		Title:          m.Title,
		Type:           m.Type,
		Content:        m.Content,
		Summary:        m.Summary,
		Tags:           cloneStrings(tags),
		Shelf:          m.Shelf,
		Status:         domain.StoryStatus(m.Status),
		AuthorID:       m.AuthorID,
		AuthorName:     m.AuthorName,
		IsPublicDomain: m.IsPublicDomain,
		IsFeatured:     m.IsFeatured,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func entryToModel(e domain.StoryEntry) StoryEntryModel {
	return StoryEntryModel{
		ID:        e.ID,
		StorySlug: e.StorySlug,
		Slug:      e.Slug,
		Title:     e.Title,
		Type:      e.Type,
		Content:   e.Content,
		Date:      e.Date,
		AuthorID:  e.AuthorID,
		CreatedAt: e.CreatedAt,
	}
}

func entryFromModel(m StoryEntryModel) domain.StoryEntry {
	return domain.StoryEntry{
		ID:        m.ID,
		StorySlug: m.StorySlug,
		Slug:      m.Slug,
		Title:     m.Title,
		Type:      m.Type,
		Content:   m.Content,
		Date:      m.Date,
		AuthorID:  m.AuthorID,
		CreatedAt: m.CreatedAt,
	}
}

func profileToModel(p domain.AIProfile) AIProfileModel {
	return AIProfileModel{UserID: p.UserID, SystemPrompt: p.SystemPrompt, StyleGuide: p.StyleGuide, UpdatedAt: p.UpdatedAt}
}

func profileFromModel(m AIProfileModel) domain.AIProfile {
	return domain.AIProfile{UserID: m.UserID, SystemPrompt: m.SystemPrompt, StyleGuide: m.StyleGuide, UpdatedAt: m.UpdatedAt}
}

func cycleFromModel(m UsageCycleModel) domain.UsageCycle {
	return domain.UsageCycle{
		TotalRequests: m.TotalRequests,
		TotalTokens:   m.TotalTokens,
		LastRefreshAt: m.LastRefreshAt,
		RefreshedBy:   m.RefreshedBy,
		UpdatedAt:     m.UpdatedAt,
	}
}

// usageSnapshot is the archived shape of a cycle.
type usageSnapshot struct {
	TotalRequests int64      `json:"totalRequests"`
	TotalTokens   int64      `json:"totalTokens"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
}

func historyFromModel(m UsageHistoryModel) domain.UsageHistory {
	var snap usageSnapshot
	_ = json.Unmarshal(m.Snapshot, &snap)
	return domain.UsageHistory{
		ID:            m.ID,
		TotalRequests: snap.TotalRequests,
		TotalTokens:   snap.TotalTokens,
		StartedAt:     snap.StartedAt,
		ArchivedAt:    m.ArchivedAt,
		ArchivedBy:    m.ArchivedBy,
	}
}

func notificationToModel(n domain.Notification) NotificationModel {
	return NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

func notificationFromModel(m NotificationModel) domain.Notification {
	return domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Message:   m.Message,
		Type:      m.Type,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}
