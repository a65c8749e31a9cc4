package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zettler/pkg/domain"
)

// MemoryStore is an in-process Store for tests and local development. One
// mutex guards everything, so every method behaves like a serializable
// transaction.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[string]domain.User
	counters      map[string]int64
	shelves       map[string]domain.Shelf
	stories       map[string]domain.Story
	entries       map[string][]domain.StoryEntry // story slug -> entries
	profiles      map[string]domain.AIProfile
	cycle         *domain.UsageCycle
	history       []domain.UsageHistory
	notifications map[string][]domain.Notification // user id -> notifications
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		counters:      make(map[string]int64),
		shelves:       make(map[string]domain.Shelf),
		stories:       make(map[string]domain.Story),
		entries:       make(map[string][]domain.StoryEntry),
		profiles:      make(map[string]domain.AIProfile),
		notifications: make(map[string][]domain.Notification),
	}
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) CreateUserIfAbsent(_ context.Context, u domain.User) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		return existing, false, nil
	}
	m.users[u.ID] = u
	return u, true, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, id string, mutate func(*domain.User) error) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	u.UpdatedAt = time.Time{}
	if err := mutate(&u); err != nil {
		return domain.User{}, err
	}
	u.ID = id
	u.UpdatedAt = stamped(u.UpdatedAt)
	m.users[id] = u
	return u, nil
}

func (m *MemoryStore) ListUsersWithoutCard(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []domain.User
	for _, u := range m.users {
		if u.LibraryCardNumber == "" {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) nextSequence(key string) int64 {
	m.counters[key]++
	return m.counters[key]
}

func (m *MemoryStore) IssueCard(_ context.Context, req CardRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[req.UserID]
	if !ok {
		return "", ErrNotFound
	}
	if u.HasApprovedCard() {
		return "", fmt.Errorf("%w: user already has an approved library card", ErrConflict)
	}
	at := req.At.UTC()
	card := domain.CardNumber(req.Year, req.Branch, m.nextSequence(domain.CounterKey(req.Year, req.Branch)))
	u.LibraryCardNumber = card
	u.Status = domain.UserApproved
	u.Branch = req.Branch
	u.ApprovedAt = &at
	u.ApprovedBy = req.ApprovedBy
	u.UpdatedAt = at
	m.users[u.ID] = u
	return card, nil
}

func (m *MemoryStore) CreatePersona(_ context.Context, persona domain.User, profile domain.AIProfile, year string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[persona.ID]; ok {
		return domain.User{}, ErrConflict
	}
	seq := m.nextSequence(domain.CounterKey(year, domain.BranchAI))
	persona.LibraryCardNumber = domain.CardNumber(year, domain.BranchAI, seq)
	persona.Branch = domain.BranchAI
	profile.UserID = persona.ID
	m.users[persona.ID] = persona
	m.profiles[persona.ID] = profile
	return persona, nil
}

func (m *MemoryStore) UpdatePersona(_ context.Context, id string, mutate func(*domain.User, *domain.AIProfile) error) (domain.User, domain.AIProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.AIProfile{}, ErrNotFound
	}
	p, ok := m.profiles[id]
	if !ok {
		p = domain.AIProfile{UserID: id}
	}
	u.UpdatedAt, p.UpdatedAt = time.Time{}, time.Time{}
	if err := mutate(&u, &p); err != nil {
		return domain.User{}, domain.AIProfile{}, err
	}
	u.ID, p.UserID = id, id
	u.UpdatedAt = stamped(u.UpdatedAt)
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = u.UpdatedAt
	}
	m.users[id] = u
	m.profiles[id] = p
	return u, p, nil
}

func (m *MemoryStore) GetAIProfile(_ context.Context, userID string) (domain.AIProfile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	return p, ok, nil
}

func (m *MemoryStore) CreateShelf(_ context.Context, s domain.Shelf) (domain.Shelf, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shelves[s.Slug]; ok {
		return domain.Shelf{}, ErrConflict
	}
	s.Order = 0
	for _, existing := range m.shelves {
		if existing.Order >= s.Order {
			s.Order = existing.Order + 1
		}
	}
	m.shelves[s.Slug] = s
	return s, nil
}

func (m *MemoryStore) ListShelves(_ context.Context, publicOnly bool) ([]domain.Shelf, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Shelf, 0, len(m.shelves))
	for _, s := range m.shelves {
		if publicOnly && !s.IsPublic {
			continue
		}
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Order != res[j].Order {
			return res[i].Order < res[j].Order
		}
		return res[i].Slug < res[j].Slug
	})
	return res, nil
}

func (m *MemoryStore) CreateStory(_ context.Context, s domain.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertStory(s)
}

func (m *MemoryStore) insertStory(s domain.Story) error {
	if _, ok := m.stories[s.Slug]; ok {
		return ErrConflict
	}
	s.Tags = cloneStrings(s.Tags)
	m.stories[s.Slug] = s
	return nil
}

func (m *MemoryStore) CreateGeneratedStory(_ context.Context, s domain.Story, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertStory(s); err != nil {
		return err
	}
	if m.cycle == nil {
		m.cycle = &domain.UsageCycle{}
	}
	m.cycle.TotalRequests++
	m.cycle.TotalTokens += tokens
	m.cycle.UpdatedAt = s.CreatedAt
	return nil
}

func (m *MemoryStore) GetStory(_ context.Context, slug string) (domain.Story, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[slug]
	if ok {
		s.Tags = cloneStrings(s.Tags)
	}
	return s, ok, nil
}

func (m *MemoryStore) ListStories(_ context.Context, f StoryFilter) ([]domain.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Story, 0, len(m.stories))
	for _, s := range m.stories {
		if f.AuthorID != "" && s.AuthorID != f.AuthorID {
			continue
		}
		if f.PublicOnly && !s.Status.Public() {
			continue
		}
		s.Tags = cloneStrings(s.Tags)
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (m *MemoryStore) UpdateStory(_ context.Context, slug string, mutate func(*domain.Story) error) (domain.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[slug]
	if !ok {
		return domain.Story{}, ErrNotFound
	}
	s.Tags = cloneStrings(s.Tags)
	if err := mutate(&s); err != nil {
		return domain.Story{}, err
	}
	s.Slug = slug
	m.stories[slug] = s
	return s, nil
}

func (m *MemoryStore) CreateEntry(_ context.Context, e domain.StoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entries[e.StorySlug] {
		if existing.Slug == e.Slug || existing.ID == e.ID {
			return ErrConflict
		}
	}
	m.entries[e.StorySlug] = append(m.entries[e.StorySlug], e)
	return nil
}

func (m *MemoryStore) ListEntries(_ context.Context, storySlug string) ([]domain.StoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := append([]domain.StoryEntry(nil), m.entries[storySlug]...)
	sort.SliceStable(res, func(i, j int) bool { return res[i].Date.After(res[j].Date) })
	return res, nil
}

func (m *MemoryStore) GetUsage(_ context.Context) (domain.UsageCycle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cycle == nil {
		return domain.UsageCycle{}, false, nil
	}
	return *m.cycle, true, nil
}

func (m *MemoryStore) ListUsageHistory(_ context.Context, limit int) ([]domain.UsageHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.UsageHistory, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		res = append(res, m.history[i])
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func (m *MemoryStore) RefreshUsage(_ context.Context, historyID, by string, at time.Time) (domain.UsageHistory, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cycle == nil {
		return domain.UsageHistory{}, false, nil
	}
	at = at.UTC()
	h := domain.UsageHistory{
		ID:            historyID,
		TotalRequests: m.cycle.TotalRequests,
		TotalTokens:   m.cycle.TotalTokens,
		StartedAt:     m.cycle.LastRefreshAt,
		ArchivedAt:    at,
		ArchivedBy:    by,
	}
	m.history = append(m.history, h)
	m.cycle = &domain.UsageCycle{LastRefreshAt: &at, RefreshedBy: by, UpdatedAt: at}
	return h, true, nil
}

func (m *MemoryStore) CreateNotification(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.UserID] = append(m.notifications[n.UserID], n)
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.notifications[userID]
	res := make([]domain.Notification, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		res = append(res, all[i])
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.notifications[userID]
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
