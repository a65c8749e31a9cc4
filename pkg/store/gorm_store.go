package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"zettler/pkg/domain"
)

const (
	migrateLockID    int64 = 51730001
	shelfOrderLockID int64 = 51730002
)

// GormStore implements Store on Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so that concurrently starting replicas do not race.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&UserModel{}, &CounterModel{}, &ShelfModel{}, &StoryModel{}, &StoryEntryModel{},
			&AIProfileModel{}, &UsageCycleModel{}, &UsageHistoryModel{}, &NotificationModel{},
		)
	}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	}
	return err
}

func forUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateUserIfAbsent inserts u unless the ID exists; the stored row is returned either way.
func (s *GormStore) CreateUserIfAbsent(ctx context.Context, u domain.User) (domain.User, bool, error) {
	model := userToModel(u)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return domain.User{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return u, true, nil
	}
	existing, ok, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return domain.User{}, false, err
	}
	if !ok {
		return domain.User{}, false, fmt.Errorf("user %s vanished after insert conflict", u.ID)
	}
	return existing, false, nil
}

// UpdateUser applies mutate to the locked row and saves it. An error from
// mutate aborts the transaction unchanged.
func (s *GormStore) UpdateUser(ctx context.Context, id string, mutate func(*domain.User) error) (domain.User, error) {
	var out domain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.Clauses(forUpdate()).First(&model, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		u := userFromModel(model)
		u.UpdatedAt = time.Time{}
		if err := mutate(&u); err != nil {
			return err
		}
		u.ID = id
		u.UpdatedAt = stamped(u.UpdatedAt)
		updated := userToModel(u)
		if err := tx.Save(&updated).Error; err != nil {
			return translate(err)
		}
		out = u
		return nil
	})
	return out, err
}

// ListUsersWithoutCard returns users that still need a library card.
func (s *GormStore) ListUsersWithoutCard(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).
		Where("library_card_number = '' OR library_card_number IS NULL").
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// nextSequence bumps the (year, branch) counter inside tx. The upsert holds
// the counter row lock until tx ends, serializing concurrent issuers.
func nextSequence(tx *gorm.DB, key string, now time.Time) (int64, error) {
	counter := CounterModel{Key: key, Count: 1, UpdatedAt: now}
	err := tx.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count":      gorm.Expr("counter_models.count + 1"),
				"updated_at": now,
			}),
		},
		clause.Returning{Columns: []clause.Column{{Name: "count"}}},
	).Create(&counter).Error
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return counter.Count, nil
}

// IssueCard allocates the next card number and approves the user atomically.
func (s *GormStore) IssueCard(ctx context.Context, req CardRequest) (string, error) {
	var card string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.Clauses(forUpdate()).First(&model, "id = ?", req.UserID).Error; err != nil {
			return translate(err)
		}
		if userFromModel(model).HasApprovedCard() {
			return fmt.Errorf("%w: user already has an approved library card", ErrConflict)
		}
		at := req.At.UTC()
		seq, err := nextSequence(tx, domain.CounterKey(req.Year, req.Branch), at)
		if err != nil {
			return err
		}
		card = domain.CardNumber(req.Year, req.Branch, seq)
		return tx.Model(&UserModel{}).Where("id = ?", req.UserID).Updates(map[string]any{
			"library_card_number": card,
			"status":              string(domain.UserApproved),
			"branch":              req.Branch,
			"approved_at":         at,
			"approved_by":         req.ApprovedBy,
			"updated_at":          at,
		}).Error
	})
	return card, err
}

// CreatePersona allocates an AI-branch card and inserts the persona and its
// profile in one transaction.
func (s *GormStore) CreatePersona(ctx context.Context, persona domain.User, profile domain.AIProfile, year string) (domain.User, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSequence(tx, domain.CounterKey(year, domain.BranchAI), persona.CreatedAt)
		if err != nil {
			return err
		}
		persona.LibraryCardNumber = domain.CardNumber(year, domain.BranchAI, seq)
		persona.Branch = domain.BranchAI
		model := userToModel(persona)
		if err := tx.Create(&model).Error; err != nil {
			return translate(err)
		}
		profile.UserID = persona.ID
		pm := profileToModel(profile)
		return translate(tx.Create(&pm).Error)
	})
	if err != nil {
		return domain.User{}, err
	}
	return persona, nil
}

// UpdatePersona edits an AI user and its profile together.
func (s *GormStore) UpdatePersona(ctx context.Context, id string, mutate func(*domain.User, *domain.AIProfile) error) (domain.User, domain.AIProfile, error) {
	var (
		user    domain.User
		profile domain.AIProfile
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var um UserModel
		if err := tx.Clauses(forUpdate()).First(&um, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		var pm AIProfileModel
		if err := tx.Clauses(forUpdate()).First(&pm, "user_id = ?", id).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			pm = AIProfileModel{UserID: id}
		}
		user, profile = userFromModel(um), profileFromModel(pm)
		user.UpdatedAt, profile.UpdatedAt = time.Time{}, time.Time{}
		if err := mutate(&user, &profile); err != nil {
			return err
		}
		user.ID, profile.UserID = id, id
		user.UpdatedAt = stamped(user.UpdatedAt)
		if profile.UpdatedAt.IsZero() {
			profile.UpdatedAt = user.UpdatedAt
		}
		um, pm = userToModel(user), profileToModel(profile)
		if err := tx.Save(&um).Error; err != nil {
			return err
		}
		return tx.Save(&pm).Error
	})
	return user, profile, err
}

// GetAIProfile returns the persona profile for userID.
func (s *GormStore) GetAIProfile(ctx context.Context, userID string) (domain.AIProfile, bool, error) {
	var model AIProfileModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AIProfile{}, false, nil
		}
		return domain.AIProfile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// CreateShelf inserts a shelf at the end of the display order.
func (s *GormStore) CreateShelf(ctx context.Context, shelf domain.Shelf) (domain.Shelf, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", shelfOrderLockID).Error; err != nil {
			return fmt.Errorf("lock shelf order: %w", err)
		}
		var maxOrder sql.NullInt64
		if err := tx.Model(&ShelfModel{}).Select("MAX(sort_order)").Scan(&maxOrder).Error; err != nil {
			return err
		}
		shelf.Order = 0
		if maxOrder.Valid {
			shelf.Order = int(maxOrder.Int64) + 1
		}
		model := shelfToModel(shelf)
		return translate(tx.Create(&model).Error)
	})
	if err != nil {
		return domain.Shelf{}, err
	}
	return shelf, nil
}

// ListShelves returns shelves in display order.
func (s *GormStore) ListShelves(ctx context.Context, publicOnly bool) ([]domain.Shelf, error) {
	q := s.db.WithContext(ctx).Order("sort_order ASC").Order("slug ASC")
	if publicOnly {
		q = q.Where("is_public = ?", true)
	}
	var models []ShelfModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Shelf, 0, len(models))
	for _, m := range models {
		res = append(res, shelfFromModel(m))
	}
	return res, nil
}

// CreateStory inserts a story; an existing slug yields ErrConflict.
func (s *GormStore) CreateStory(ctx context.Context, story domain.Story) error {
	model := storyToModel(story)
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// CreateGeneratedStory saves an AI story and bumps the usage cycle in the
// same transaction.
func (s *GormStore) CreateGeneratedStory(ctx context.Context, story domain.Story, tokens int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := storyToModel(story)
		if err := tx.Create(&model).Error; err != nil {
			return translate(err)
		}
		cycle := UsageCycleModel{ID: currentCycleID, TotalRequests: 1, TotalTokens: tokens, UpdatedAt: story.CreatedAt}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_requests": gorm.Expr("usage_cycle_models.total_requests + 1"),
				"total_tokens":   gorm.Expr("usage_cycle_models.total_tokens + ?", tokens),
				"updated_at":     story.CreatedAt,
			}),
		}).Create(&cycle).Error
	})
}

// GetStory returns a story by slug.
func (s *GormStore) GetStory(ctx context.Context, slug string) (domain.Story, bool, error) {
	var model StoryModel
	if err := s.db.WithContext(ctx).First(&model, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Story{}, false, nil
		}
		return domain.Story{}, false, err
	}
	return storyFromModel(model), true, nil
}

// ListStories returns stories newest first.
func (s *GormStore) ListStories(ctx context.Context, f StoryFilter) ([]domain.Story, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if f.AuthorID != "" {
		q = q.Where("author_id = ?", f.AuthorID)
	}
	if f.PublicOnly {
		q = q.Where("status IN ?", []string{string(domain.StoryApproved), string(domain.StoryPublished)})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var models []StoryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Story, 0, len(models))
	for _, m := range models {
		res = append(res, storyFromModel(m))
	}
	return res, nil
}

// UpdateStory applies mutate to the locked story row.
func (s *GormStore) UpdateStory(ctx context.Context, slug string, mutate func(*domain.Story) error) (domain.Story, error) {
	var out domain.Story
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model StoryModel
		if err := tx.Clauses(forUpdate()).First(&model, "slug = ?", slug).Error; err != nil {
			return translate(err)
		}
		story := storyFromModel(model)
		if err := mutate(&story); err != nil {
			return err
		}
		story.Slug = slug
		updated := storyToModel(story)
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		out = story
		return nil
	})
	return out, err
}

// CreateEntry inserts a timeline entry; (story, slug) must be unique.
func (s *GormStore) CreateEntry(ctx context.Context, e domain.StoryEntry) error {
	model := entryToModel(e)
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// ListEntries returns a story's entries, latest date first.
func (s *GormStore) ListEntries(ctx context.Context, storySlug string) ([]domain.StoryEntry, error) {
	var models []StoryEntryModel
	if err := s.db.WithContext(ctx).
		Where("story_slug = ?", storySlug).
		Order("date DESC").Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.StoryEntry, 0, len(models))
	for _, m := range models {
		res = append(res, entryFromModel(m))
	}
	return res, nil
}

// GetUsage returns the running usage cycle.
func (s *GormStore) GetUsage(ctx context.Context) (domain.UsageCycle, bool, error) {
	var model UsageCycleModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", currentCycleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UsageCycle{}, false, nil
		}
		return domain.UsageCycle{}, false, err
	}
	return cycleFromModel(model), true, nil
}

// ListUsageHistory returns archived cycles, newest first.
func (s *GormStore) ListUsageHistory(ctx context.Context, limit int) ([]domain.UsageHistory, error) {
	q := s.db.WithContext(ctx).Order("archived_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []UsageHistoryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.UsageHistory, 0, len(models))
	for _, m := range models {
		res = append(res, historyFromModel(m))
	}
	return res, nil
}

// RefreshUsage archives the current cycle and zeroes it. ok is false when
// no cycle has been recorded yet.
func (s *GormStore) RefreshUsage(ctx context.Context, historyID, by string, at time.Time) (domain.UsageHistory, bool, error) {
	var (
		hist  domain.UsageHistory
		found bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cycle UsageCycleModel
		if err := tx.Clauses(forUpdate()).First(&cycle, "id = ?", currentCycleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		found = true
		at = at.UTC()
		snap, err := json.Marshal(usageSnapshot{
			TotalRequests: cycle.TotalRequests,
			TotalTokens:   cycle.TotalTokens,
			StartedAt:     cycle.LastRefreshAt,
		})
		if err != nil {
			return err
		}
		hm := UsageHistoryModel{ID: historyID, Snapshot: datatypes.JSON(snap), ArchivedAt: at, ArchivedBy: by}
		if err := tx.Create(&hm).Error; err != nil {
			return translate(err)
		}
		hist = historyFromModel(hm)
		return tx.Model(&UsageCycleModel{}).Where("id = ?", currentCycleID).Updates(map[string]any{
			"total_requests":  0,
			"total_tokens":    0,
			"last_refresh_at": at,
			"refreshed_by":    by,
			"updated_at":      at,
		}).Error
	})
	return hist, found, err
}

// CreateNotification stores a notification.
func (s *GormStore) CreateNotification(ctx context.Context, n domain.Notification) error {
	model := notificationToModel(n)
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// ListNotifications returns a user's notifications, newest first.
func (s *GormStore) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []NotificationModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		res = append(res, notificationFromModel(m))
	}
	return res, nil
}

// MarkNotificationRead flags one of the user's notifications as read.
func (s *GormStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
