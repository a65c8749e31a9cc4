package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"zettler/pkg/domain"
	"zettler/pkg/store"
)

// IssueCard approves targetUserID with the next card number on branch.
func (a *App) IssueCard(ctx context.Context, caller *Identity, targetUserID, branch string) (string, error) {
	admin, err := a.RequireAdmin(ctx, caller)
	if err != nil {
		return "", err
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" || strings.TrimSpace(branch) == "" {
		return "", errValidation("Missing targetUserId or branch")
	}
	normalized, ok := domain.NormalizeBranch(branch)
	if !ok {
		return "", errValidation("Branch must be 2-8 letters or digits")
	}
	now := a.clock()
	card, err := a.store.IssueCard(ctx, store.CardRequest{
		UserID:     targetUserID,
		Branch:     normalized,
		Year:       domain.CardYear(now),
		ApprovedBy: admin.ID,
		At:         now,
	})
	if err != nil {
		return "", storeErr("issue card", "Target user not found", err)
	}
	slog.Info("library card issued", "user_id", targetUserID, "card", card, "approved_by", admin.ID)
	a.notify(ctx, targetUserID, "Library Card Approved",
		fmt.Sprintf("Your library card %s has been issued. Welcome to the archive.", card), "success")
	return card, nil
}

// MigrationResult reports a card backfill.
type MigrationResult struct {
	Updated int      `json:"updated"`
	Details []string `json:"details"`
}

// MigrateCards issues cards to every user that has none. Each user gets its
// own transaction; failures are logged and skipped.
func (a *App) MigrateCards(ctx context.Context, caller *Identity) (MigrationResult, error) {
	super, err := a.RequireSuper(ctx, caller)
	if err != nil {
		return MigrationResult{}, err
	}
	users, err := a.store.ListUsersWithoutCard(ctx)
	if err != nil {
		return MigrationResult{}, errInternal("list users without card", err)
	}
	res := MigrationResult{Details: []string{}}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return res, errInternal("migrate cards", err)
		}
		branch, ok := domain.NormalizeBranch(u.Branch)
		if !ok {
			branch = domain.BranchCommunity
		}
		now := a.clock()
		card, err := a.store.IssueCard(ctx, store.CardRequest{
			UserID:     u.ID,
			Branch:     branch,
			Year:       domain.CardYear(now),
			ApprovedBy: super.ID,
			At:         now,
		})
		if err != nil {
			slog.Error("card migration failed", "user_id", u.ID, "err", err)
			continue
		}
		res.Updated++
		res.Details = append(res.Details, fmt.Sprintf("Generated %s -> %s", u.ID, card))
	}
	slog.Info("card migration finished", "updated", res.Updated, "candidates", len(users), "by", super.ID)
	return res, nil
}
