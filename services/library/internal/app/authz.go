package app

import (
	"context"
	"log/slog"

	"zettler/pkg/domain"
)

// RequireUser returns the stored record of a signed-in caller.
func (a *App) RequireUser(ctx context.Context, id *Identity) (domain.User, error) {
	if id == nil || id.UID == "" {
		return domain.User{}, errUnauthenticated()
	}
	user, ok, err := a.store.GetUser(ctx, id.UID)
	if err != nil {
		return domain.User{}, errInternal("load caller", err)
	}
	if !ok {
		slog.Warn("session for unknown user", "user_id", id.UID)
		return domain.User{}, errForbidden("")
	}
	return user, nil
}

// RequireAdmin allows admin and super.
func (a *App) RequireAdmin(ctx context.Context, id *Identity) (domain.User, error) {
	user, err := a.RequireUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !user.Role.IsStaff() {
		return domain.User{}, errForbidden("Forbidden: Admin access required")
	}
	return user, nil
}

// RequireSuper allows super only.
func (a *App) RequireSuper(ctx context.Context, id *Identity) (domain.User, error) {
	user, err := a.RequireUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if user.Role != domain.RoleSuper {
		return domain.User{}, errForbidden("Forbidden: Super access required")
	}
	return user, nil
}

// staff reports whether the caller currently holds admin or super. Guests
// and unknown users are not staff.
func (a *App) staff(ctx context.Context, id *Identity) (domain.User, bool, error) {
	if id == nil || id.UID == "" {
		return domain.User{}, false, nil
	}
	user, ok, err := a.store.GetUser(ctx, id.UID)
	if err != nil {
		return domain.User{}, false, errInternal("load caller", err)
	}
	return user, ok && user.Role.IsStaff(), nil
}
