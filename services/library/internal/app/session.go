package app

import (
	"context"
	"log/slog"
	"strings"

	"zettler/pkg/domain"
)

// CreateSession exchanges an identity-provider ID token for a session token.
// First sign-in registers the user as a pending member.
func (a *App) CreateSession(ctx context.Context, idToken string) (string, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return "", errValidation("ID token is required")
	}
	identity, err := a.idTokens.Verify(ctx, idToken)
	if err != nil {
		return "", &Error{Kind: KindUnauthenticated, Message: "Unauthorized request", Err: err}
	}
	if _, err := a.register(ctx, identity.UID, identity.Email, identity.Name, identity.Picture); err != nil {
		return "", err
	}
	token, err := a.sessions.Mint(identity.UID, identity.Email, identity.Name)
	if err != nil {
		return "", errInternal("mint session", err)
	}
	return token, nil
}

func (a *App) register(ctx context.Context, uid, email, name, picture string) (domain.User, error) {
	now := a.clock()
	role := domain.RoleMember
	if _, ok := a.superUsers[strings.ToLower(email)]; ok && email != "" {
		role = domain.RoleSuper
	}
	user, created, err := a.store.CreateUserIfAbsent(ctx, domain.User{
		ID:          uid,
		Email:       email,
		DisplayName: strings.TrimSpace(name),
		PhotoURL:    picture,
		Role:        role,
		Status:      domain.UserPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.User{}, errInternal("register user", err)
	}
	if created {
		slog.Info("user registered", "user_id", uid, "role", user.Role)
	}
	return user, nil
}

// Authenticate resolves a session token to the caller. Any failure means
// the caller is a guest.
func (a *App) Authenticate(ctx context.Context, token string) (Identity, error) {
	claims, err := a.sessions.Verify(ctx, token)
	if err != nil {
		return Identity{}, &Error{Kind: KindUnauthenticated, Message: "Unauthorized", Err: err}
	}
	return Identity{UID: claims.UID, Email: claims.Email, Name: claims.Name}, nil
}

// Logout revokes token. Guests and garbage tokens are fine.
func (a *App) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := a.sessions.Revoke(ctx, token); err != nil {
		return errInternal("revoke session", err)
	}
	return nil
}

// Me returns the stored profile of the caller, or one built from the
// session claims when no record exists. Guests get nil.
func (a *App) Me(ctx context.Context, id *Identity) (*domain.User, error) {
	if id == nil {
		return nil, nil
	}
	user, ok, err := a.store.GetUser(ctx, id.UID)
	if err != nil {
		slog.Warn("load profile failed", "user_id", id.UID, "err", err)
		ok = false
	}
	if !ok {
		return &domain.User{ID: id.UID, Email: id.Email, DisplayName: id.Name}, nil
	}
	if user.Email == "" {
		user.Email = id.Email
	}
	if user.DisplayName == "" {
		user.DisplayName = id.Name
	}
	return &user, nil
}
