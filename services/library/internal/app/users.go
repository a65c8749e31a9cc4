package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"zettler/pkg/domain"
	"zettler/pkg/storage"
)

const (
	maxDisplayNameRunes = 80
	notificationLimit   = 50
	avatarURLExpiry     = 15 * time.Minute
)

// UpdateRole sets the role of targetUserID and tells them about it.
func (a *App) UpdateRole(ctx context.Context, caller *Identity, targetUserID, newRole string) error {
	super, err := a.RequireSuper(ctx, caller)
	if err != nil {
		return err
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(newRole)))
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" || !role.Valid() {
		return errValidation("Invalid request")
	}
	if _, err := a.store.UpdateUser(ctx, targetUserID, func(u *domain.User) error {
		u.Role = role
		u.UpdatedAt = a.clock()
		return nil
	}); err != nil {
		return storeErr("update role", "Target user not found", err)
	}
	slog.Info("role updated", "user_id", targetUserID, "role", role, "by", super.ID)
	a.notify(ctx, targetUserID, "Role Updated",
		fmt.Sprintf("Your role has been updated to %s. Please refresh to see changes.", strings.ToUpper(string(role))), "info")
	return nil
}

// UpdateProfile changes the caller's display name.
func (a *App) UpdateProfile(ctx context.Context, caller *Identity, displayName string) (domain.User, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return domain.User{}, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.User{}, errValidation("Display Name is required")
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameRunes {
		return domain.User{}, errValidation(fmt.Sprintf("Display Name must be at most %d characters", maxDisplayNameRunes))
	}
	updated, err := a.store.UpdateUser(ctx, user.ID, func(u *domain.User) error {
		u.DisplayName = displayName
		u.UpdatedAt = a.clock()
		return nil
	})
	if err != nil {
		return domain.User{}, storeErr("update profile", "User not found", err)
	}
	return updated, nil
}

// Notifications lists the caller's most recent notifications.
func (a *App) Notifications(ctx context.Context, caller *Identity) ([]domain.Notification, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return nil, err
	}
	items, err := a.store.ListNotifications(ctx, user.ID, notificationLimit)
	if err != nil {
		return nil, errInternal("list notifications", err)
	}
	return items, nil
}

// MarkNotificationRead flags one of the caller's notifications as read.
func (a *App) MarkNotificationRead(ctx context.Context, caller *Identity, id string) error {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return errValidation("Missing notification id")
	}
	if err := a.store.MarkNotificationRead(ctx, user.ID, id); err != nil {
		return storeErr("mark notification read", "Notification not found", err)
	}
	return nil
}

// notify is best effort: a failed notification never fails the caller.
func (a *App) notify(ctx context.Context, userID, title, message, kind string) {
	err := a.store.CreateNotification(ctx, domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      kind,
		CreatedAt: a.clock(),
	})
	if err != nil {
		slog.Error("send notification failed", "user_id", userID, "title", title, "err", err)
	}
}

// ErrAvatarTooLarge is returned by UploadAvatar when the body exceeds the limit.
var ErrAvatarTooLarge = errors.New("avatar too large")

// UploadAvatar stores an image for the caller and returns a presigned URL.
// Only PNG, JPEG and WebP content is accepted, judged by the bytes rather
// than the client-supplied name.
func (a *App) UploadAvatar(ctx context.Context, caller *Identity, r io.Reader) (string, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return "", err
	}
	if a.objects == nil {
		return "", errUpstream("Avatar storage is not configured", nil)
	}
	data, err := io.ReadAll(io.LimitReader(r, a.maxAvatarBytes+1))
	if err != nil {
		return "", errValidation("Could not read upload")
	}
	if int64(len(data)) > a.maxAvatarBytes {
		return "", &Error{Kind: KindValidation, Message: fmt.Sprintf("File exceeds %d bytes", a.maxAvatarBytes), Err: ErrAvatarTooLarge}
	}
	if len(data) == 0 {
		return "", errValidation("Empty file")
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	contentType, ext, ok := storage.AvatarExtension(head)
	if !ok {
		return "", errValidation("Avatar must be a PNG, JPEG or WebP image")
	}
	key := storage.AvatarKey(user.ID, uuid.NewString(), ext)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", errUpstream("Avatar storage unavailable", err)
	}
	previous := user.AvatarKey
	if _, err := a.store.UpdateUser(ctx, user.ID, func(u *domain.User) error {
		u.AvatarKey = key
		u.UpdatedAt = a.clock()
		return nil
	}); err != nil {
		_ = a.objects.Delete(ctx, key)
		return "", storeErr("save avatar key", "User not found", err)
	}
	if previous != "" && previous != key {
		if err := a.objects.Delete(ctx, previous); err != nil {
			slog.Warn("delete old avatar failed", "user_id", user.ID, "key", previous, "err", err)
		}
	}
	url, err := a.objects.PresignGet(ctx, key, avatarURLExpiry)
	if err != nil {
		return "", errUpstream("Avatar storage unavailable", err)
	}
	return url, nil
}

// AvatarURL returns a short-lived download URL for the caller's avatar.
func (a *App) AvatarURL(ctx context.Context, caller *Identity) (string, error) {
	user, err := a.RequireUser(ctx, caller)
	if err != nil {
		return "", err
	}
	if a.objects == nil {
		return "", errUpstream("Avatar storage is not configured", nil)
	}
	if user.AvatarKey == "" {
		return "", errNotFound("No avatar uploaded")
	}
	url, err := a.objects.PresignGet(ctx, user.AvatarKey, avatarURLExpiry)
	if err != nil {
		return "", errUpstream("Avatar storage unavailable", err)
	}
	return url, nil
}
