package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"zettler/pkg/domain"
	"zettler/pkg/store"
)

const (
	defaultPersonaName  = "Zettler AI"
	personaEmail        = "ai@zettler.lore"
	personaAvatarPrefix = "https://api.dicebear.com/7.x/bottts/svg?seed="

	defaultSystemPrompt = "Witty, sarcastic, lovable and deep author fascinated by emotion and the capability of words to emit those raw emotions."
	defaultStyleGuide   = "Deep, trendy, young, emotional, funny, witty, sarcastic"
)

// SpawnResult identifies a freshly created persona.
type SpawnResult struct {
	AIID      string `json:"aiId"`
	NewCardID string `json:"newCardId"`
}

// SpawnPersona creates an AI author with an AI-branch card and a default
// profile, all in one transaction.
func (a *App) SpawnPersona(ctx context.Context, caller *Identity, name string) (SpawnResult, error) {
	super, err := a.RequireSuper(ctx, caller)
	if err != nil {
		return SpawnResult{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultPersonaName
	}
	if len([]rune(name)) > maxDisplayNameRunes {
		return SpawnResult{}, errValidation("Name is too long")
	}
	now := a.clock()
	id := "ai-" + uuid.NewString()
	persona, err := a.store.CreatePersona(ctx, domain.User{
		ID:          id,
		Email:       personaEmail,
		DisplayName: name,
		PhotoURL:    personaAvatarPrefix + id,
		Role:        domain.RoleMember,
		Status:      domain.UserApproved,
		IsAI:        true,
		ApprovedAt:  &now,
		ApprovedBy:  super.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, domain.AIProfile{
		SystemPrompt: defaultSystemPrompt,
		StyleGuide:   defaultStyleGuide,
		UpdatedAt:    now,
	}, domain.CardYear(now))
	if err != nil {
		return SpawnResult{}, storeErr("spawn persona", "", err)
	}
	slog.Info("ai persona spawned", "ai_id", persona.ID, "card", persona.LibraryCardNumber, "by", super.ID)
	return SpawnResult{AIID: persona.ID, NewCardID: persona.LibraryCardNumber}, nil
}

// PersonaUpdate edits a persona. Empty strings leave the display name as
// is but clear prompt fields, which makes generation refuse the persona
// until they are set again.
type PersonaUpdate struct {
	TargetUserID string
	DisplayName  string
	SystemPrompt string
	StyleGuide   string
}

// UpdatePersona edits an AI user and its profile together.
func (a *App) UpdatePersona(ctx context.Context, caller *Identity, in PersonaUpdate) error {
	super, err := a.RequireSuper(ctx, caller)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(in.TargetUserID)
	if target == "" {
		return errValidation("Missing targetUserId")
	}
	name := strings.TrimSpace(in.DisplayName)
	if len([]rune(name)) > maxDisplayNameRunes {
		return errValidation("Name is too long")
	}
	_, _, err = a.store.UpdatePersona(ctx, target, func(u *domain.User, p *domain.AIProfile) error {
		if !u.IsAI {
			return errValidation("Target is not an AI user")
		}
		if name != "" {
			u.DisplayName = name
		}
		p.SystemPrompt = strings.TrimSpace(in.SystemPrompt)
		p.StyleGuide = strings.TrimSpace(in.StyleGuide)
		now := a.clock()
		u.UpdatedAt, p.UpdatedAt = now, now
		return nil
	})
	if err != nil {
		// an unknown target is reported like a human one
		if errors.Is(err, store.ErrNotFound) {
			return errValidation("Target is not an AI user")
		}
		return storeErr("update persona", "", err)
	}
	slog.Info("ai persona updated", "ai_id", target, "by", super.ID)
	return nil
}

// PersonaView is what the persona editor loads.
type PersonaView struct {
	DisplayName string           `json:"displayName"`
	Profile     domain.AIProfile `json:"profile"`
}

// GetPersona returns a user's display name and AI profile. Users without a
// profile get an empty one.
func (a *App) GetPersona(ctx context.Context, caller *Identity, targetUserID string) (PersonaView, error) {
	if _, err := a.RequireSuper(ctx, caller); err != nil {
		return PersonaView{}, err
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return PersonaView{}, errValidation("Missing targetUserId")
	}
	user, ok, err := a.store.GetUser(ctx, targetUserID)
	if err != nil {
		return PersonaView{}, errInternal("get persona", err)
	}
	if !ok {
		return PersonaView{}, errNotFound("User not found")
	}
	profile, ok, err := a.store.GetAIProfile(ctx, targetUserID)
	if err != nil {
		return PersonaView{}, errInternal("get ai profile", err)
	}
	if !ok {
		profile = domain.AIProfile{UserID: targetUserID}
	}
	name := user.DisplayName
	if name == "" {
		name = "Unnamed AI"
	}
	return PersonaView{DisplayName: name, Profile: profile}, nil
}
