package server

import (
	"net/http"
	"strings"

	"zettler/services/library/internal/app"
)

type createShelfRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	IsPublic    *bool  `json:"isPublic"`
}

func (s *Server) handleCreateShelf(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createShelfRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	shelf, err := s.app.CreateShelf(r.Context(), id, app.CreateShelfInput(req))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.shelf.create", "success", "slug", shelf.Slug)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "slug": shelf.Slug})
}

type generateCardRequest struct {
	TargetUserID string `json:"targetUserId"`
	Branch       string `json:"branch"`
}

func (s *Server) handleGenerateCard(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateCardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	card, err := s.app.IssueCard(r.Context(), id, req.TargetUserID, req.Branch)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.card.issue", "success", "target_user_id", req.TargetUserID, "card", card)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cardId": card})
}

func (s *Server) handleMigrateData(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	result, err := s.app.MigrateCards(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.card.migrate", "success", "updated", result.Updated)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"updated": result.Updated,
		"details": result.Details,
	})
}

type updateRoleRequest struct {
	TargetUserID string `json:"targetUserId"`
	NewRole      string `json:"newRole"`
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req updateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.UpdateRole(r.Context(), id, req.TargetUserID, req.NewRole); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.role.update", "success", "target_user_id", req.TargetUserID, "role", strings.ToLower(req.NewRole))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAdminStories(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stories, err := s.app.AdminStories(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": stories, "count": len(stories)})
}

type spawnAIRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSpawnAI(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req spawnAIRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.SpawnPersona(r.Context(), id, req.Name)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.ai.spawn", "success", "ai_id", res.AIID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "aiId": res.AIID, "newCardId": res.NewCardID})
}

type updateAIRequest struct {
	TargetUserID string `json:"targetUserId"`
	DisplayName  string `json:"displayName"`
	SystemPrompt string `json:"systemPrompt"`
	StyleGuide   string `json:"styleGuide"`
}

func (s *Server) handleUpdateAI(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req updateAIRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.UpdatePersona(r.Context(), id, app.PersonaUpdate(req)); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetAIProfile(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	view, err := s.app.GetPersona(r.Context(), id, r.URL.Query().Get("targetUserId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"displayName": view.DisplayName,
		"profile":     view.Profile,
	})
}

type generateRequest struct {
	AIUserID    string `json:"aiUserId"`
	Prompt      string `json:"prompt"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	IsAnonymous bool   `json:"isAnonymous"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.generateLimiter, id.UID, "too many generation requests") {
		return
	}
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.Generate(r.Context(), id, app.GenerateInput(req))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"slug":    res.Slug,
		"title":   res.Title,
		"usage":   res.Usage,
	})
}

func (s *Server) handleAIStats(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.AIUsage(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRefreshAIStats(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	msg, err := s.app.RefreshUsage(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := map[string]any{"success": true}
	if msg != "" {
		resp["message"] = msg
	}
	writeJSON(w, http.StatusOK, resp)
}
