package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"zettler/services/library/internal/app"
)

type createStoryRequest struct {
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Type           string   `json:"type"`
	Tags           []string `json:"tags"`
	IsPublicDomain bool     `json:"isPublicDomain"`
}

func (s *Server) handleCreateStory(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createStoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slug, err := s.app.CreateStory(r.Context(), id, app.CreateStoryInput{
		Title:          req.Title,
		Content:        req.Content,
		Type:           req.Type,
		Tags:           req.Tags,
		IsPublicDomain: req.IsPublicDomain,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "slug": slug})
}

func (s *Server) handleMyStories(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stories, err := s.app.MyStories(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": stories})
}

type updateStoryRequest struct {
	Title          *string   `json:"title"`
	Type           *string   `json:"type"`
	Content        *string   `json:"content"`
	Tags           *[]string `json:"tags"`
	Shelf          *string   `json:"shelf"`
	Status         *string   `json:"status"`
	IsPublicDomain *bool     `json:"isPublicDomain"`
	IsFeatured     *bool     `json:"isFeatured"`
}

// /api/profile/story/{slug}
func (s *Server) handleStory(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/profile/story/"), "/")
	if slug == "" || strings.Contains(slug, "/") {
		writeError(w, http.StatusNotFound, "Story not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		story, err := s.app.GetOwnStory(r.Context(), id, slug)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, story)
	case http.MethodPut:
		var req updateStoryRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if _, err := s.app.UpdateStory(r.Context(), id, slug, app.StoryUpdate(req)); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		methodNotAllowed(w)
	}
}

type addEntryRequest struct {
	StorySlug string     `json:"storySlug"`
	Title     string     `json:"title"`
	Type      string     `json:"type"`
	Content   string     `json:"content"`
	Date      *time.Time `json:"date"`
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req addEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	slug, err := s.app.AddEntry(r.Context(), id, app.AddEntryInput(req))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "slug": slug})
}

type updateProfileRequest struct {
	DisplayName string `json:"displayName"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := s.app.UpdateProfile(r.Context(), id, req.DisplayName)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	switch r.Method {
	case http.MethodGet:
		url, err := s.app.AvatarURL(r.Context(), id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	case http.MethodPut, http.MethodPost:
		s.handleUploadAvatar(w, r, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	// multipart framing on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxAvatarBytes()+(1<<20))
	file, _, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	url, err := s.app.UploadAvatar(r.Context(), id, file)
	if err != nil {
		if errors.Is(err, app.ErrAvatarTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, app.MessageOf(err))
			return
		}
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	notes, err := s.app.Notifications(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes})
}

// /api/profile/notifications/{id}/read
func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/api/profile/notifications/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "read" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.MarkNotificationRead(r.Context(), id, parts[0]); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
