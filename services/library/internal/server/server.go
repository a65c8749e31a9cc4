package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"zettler/internal/ratelimit"
	"zettler/internal/util"
	"zettler/services/library/internal/app"
	"zettler/services/library/internal/security"
)

const (
	maxJSONBody    = 1 << 20
	maxWebhookBody = 64 << 10
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Redis                      redis.UniversalClient
	SessionCookieName          string
	SessionCookieSecure        bool
	TrustedProxies             *util.TrustedProxies
	AllowedOrigins             []string
	SessionRateLimitPerMinute  int
	GenerateRateLimitPerMinute int
	CheckoutRateLimitPerMinute int
}

// Server exposes the library HTTP API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	cookieName      string
	cookieSecure    bool
	trusted         *util.TrustedProxies
	allowedOrigins  []string
	alerter         *security.AuditAlerter
	sessionLimiter  *ratelimit.FixedWindowLimiter
	generateLimiter *ratelimit.FixedWindowLimiter
	checkoutLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.Redis == nil {
		return nil, errors.New("redis client is required for rate limiting")
	}
	sessionLimit := cfg.SessionRateLimitPerMinute
	if sessionLimit <= 0 {
		sessionLimit = 10
	}
	generateLimit := cfg.GenerateRateLimitPerMinute
	if generateLimit <= 0 {
		generateLimit = 5
	}
	checkoutLimit := cfg.CheckoutRateLimitPerMinute
	if checkoutLimit <= 0 {
		checkoutLimit = 5
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "zettler:library:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	sessionLimiter, err := newLimiter("session", sessionLimit)
	if err != nil {
		return nil, err
	}
	generateLimiter, err := newLimiter("generate", generateLimit)
	if err != nil {
		return nil, err
	}
	checkoutLimiter, err := newLimiter("checkout", checkoutLimit)
	if err != nil {
		return nil, err
	}
	alerter, err := security.NewAuditAlerter(cfg.Redis, "zettler:library:alerts")
	if err != nil {
		return nil, err
	}
	cookieName := strings.TrimSpace(cfg.SessionCookieName)
	if cookieName == "" {
		cookieName = "__session"
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		cookieName:      cookieName,
		cookieSecure:    cfg.SessionCookieSecure,
		trusted:         cfg.TrustedProxies,
		allowedOrigins:  cfg.AllowedOrigins,
		alerter:         alerter,
		sessionLimiter:  sessionLimiter,
		generateLimiter: generateLimiter,
		checkoutLimiter: checkoutLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("library",
		util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.withSession(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/session", s.handleSession)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("/api/auth/me", s.handleMe)

	// library (public)
	s.mux.HandleFunc("/api/library", s.handleLibrary)
	s.mux.HandleFunc("/api/library/shelves", s.handleLibraryShelves)
	s.mux.HandleFunc("/api/library/shelves-list", s.handleShelvesList)
	s.mux.HandleFunc("/api/library/element/", s.handleElement)

	// profile
	s.mux.Handle("/api/profile/create-story", s.authenticated(s.handleCreateStory))
	s.mux.Handle("/api/profile/stories", s.authenticated(s.handleMyStories))
	s.mux.Handle("/api/profile/story/", s.authenticated(s.handleStory))
	s.mux.Handle("/api/profile/element/add-entry", s.authenticated(s.handleAddEntry))
	s.mux.Handle("/api/profile/update", s.authenticated(s.handleUpdateProfile))
	s.mux.Handle("/api/profile/avatar", s.authenticated(s.handleAvatar))
	s.mux.Handle("/api/profile/notifications", s.authenticated(s.handleNotifications))
	s.mux.Handle("/api/profile/notifications/", s.authenticated(s.handleNotificationRead))

	// admin
	s.mux.Handle("/api/admin/create-shelf", s.authenticated(s.handleCreateShelf))
	s.mux.Handle("/api/admin/generate-card", s.authenticated(s.handleGenerateCard))
	s.mux.Handle("/api/admin/migrate-data", s.authenticated(s.handleMigrateData))
	s.mux.Handle("/api/admin/update-role", s.authenticated(s.handleUpdateRole))
	s.mux.Handle("/api/admin/stories", s.authenticated(s.handleAdminStories))
	s.mux.Handle("/api/admin/spawn-ai", s.authenticated(s.handleSpawnAI))
	s.mux.Handle("/api/admin/update-ai", s.authenticated(s.handleUpdateAI))
	s.mux.Handle("/api/admin/get-ai-profile", s.authenticated(s.handleGetAIProfile))
	s.mux.Handle("/api/admin/ai-stats", s.authenticated(s.handleAIStats))
	s.mux.Handle("/api/admin/refresh-ai-stats", s.authenticated(s.handleRefreshAIStats))
	s.mux.Handle("/api/ai/generate", s.authenticated(s.handleGenerate))

	// billing
	s.mux.Handle("/api/stripe/create-checkout-session", s.authenticated(s.handleCheckout))
	s.mux.HandleFunc("/api/stripe/webhook", s.handleWebhook)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identityContextKey struct{}

// withSession reads the session cookie on every request. A cookie that
// does not verify leaves the request anonymous.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.cookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := s.app.Authenticate(r.Context(), cookie.Value)
		if err != nil {
			s.audit(r, "library.session.verify", "fail", "reason", "invalid_session")
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey{}, &id)
		logger := util.LoggerFromContext(ctx).With("user_id", id.UID)
		next.ServeHTTP(w, r.WithContext(util.ContextWithLogger(ctx, logger)))
	})
}

func identityFrom(r *http.Request) *app.Identity {
	id, _ := r.Context().Value(identityContextKey{}).(*app.Identity)
	return id
}

type authHandler func(http.ResponseWriter, *http.Request, *app.Identity)

// authenticated rejects guests before the handler reads anything. Role
// checks happen in the app against the stored user record.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r)
		if id == nil {
			s.audit(r, "library.authorize", "fail", "reason", "missing_session")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r, id)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure || util.IsHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.cookieSecure || util.IsHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(kind app.Kind) int {
	switch kind {
	case app.KindUnauthenticated:
		return http.StatusUnauthorized
	case app.KindForbidden:
		return http.StatusForbidden
	case app.KindValidation:
		return http.StatusBadRequest
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindConflict:
		return http.StatusConflict
	case app.KindRateLimited:
		return http.StatusTooManyRequests
	case app.KindUpstream:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeAppError maps an app error to a response. Causes are logged, never
// returned to the client.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := app.KindOf(err)
	status := statusFor(kind)
	logger := util.LoggerFromContext(r.Context())
	switch kind {
	case app.KindInternal:
		logger.Error("request failed", "path", r.URL.Path, "err", err)
	case app.KindUpstream:
		logger.Warn("upstream failure", "path", r.URL.Path, "err", err)
	case app.KindForbidden:
		s.audit(r, "library.authorize", "fail", "reason", "forbidden")
	}
	writeError(w, status, app.MessageOf(err))
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		slog.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		slog.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

// allowRate enforces limiter for key and writes the 429 itself. A limiter
// that cannot reach Redis refuses the request.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, key, msg string) bool {
	decision, err := limiter.Allow(r.Context(), r.URL.Path+"|"+key)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return false
	}
	if decision.Allowed {
		return true
	}
	s.audit(r, r.URL.Path, "rate_limited")
	retry := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
