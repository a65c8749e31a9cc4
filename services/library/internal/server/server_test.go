package server

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"zettler/internal/usertoken"
	"zettler/pkg/billing"
	"zettler/pkg/domain"
	"zettler/pkg/storage"
	"zettler/pkg/store"
	"zettler/services/library/internal/app"
)

const webhookSecret = "whsec_server_test"

type fakeIDTokens map[string]usertoken.Identity

func (f fakeIDTokens) Verify(_ context.Context, token string) (usertoken.Identity, error) {
	id, ok := f[token]
	if !ok {
		return usertoken.Identity{}, usertoken.ErrInvalidToken
	}
	return id, nil
}

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
}

func newTestServer(t *testing.T, sessionLimit int) *testServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions, err := store.NewJWTSessionStore(key, 5*24*time.Hour, store.NewRedisTokenRevoker(client, "test:revoked"), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	mem := store.NewMemoryStore()
	core, err := app.New(app.Config{
		Store:    mem,
		Sessions: sessions,
		IDTokens: fakeIDTokens{
			"good-member": {UID: "m1", Email: "m1@example.com", Name: "Mina"},
			"good-other":  {UID: "m2", Email: "m2@example.com", Name: "Olaf"},
		},
		Billing: billing.NewStripeClient(billing.Config{WebhookSecret: webhookSecret}),
		Objects: storage.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{
		App:                       core,
		Redis:                     client,
		SessionRateLimitPerMinute: sessionLimit,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testServer{handler: srv.Router(), store: mem}
}

func (ts *testServer) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// signIn runs the session exchange and returns the issued cookie.
func (ts *testServer) signIn(t *testing.T, idToken string) *http.Cookie {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/session", fmt.Sprintf(`{"idToken":%q}`, idToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("session exchange: %d %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "__session" {
			return c
		}
	}
	t.Fatalf("session cookie not set")
	return nil
}

func (ts *testServer) setRole(t *testing.T, uid string, role domain.Role) {
	t.Helper()
	if _, err := ts.store.UpdateUser(context.Background(), uid, func(u *domain.User) error {
		u.Role = role
		return nil
	}); err != nil {
		t.Fatalf("set role: %v", err)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestServerRequiresRedis(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sessions, err := store.NewJWTSessionStore(key, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	core, err := app.New(app.Config{Store: store.NewMemoryStore(), Sessions: sessions, IDTokens: fakeIDTokens{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := New(Config{App: core}); err == nil {
		t.Fatalf("expected rate limiter initialization to fail without redis")
	}
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected server without app to fail")
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "ok" {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodGet, "/api/auth/me", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"user":null}` {
		t.Fatalf("guest me = %d %s", rec.Code, rec.Body.String())
	}

	cookie := ts.signIn(t, "good-member")
	if !cookie.HttpOnly || cookie.MaxAge != 432000 || cookie.Path != "/" || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes %+v", cookie)
	}

	rec = ts.do(t, http.MethodGet, "/api/auth/me", "", cookie)
	user, _ := decodeBody(t, rec)["user"].(map[string]any)
	if user["uid"] != "m1" || user["role"] != "member" || user["status"] != "pending" || user["displayName"] != "Mina" {
		t.Fatalf("me = %s", rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/auth/logout", "", cookie)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["success"] != true {
		t.Fatalf("logout = %d %s", rec.Code, rec.Body.String())
	}
	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("cookie not cleared: %+v", cleared)
	}

	// the revoked token no longer identifies anyone
	rec = ts.do(t, http.MethodGet, "/api/auth/me", "", cookie)
	if strings.TrimSpace(rec.Body.String()) != `{"user":null}` {
		t.Fatalf("me after logout = %s", rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/auth/logout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("guest logout = %d", rec.Code)
	}
}

func TestSessionRejectsBadTokens(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodPost, "/api/auth/session", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing token = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/api/auth/session", `{"idToken":"forged"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token = %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("cookie set on failed exchange")
	}
	rec = ts.do(t, http.MethodGet, "/api/auth/session", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET session = %d", rec.Code)
	}
}

func TestSessionRateLimit(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.signIn(t, "good-member")
	rec := ts.do(t, http.MethodPost, "/api/auth/session", `{"idToken":"good-member"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second exchange = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After missing")
	}
}

func TestProtectedEndpointsRejectGuests(t *testing.T) {
	ts := newTestServer(t, 0)
	cases := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/admin/create-shelf", `{"title":"Myths"}`},
		{http.MethodPost, "/api/admin/generate-card", `{"targetUserId":"m1","branch":"COMM"}`},
		{http.MethodPost, "/api/admin/spawn-ai", `{"name":"Bard"}`},
		{http.MethodPost, "/api/admin/update-role", `{"targetUserId":"m1","newRole":"super"}`},
		{http.MethodPost, "/api/ai/generate", `{"aiUserId":"ai-1"}`},
		{http.MethodPost, "/api/profile/create-story", `{"title":"x"}`},
		{http.MethodPut, "/api/profile/story/x-abcd", `{"status":"approved"}`},
		{http.MethodPost, "/api/stripe/create-checkout-session", ``},
		{http.MethodGet, "/api/profile/notifications", ``},
	}
	for _, tc := range cases {
		rec := ts.do(t, tc.method, tc.path, tc.body)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
	shelves, _ := ts.store.ListShelves(context.Background(), false)
	if len(shelves) != 0 {
		t.Fatalf("guest request created shelves: %+v", shelves)
	}
}

func TestForgedCookieIsGuest(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodPost, "/api/admin/create-shelf", `{"title":"Myths"}`,
		&http.Cookie{Name: "__session", Value: "not-a-jwt"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged cookie = %d", rec.Code)
	}
}

func TestAdminRoutesUseStoredRole(t *testing.T) {
	ts := newTestServer(t, 0)
	cookie := ts.signIn(t, "good-member")

	rec := ts.do(t, http.MethodPost, "/api/admin/create-shelf", `{"title":"Myths"}`, cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member create shelf = %d", rec.Code)
	}

	ts.setRole(t, "m1", domain.RoleAdmin)
	rec = ts.do(t, http.MethodPost, "/api/admin/create-shelf", `{"title":"Old Myths","description":"d"}`, cookie)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["slug"] != "old-myths" {
		t.Fatalf("admin create shelf = %d %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/admin/create-shelf", `{"title":"Old Myths"}`, cookie)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate shelf = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/admin/generate-card", `{"targetUserId":"m1","branch":"comm"}`, cookie)
	body := decodeBody(t, rec)
	if rec.Code != http.StatusOK || body["cardId"] != fmt.Sprintf("ZL-%02d-COMM-0001", time.Now().UTC().Year()%100) {
		t.Fatalf("generate card = %d %s", rec.Code, rec.Body.String())
	}

	// supers only
	rec = ts.do(t, http.MethodPost, "/api/admin/spawn-ai", `{"name":"Bard"}`, cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("admin spawn = %d", rec.Code)
	}
	ts.setRole(t, "m1", domain.RoleMember)
	rec = ts.do(t, http.MethodPost, "/api/admin/create-shelf", `{"title":"Later"}`, cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("demoted admin still allowed: %d", rec.Code)
	}
}

func TestStoryEditPermissions(t *testing.T) {
	ts := newTestServer(t, 0)
	owner := ts.signIn(t, "good-member")
	other := ts.signIn(t, "good-other")

	rec := ts.do(t, http.MethodPost, "/api/profile/create-story", `{"title":"Salt Road","content":"c","tags":["Sea","sea"]}`, owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("create story = %d %s", rec.Code, rec.Body.String())
	}
	slug, _ := decodeBody(t, rec)["slug"].(string)
	if !strings.HasPrefix(slug, "salt-road-") {
		t.Fatalf("slug = %q", slug)
	}

	rec = ts.do(t, http.MethodPut, "/api/profile/story/"+slug, `{"title":"Hijacked","status":"published"}`, other)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger update = %d", rec.Code)
	}
	story, _, _ := ts.store.GetStory(context.Background(), slug)
	if story.Title != "Salt Road" || story.Status != domain.StoryDraft {
		t.Fatalf("story changed by stranger: %+v", story)
	}

	rec = ts.do(t, http.MethodPut, "/api/profile/story/"+slug, `{"status":"bogus"}`, other)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger with bad status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPut, "/api/profile/story/"+slug, `{"status":"bogus"}`, owner)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPut, "/api/profile/story/"+slug, `{"title":"Salt Road Two","status":"pending"}`, owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner update = %d %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/library/element/"+slug, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("guest view of pending story = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/library/element/"+slug, "", owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner view = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/library/element/missing-slug", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing element = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/profile/stories", "", owner)
	stories, _ := decodeBody(t, rec)["stories"].([]any)
	if len(stories) != 1 {
		t.Fatalf("own stories = %s", rec.Body.String())
	}
}

func TestLibraryListsPublicShelves(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodGet, "/api/library/shelves", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("shelves = %d", rec.Code)
	}
	if _, ok := decodeBody(t, rec)["shelves"]; !ok {
		t.Fatalf("shelves key missing: %s", rec.Body.String())
	}
	rec = ts.do(t, http.MethodGet, "/api/library", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty library = %d %s", rec.Code, rec.Body.String())
	}
}

func TestNotificationsAfterCardIssue(t *testing.T) {
	ts := newTestServer(t, 0)
	member := ts.signIn(t, "good-member")
	admin := ts.signIn(t, "good-other")
	ts.setRole(t, "m2", domain.RoleAdmin)

	rec := ts.do(t, http.MethodPost, "/api/admin/generate-card", `{"targetUserId":"m1","branch":"HIST"}`, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate card = %d %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodGet, "/api/profile/notifications", "", member)
	notes, _ := decodeBody(t, rec)["notifications"].([]any)
	if len(notes) != 1 {
		t.Fatalf("notifications = %s", rec.Body.String())
	}
	id, _ := notes[0].(map[string]any)["id"].(string)
	rec = ts.do(t, http.MethodPost, "/api/profile/notifications/"+id+"/read", "", member)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read = %d %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/profile/notifications/"+id+"/read", "", admin)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign notification = %d", rec.Code)
	}
}

func signWebhook(payload string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookVerifiesSignature(t *testing.T) {
	ts := newTestServer(t, 0)
	payload := `{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice"}}}`

	rec := ts.do(t, http.MethodPost, "/api/stripe/webhook", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsigned webhook = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhook(`{"tampered":true}`, time.Now()))
	bad := httptest.NewRecorder()
	ts.handler.ServeHTTP(bad, req)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad signature = %d", bad.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signWebhook(payload, time.Now()))
	good := httptest.NewRecorder()
	ts.handler.ServeHTTP(good, req)
	if good.Code != http.StatusOK || decodeBody(t, good)["received"] != true {
		t.Fatalf("signed webhook = %d %s", good.Code, good.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(strings.Repeat("x", maxWebhookBody+1)))
	req.Header.Set("Stripe-Signature", signWebhook(payload, time.Now()))
	big := httptest.NewRecorder()
	ts.handler.ServeHTTP(big, req)
	if big.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized webhook = %d", big.Code)
	}
}

func TestCheckoutWithoutStripeKeyIsUnavailable(t *testing.T) {
	ts := newTestServer(t, 0)
	cookie := ts.signIn(t, "good-member")
	rec := ts.do(t, http.MethodPost, "/api/stripe/create-checkout-session", "", cookie)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("checkout = %d %s", rec.Code, rec.Body.String())
	}
}
