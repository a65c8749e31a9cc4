package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"zettler/internal/usertoken"
	"zettler/pkg/ai"
	"zettler/pkg/billing"
	"zettler/pkg/storage"
	"zettler/pkg/store"
)

// SessionManager mints and checks the session cookie token.
type SessionManager interface {
	Mint(uid, email, name string) (string, error)
	Verify(ctx context.Context, token string) (store.SessionClaims, error)
	Revoke(ctx context.Context, token string) error
	TTL() time.Duration
}

// IDTokenVerifier checks identity-provider ID tokens.
type IDTokenVerifier interface {
	Verify(ctx context.Context, token string) (usertoken.Identity, error)
}

// Billing is the payment processor.
type Billing interface {
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error)
	VerifyWebhook(payload []byte, signature string) (billing.Event, error)
}

// Identity is the verified caller taken from the session cookie. It only
// says who the caller is; roles are always re-read from the store.
type Identity struct {
	UID   string
	Email string
	Name  string
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store     store.Store
	Sessions  SessionManager
	IDTokens  IDTokenVerifier
	Generator ai.TextGenerator
	Billing   Billing
	// Objects is optional; avatar endpoints report unavailable without it.
	Objects         storage.ObjectStore
	SuperUserEmails []string
	MaxAvatarBytes  int64
	Now             func() time.Time
}

// App is the library service core. Every client is injected.
type App struct {
	store          store.Store
	sessions       SessionManager
	idTokens       IDTokenVerifier
	generator      ai.TextGenerator
	billing        Billing
	objects        storage.ObjectStore
	superUsers     map[string]struct{}
	maxAvatarBytes int64
	now            func() time.Time
}

// New validates cfg and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if cfg.IDTokens == nil {
		return nil, errors.New("id token verifier is required")
	}
	a := &App{
		store:          cfg.Store,
		sessions:       cfg.Sessions,
		idTokens:       cfg.IDTokens,
		generator:      cfg.Generator,
		billing:        cfg.Billing,
		objects:        cfg.Objects,
		superUsers:     make(map[string]struct{}, len(cfg.SuperUserEmails)),
		maxAvatarBytes: cfg.MaxAvatarBytes,
		now:            cfg.Now,
	}
	for _, email := range cfg.SuperUserEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			a.superUsers[email] = struct{}{}
		}
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.maxAvatarBytes <= 0 {
		a.maxAvatarBytes = 2 << 20
	}
	return a, nil
}

// SessionTTL is the lifetime of session cookies.
func (a *App) SessionTTL() time.Duration { return a.sessions.TTL() }

// MaxAvatarBytes bounds avatar uploads.
func (a *App) MaxAvatarBytes() int64 { return a.maxAvatarBytes }

func (a *App) clock() time.Time { return a.now().UTC() }
