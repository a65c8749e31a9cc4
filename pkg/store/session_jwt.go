package store

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer   = "zettler-library"
	defaultSessionAudience = "zettler-web"
	defaultSessionLeeway   = 30 * time.Second
)

// ErrSessionInvalid is returned for any cookie that does not verify.
var ErrSessionInvalid = errors.New("session invalid")

// SessionClaims is the identity carried inside the session cookie.
type SessionClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTOptions configures claim validation.
type JWTOptions struct {
	KeyID    string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTSessionStore mints and verifies RS256 session cookies. Logout revokes
// the token id until the token would have expired anyway.
type JWTSessionStore struct {
	key      *rsa.PrivateKey
	kid      string
	ttl      time.Duration
	revoker  TokenRevoker
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTSessionStore builds a session store around an RSA signing key.
func NewJWTSessionStore(key *rsa.PrivateKey, ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	if key == nil {
		return nil, errors.New("session store requires a signing key")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	s := &JWTSessionStore{
		key:      key,
		kid:      strings.TrimSpace(opts.KeyID),
		ttl:      ttl,
		revoker:  revoker,
		issuer:   strings.TrimSpace(opts.Issuer),
		audience: strings.TrimSpace(opts.Audience),
		leeway:   opts.Leeway,
		now:      time.Now,
	}
	if s.kid == "" {
		s.kid = "session-active"
	}
	if s.issuer == "" {
		s.issuer = defaultSessionIssuer
	}
	if s.audience == "" {
		s.audience = defaultSessionAudience
	}
	if s.leeway <= 0 {
		s.leeway = defaultSessionLeeway
	}
	return s, nil
}

// TTL is the lifetime of minted sessions.
func (s *JWTSessionStore) TTL() time.Duration { return s.ttl }

// Mint signs a session for the given identity.
func (s *JWTSessionStore) Mint(uid, email, name string) (string, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", errors.New("session subject required")
	}
	now := s.now().UTC()
	claims := SessionClaims{
		UID:   uid,
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        tokenID(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	return token.SignedString(s.key)
}

// Verify checks signature, claims and revocation.
func (s *JWTSessionStore) Verify(ctx context.Context, token string) (SessionClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return SessionClaims{}, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return SessionClaims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return SessionClaims{}, fmt.Errorf("%w: revoked", ErrSessionInvalid)
		}
	}
	return claims, nil
}

// Revoke invalidates a session. Tokens that fail to parse are ignored since
// they can never verify.
func (s *JWTSessionStore) Revoke(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now()) + s.leeway
	return s.revoker.Revoke(ctx, claims.ID, ttl)
}

func (s *JWTSessionStore) parse(token string) (SessionClaims, error) {
	var claims SessionClaims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, fmt.Errorf("%w: empty", ErrSessionInvalid)
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != s.kid {
			return nil, errors.New("unknown session key")
		}
		return &s.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return claims, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if claims.ID == "" || claims.UID == "" || claims.UID != claims.Subject {
		return claims, fmt.Errorf("%w: incomplete claims", ErrSessionInvalid)
	}
	return claims, nil
}

// LoadRSAPrivateKey reads a PKCS#1 or PKCS#8 PEM file.
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return key, nil
}

func tokenID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
