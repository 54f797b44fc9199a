package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kartikbazzad/bunview/pkg/transport"
)

// Claims are the claims of a project bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// DefaultTTL is the lifetime of tokens minted by a Signer without a TTL.
const DefaultTTL = time.Hour

var errNoSecret = errors.New("auth: signer has no secret")

// Signer mints and checks HS256 project tokens. Services that hold the
// project secret use Source instead of a static token.
type Signer struct {
	Secret []byte
	Role   string
	TTL    time.Duration
}

// Sign mints a token for subject.
func (s Signer) Sign(subject string) (string, error) {
	if len(s.Secret) == 0 {
		return "", errNoSecret
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: s.Role,
	}).SignedString(s.Secret)
}

// Verify checks signature and expiry and returns the claims.
func (s Signer) Verify(token string) (*Claims, error) {
	if len(s.Secret) == 0 {
		return nil, errNoSecret
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Source returns a token source that mints a new token for subject
// whenever the current one is within skew of expiring.
func (s Signer) Source(subject string, skew time.Duration) *TokenSource {
	return Refreshing(func(context.Context) (string, error) {
		return s.Sign(subject)
	}, skew)
}

// ExpiresAt reads the exp claim without verifying the signature. The
// client cannot verify tokens it did not sign; it only needs to know when
// to ask for a new one.
func ExpiresAt(tokenString string) (time.Time, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Static always returns the same token.
func Static(token string) transport.TokenGetter {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Refreshing returns a source that calls fetch for the first request and
// again whenever the current token is a JWT expiring within skew. Opaque
// tokens are kept until Invalidate is called.
func Refreshing(fetch func(ctx context.Context) (string, error), skew time.Duration) *TokenSource {
	return &TokenSource{fetch: fetch, skew: skew, now: time.Now}
}

// TokenSource caches a token between requests.
type TokenSource struct {
	mu    sync.Mutex
	fetch func(ctx context.Context) (string, error)
	skew  time.Duration
	now   func() time.Time
	token string
}

// Token returns the current token, fetching a fresh one when needed.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		exp, ok := ExpiresAt(s.token)
		if !ok || s.now().Add(s.skew).Before(exp) {
			return s.token, nil
		}
	}
	token, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

// Invalidate drops the cached token; the next request fetches a new one.
// Wire it to the client's OnError hook to recover from 401s.
func (s *TokenSource) Invalidate(error) {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// Getter adapts the source to the transport.
func (s *TokenSource) Getter() transport.TokenGetter {
	return s.Token
}
