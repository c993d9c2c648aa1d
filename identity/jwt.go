package identity

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/model"
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = 24 * time.Hour

// Claims is the JWT payload: sub = identity id, jti = token id used for revocation.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Token is an issued bearer credential.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// JWTGate issues and validates HS256 tokens. Logout revokes a token id until it expires.
//
// Thread safety: Safe for concurrent use.
type JWTGate struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> expiry
}

// GateOption configures a JWTGate.
type GateOption func(*JWTGate) error

// NewJWTGate creates a JWTGate.
//
// Required options:
//   - WithSecret: HMAC signing secret
func NewJWTGate(opts ...GateOption) (*JWTGate, error) {
	g := &JWTGate{
		issuer:  "chatrelay",
		ttl:     DefaultTokenTTL,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeConfiguration, "failed to apply gate option", err)
		}
	}

	if len(g.secret) == 0 {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration, "secret is required (use WithSecret)")
	}

	return g, nil
}

// WithSecret sets the signing secret.
func WithSecret(secret string) GateOption {
	return func(g *JWTGate) error {
		if secret == "" {
			return fmt.Errorf("secret cannot be empty")
		}
		g.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the "iss" claim. Default: "chatrelay".
func WithIssuer(issuer string) GateOption {
	return func(g *JWTGate) error {
		if issuer == "" {
			return fmt.Errorf("issuer cannot be empty")
		}
		g.issuer = issuer
		return nil
	}
}

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) GateOption {
	return func(g *JWTGate) error {
		if ttl <= 0 {
			return fmt.Errorf("token ttl must be > 0, got %v", ttl)
		}
		g.ttl = ttl
		return nil
	}
}

// WithGateClock replaces time.Now.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *JWTGate) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		g.now = now
		return nil
	}
}

// Issue signs a token for id.
func (g *JWTGate) Issue(id model.Identity) (Token, error) {
	if id.IsZero() {
		return Token{}, chatrelay.NewError(chatrelay.ErrCodeValidation, "identity is required")
	}

	issuedAt := g.now()
	expiresAt := issuedAt.Add(g.ttl)

	claims := &Claims{
		Name: id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject(),
			Issuer:    g.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Authenticate implements Gate.
func (g *JWTGate) Authenticate(_ context.Context, token string) (model.Identity, error) {
	claims, err := g.parse(token)
	if err != nil {
		return model.Identity{}, err
	}

	g.mu.Lock()
	_, revoked := g.revoked[claims.ID]
	g.mu.Unlock()
	if revoked {
		return model.Identity{}, chatrelay.NewError(chatrelay.ErrCodeUnauthorized, "token revoked")
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return model.Identity{}, chatrelay.NewError(chatrelay.ErrCodeUnauthorized, "invalid subject")
	}
	return model.Identity{ID: id, Name: claims.Name}, nil
}

// Revoke invalidates token until its natural expiry.
func (g *JWTGate) Revoke(_ context.Context, token string) error {
	claims, err := g.parse(token)
	if err != nil {
		return err
	}

	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for jti, exp := range g.revoked {
		if !now.Before(exp) {
			delete(g.revoked, jti)
		}
	}
	g.revoked[claims.ID] = claims.ExpiresAt.Time
	return nil
}

func (g *JWTGate) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, chatrelay.NewError(chatrelay.ErrCodeUnauthorized, "missing token")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeUnauthorized, "invalid token", err)
	}
	if claims.ID == "" {
		return nil, chatrelay.NewError(chatrelay.ErrCodeUnauthorized, "token has no id")
	}
	return claims, nil
}
