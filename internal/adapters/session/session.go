// Package session mints and verifies the signed player session tokens that
// bind a request to a (user, org) pair.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/okian/bitgalaxy/internal/domain/model"
)

// CookieName is the cookie carrying the session token.
const CookieName = "bitgalaxy_session"

const audience = "bitgalaxy-player"

// Sentinel errors.
var (
	ErrMissingSecret = errors.New("session secret is required")
	ErrInvalidToken  = errors.New("invalid session token")
)

// claims is the JWT payload. The subject is the user id.
type claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org"`
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithIssuer sets the iss claim.
func WithIssuer(iss string) Option {
	return func(i *Issuer) {
		if iss != "" {
			i.issuer = iss
		}
	}
}

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer returns an issuer keyed by secret.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	i := &Issuer{
		secret: []byte(secret),
		issuer: "bitgalaxy",
		ttl:    30 * 24 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Mint returns a signed token for s.
func (i *Issuer) Mint(s model.Session) (string, error) {
	if strings.TrimSpace(s.UserID) == "" || strings.TrimSpace(s.OrgID) == "" {
		return "", fmt.Errorf("mint session: user and org are required")
	}
	now := i.now().UTC()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   s.UserID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		OrgID: s.OrgID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

// Verify checks the signature, issuer, audience and expiry of token and
// returns the session it carries.
func (i *Issuer) Verify(token string) (*model.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" || c.OrgID == "" {
		return nil, fmt.Errorf("%w: missing subject or org", ErrInvalidToken)
	}
	return &model.Session{UserID: c.Subject, OrgID: c.OrgID}, nil
}
