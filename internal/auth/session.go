package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 30 * 24 * time.Hour

var (
	ErrMissingSessionSigningKey = errors.New("sessions: signing key required")
	ErrMissingSessionIssuer     = errors.New("sessions: issuer required")
	ErrMissingSessionCookieName = errors.New("sessions: cookie name required")
	ErrMissingSessionToken      = errors.New("sessions: token required")
	ErrInvalidSessionToken      = errors.New("sessions: invalid token")
	ErrExpiredSessionToken      = errors.New("sessions: token expired")
	errMissingSessionSubject    = errors.New("sessions: subject required")
)

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionConfig describes how session tokens are minted and checked.
type SessionConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	CookieName    string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// SessionManager issues and validates the HS256 JWTs that back login
// sessions. Tokens travel in a cookie for browsers and may alternatively be
// presented as a bearer header.
type SessionManager struct {
	signingSecret []byte
	issuer        string
	audience      string
	cookieName    string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewSessionManager constructs a manager with validated configuration.
func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionManager{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      strings.TrimSpace(cfg.Audience),
		cookieName:    cookieName,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie used to carry session tokens.
func (m *SessionManager) CookieName() string {
	return m.cookieName
}

// TokenTTL returns the configured session lifetime.
func (m *SessionManager) TokenTTL() time.Duration {
	return m.tokenTTL
}

// IssueToken mints a signed session token for the identity and returns it
// with its lifetime in seconds.
func (m *SessionManager) IssueToken(identity Identity) (string, int64, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return "", 0, errMissingSessionSubject
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.tokenTTL)
	claims := sessionClaims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(m.tokenTTL.Seconds()), nil
}

// ValidateToken checks the supplied token and returns the identity it names.
func (m *SessionManager) ValidateToken(tokenString string) (Identity, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Identity{}, ErrMissingSessionToken
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return m.signingSecret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithTimeFunc(m.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredSessionToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Identity{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, errMissingSessionSubject
	}
	return Identity{ID: claims.Subject, Email: claims.Email}, nil
}

// IdentityFromRequest resolves the requester identity from the session
// cookie, falling back to a bearer Authorization header. A request without
// either returns ErrMissingSessionToken.
func (m *SessionManager) IdentityFromRequest(r *http.Request) (Identity, error) {
	if r == nil {
		return Identity{}, ErrMissingSessionToken
	}
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie != nil && cookie.Value != "" {
		return m.ValidateToken(cookie.Value)
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return m.ValidateToken(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
	}
	return Identity{}, ErrMissingSessionToken
}
