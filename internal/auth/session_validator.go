package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionIssuer is the issuer expected when none is configured.
const DefaultSessionIssuer = "arkhamcards"

const (
	authorizationHeader = "Authorization"
	bearerScheme        = "bearer"
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

// SessionClaims is the JWT payload of a player session.
type SessionClaims struct {
	PlayerID    string   `json:"player_id"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c SessionClaims) identified() bool {
	return strings.TrimSpace(c.Subject) != "" || strings.TrimSpace(c.PlayerID) != ""
}

// SessionValidatorConfig describes how to validate session JWTs. Leeway absorbs
// clock skew between the issuing frontend and the API.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Leeway        time.Duration
	Clock         func() time.Time
}

// SessionValidator validates HS256 session JWTs carried in a bearer header or a cookie.
type SessionValidator struct {
	secret     []byte
	cookieName string
	parser     *jwt.Parser
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultSessionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	return &SessionValidator{
		secret:     append([]byte(nil), cfg.SigningSecret...),
		cookieName: cookieName,
		parser:     jwt.NewParser(options...),
	}, nil
}

func (v *SessionValidator) signingKey(*jwt.Token) (interface{}, error) {
	return v.secret, nil
}

// ValidateToken parses a session token and returns its claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	raw := strings.TrimSpace(tokenString)
	if raw == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	var claims SessionClaims
	token, err := v.parser.ParseWithClaims(raw, &claims, v.signingKey)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return SessionClaims{}, ErrExpiredSessionToken
	case err != nil:
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	case token == nil || !token.Valid:
		return SessionClaims{}, ErrInvalidSessionToken
	case !claims.identified():
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return claims, nil
}

// ValidateRequest prefers the Authorization header and falls back to the session cookie.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	token, err := v.tokenFromRequest(r)
	if err != nil {
		return SessionClaims{}, err
	}
	return v.ValidateToken(token)
}

func (v *SessionValidator) tokenFromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingSessionToken
	}
	if header := strings.TrimSpace(r.Header.Get(authorizationHeader)); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, bearerScheme) {
			return "", fmt.Errorf("%w: unsupported authorization scheme", ErrInvalidSessionToken)
		}
		return token, nil
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil {
		return "", ErrMissingSessionToken
	}
	return cookie.Value, nil
}
