package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 12 * time.Hour

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingPlayerClaim   = errors.New("player id must be provided")
)

// SessionIssuerConfig configures the session token issuer.
type SessionIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TTL           time.Duration
	Clock         func() time.Time
}

// SessionIssuer signs session tokens the SessionValidator accepts. The API does
// not log players in itself; the issuer serves local tooling and tests.
type SessionIssuer struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

// NewSessionIssuer constructs a SessionIssuer with defaults for issuer and TTL.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultSessionIssuer
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue signs a session for the player and returns the token with its expiry.
func (i *SessionIssuer) Issue(playerID, email, displayName string) (string, time.Time, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return "", time.Time{}, errMissingPlayerClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	claims := SessionClaims{
		PlayerID:    playerID,
		Email:       strings.TrimSpace(email),
		DisplayName: strings.TrimSpace(displayName),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
