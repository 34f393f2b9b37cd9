package players

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultProvider = "default"

	opServiceNew = "players.service.new"
	opResolve    = "players.resolve"
	opGet        = "players.get"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("players: invalid identity")
	// ErrPlayerNotFound indicates no stored profile for the player id.
	ErrPlayerNotFound = errors.New("players: player not found")

	errMissingDatabase = errors.New("database handle is required")
)

// ServiceConfig describes the dependencies required for player resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves session claims to player ids and keeps profiles current.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the player service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Resolve returns the player id for the session, creating the profile on first
// sight. A "provider:subject" player id is split into its parts.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", serviceerror.New(opResolve, "invalid_identity", ErrInvalidIdentity)
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if playerID, ok := cached.(string); ok {
			return playerID, nil
		}
	}

	db := s.db.WithContext(ctx)
	var player Player
	err := db.Where("provider = ? AND subject = ?", provider, subject).Take(&player).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		player = Player{
			Provider:    provider,
			Subject:     subject,
			PlayerID:    subject,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.DisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&player).Error; err != nil {
			s.logger.Error("player insert failed", zap.String("provider", provider), zap.Error(err))
			return "", serviceerror.New(opResolve, "insert_failed", err)
		}
	case err != nil:
		s.logger.Error("player lookup failed", zap.String("provider", provider), zap.Error(err))
		return "", serviceerror.New(opResolve, "select_failed", err)
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.Email); email != "" && email != player.Email {
			updates["email"] = email
		}
		if display := normalize(claims.DisplayName); display != "" && display != player.DisplayName {
			updates["display_name"] = display
		}
		if err := db.Model(&Player{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			s.logger.Warn("player profile refresh failed", zap.String("player_id", player.PlayerID), zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, player.PlayerID)
	return player.PlayerID, nil
}

// Get returns the stored profile of the player.
func (s *Service) Get(ctx context.Context, playerID string) (Player, error) {
	var player Player
	err := s.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("last_seen_at DESC").
		Take(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Player{}, serviceerror.New(opGet, "not_found", ErrPlayerNotFound)
	}
	if err != nil {
		return Player{}, serviceerror.New(opGet, "select_failed", err)
	}
	return player, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	if raw := normalize(claims.PlayerID); raw != "" {
		if prefix, rest, found := strings.Cut(raw, ":"); found && normalize(prefix) != "" && normalize(rest) != "" {
			provider = normalize(prefix)
			subject = normalize(rest)
		} else if subject == "" {
			subject = raw
		}
	}
	if subject == "" {
		subject = normalize(claims.Email)
	}
	return provider, subject
}
