package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaigns"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/cards"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/chaosbag"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/decks"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/players"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	playerIDContextKey       = "arkhamcards_player_id"
	defaultServiceName       = "arkhamcards-api"
	defaultHeartbeatInterval = 25 * time.Second
	accessTokenQueryKey      = "access_token"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingPlayers          = errors.New("player directory dependency required")
	errMissingCatalogs         = errors.New("catalog dependency required")
	errMissingDecksService     = errors.New("decks service dependency required")
	errMissingCampaignsService = errors.New("campaigns service dependency required")
	errMissingChaosBagService  = errors.New("chaos bag service dependency required")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// PlayerDirectory maps sessions to player ids and serves profiles.
type PlayerDirectory interface {
	Resolve(ctx context.Context, claims auth.SessionClaims) (string, error)
	Get(ctx context.Context, playerID string) (players.Player, error)
}

// CatalogRegistry resolves the card catalog view for a taboo set.
type CatalogRegistry interface {
	CatalogFor(tabooID int) *cards.Catalog
}

// Dependencies wires the services behind the HTTP API. Realtime defaults to
// Streams when unset; Streams defaults to a fresh dispatcher.
type Dependencies struct {
	Sessions          SessionValidator
	Players           PlayerDirectory
	Catalogs          CatalogRegistry
	DecksService      *decks.Service
	CampaignsService  *campaigns.Service
	ChaosBagService   *chaosbag.Service
	Realtime          RealtimePublisher
	Streams           *RealtimeDispatcher
	Logger            *zap.Logger
	AllowedOrigins    []string
	ServiceName       string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Players == nil:
		return nil, errMissingPlayers
	case deps.Catalogs == nil:
		return nil, errMissingCatalogs
	case deps.DecksService == nil:
		return nil, errMissingDecksService
	case deps.CampaignsService == nil:
		return nil, errMissingCampaignsService
	case deps.ChaosBagService == nil:
		return nil, errMissingChaosBagService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	streams := deps.Streams
	if streams == nil {
		streams = NewRealtimeDispatcher()
	}
	var publisher RealtimePublisher = streams
	if deps.Realtime != nil {
		publisher = deps.Realtime
	}
	serviceName := strings.TrimSpace(deps.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		players:   deps.Players,
		catalogs:  deps.Catalogs,
		decks:     deps.DecksService,
		campaigns: deps.CampaignsService,
		chaosBag:  deps.ChaosBagService,
		realtime:  publisher,
		streams:   streams,
		logger:    logger,
		heartbeat: heartbeat,
		clock:     clock,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/cards/:code", handler.handleGetCard)
	router.POST("/decks/validate", handler.handleValidateDeck)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)

	protected.POST("/decks", handler.handleCreateDeck)
	protected.GET("/decks", handler.handleListDecks)
	protected.GET("/decks/:id", handler.handleGetDeck)
	protected.PUT("/decks/:id", handler.handleUpdateDeck)
	protected.POST("/decks/:id/upgrade", handler.handleUpgradeDeck)
	protected.GET("/decks/:id/history", handler.handleDeckHistory)

	protected.POST("/campaigns", handler.handleCreateCampaign)
	protected.GET("/campaigns", handler.handleListCampaigns)
	protected.GET("/campaigns/:id", handler.handleGetCampaign)
	protected.GET("/campaigns/:id/log", handler.handleCampaignLog)
	protected.POST("/campaigns/:id/steps/:stepId", handler.handleAnswerStep)
	protected.POST("/campaigns/:id/rebuild", handler.handleRebuildCampaign)
	protected.GET("/campaigns/:id/chaos-bag", handler.handleGetChaosBag)
	protected.POST("/campaigns/:id/chaos-bag/:action", handler.handleChaosBagAction)

	protected.GET("/stream", handler.handleStream)

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	explicit := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
		explicit = append(explicit, origin)
	}
	if len(explicit) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = explicit
	cfg.AllowCredentials = true
	return cfg
}

type httpHandler struct {
	sessions  SessionValidator
	players   PlayerDirectory
	catalogs  CatalogRegistry
	decks     *decks.Service
	campaigns *campaigns.Service
	chaosBag  *chaosbag.Service
	realtime  RealtimePublisher
	streams   *RealtimeDispatcher
	logger    *zap.Logger
	heartbeat time.Duration
	clock     func() time.Time
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest accepts a bearer header, the session cookie, or an
// access_token query parameter for EventSource clients that cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		if token := strings.TrimSpace(c.Query(accessTokenQueryKey)); token != "" {
			c.Request.Header.Set("Authorization", "Bearer "+token)
		}
	}
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	playerID, err := h.players.Resolve(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("player resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(playerIDContextKey, playerID)
	c.Next()
}

func (h *httpHandler) handleMe(c *gin.Context) {
	player, err := h.players.Get(c.Request.Context(), c.GetString(playerIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, player)
}

func (h *httpHandler) publish(message RealtimeMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = h.clock().UTC()
	}
	h.realtime.Publish(message)
}
