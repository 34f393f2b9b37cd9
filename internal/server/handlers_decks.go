package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/decks"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleGetCard(c *gin.Context) {
	tabooID := 0
	if raw := strings.TrimSpace(c.Query("taboo_id")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid_taboo_id")
			return
		}
		tabooID = parsed
	}
	card, ok := h.catalogs.CatalogFor(tabooID).Lookup(c.Param("code"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "card_not_found"})
		return
	}
	c.JSON(http.StatusOK, card)
}

type validateDeckPayload struct {
	InvestigatorCode     string      `json:"investigator_code"`
	Slots                decks.Slots `json:"slots"`
	IgnoreDeckLimitSlots decks.Slots `json:"ignore_deck_limit_slots"`
	TabooID              int         `json:"taboo_id"`
}

func (h *httpHandler) handleValidateDeck(c *gin.Context) {
	var request validateDeckPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.InvestigatorCode) == "" {
		badRequest(c, "invalid_request")
		return
	}
	result := h.decks.Validate(decks.Deck{
		InvestigatorCode:     request.InvestigatorCode,
		Slots:                request.Slots,
		IgnoreDeckLimitSlots: request.IgnoreDeckLimitSlots,
		TabooID:              request.TabooID,
	})
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleCreateDeck(c *gin.Context) {
	var request decks.CreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	playerID := c.GetString(playerIDContextKey)
	saved, err := h.decks.Create(c.Request.Context(), playerID, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishDeckChange(playerID, saved.Deck)
	c.JSON(http.StatusCreated, saved)
}

func (h *httpHandler) handleListDecks(c *gin.Context) {
	list, err := h.decks.List(c.Request.Context(), c.GetString(playerIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decks": list})
}

func (h *httpHandler) handleGetDeck(c *gin.Context) {
	deck, err := h.decks.Get(c.Request.Context(), c.GetString(playerIDContextKey), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}

type updateDeckPayload struct {
	ExpectedVersion      string            `json:"expected_version"`
	Name                 string            `json:"name"`
	Slots                decks.Slots       `json:"slots"`
	IgnoreDeckLimitSlots decks.Slots       `json:"ignore_deck_limit_slots"`
	SpentXP              int               `json:"spent_xp"`
	XPAdjustment         int               `json:"xp_adjustment"`
	TabooID              int               `json:"taboo_id"`
	Meta                 map[string]string `json:"meta"`
	Description          string            `json:"description"`
}

func (h *httpHandler) handleUpdateDeck(c *gin.Context) {
	var request updateDeckPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ExpectedVersion) == "" {
		badRequest(c, "invalid_request")
		return
	}
	expected, err := decks.ParseVersion(request.ExpectedVersion)
	if err != nil {
		badRequest(c, "invalid_version")
		return
	}

	playerID := c.GetString(playerIDContextKey)
	saved, err := h.decks.Update(c.Request.Context(), playerID, c.Param("id"), expected, decks.DeckEdit{
		Name:                 request.Name,
		Slots:                request.Slots,
		IgnoreDeckLimitSlots: request.IgnoreDeckLimitSlots,
		SpentXP:              request.SpentXP,
		XPAdjustment:         request.XPAdjustment,
		TabooID:              request.TabooID,
		Meta:                 request.Meta,
		Description:          request.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishDeckChange(playerID, saved.Deck)
	c.JSON(http.StatusOK, saved)
}

func (h *httpHandler) handleUpgradeDeck(c *gin.Context) {
	var request decks.UpgradeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	playerID := c.GetString(playerIDContextKey)
	outcome, err := h.decks.Upgrade(c.Request.Context(), playerID, c.Param("id"), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeMessage{
		PlayerID:  playerID,
		EventType: RealtimeEventDeckChanged,
		DeckIDs:   []string{outcome.Deck.ID, outcome.Upgraded.ID},
		Version:   outcome.Upgraded.Version.String(),
	})
	c.JSON(http.StatusCreated, outcome)
}

func (h *httpHandler) handleDeckHistory(c *gin.Context) {
	history, err := h.decks.History(c.Request.Context(), c.GetString(playerIDContextKey), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decks": history})
}

func (h *httpHandler) publishDeckChange(playerID string, deck decks.Deck) {
	h.publish(RealtimeMessage{
		PlayerID:  playerID,
		EventType: RealtimeEventDeckChanged,
		DeckIDs:   []string{deck.ID},
		Version:   deck.Version.String(),
	})
}
