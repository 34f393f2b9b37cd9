package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaignlog"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaigns"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/chaosbag"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/decks"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/players"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serviceerror"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, decks.ErrDeckNotFound),
		errors.Is(err, campaigns.ErrCampaignNotFound),
		errors.Is(err, campaignlog.ErrStepNotFound),
		errors.Is(err, players.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, decks.ErrVersionConflict),
		errors.Is(err, decks.ErrAlreadyUpgraded),
		errors.Is(err, campaignlog.ErrOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, decks.ErrInvalidDeck),
		errors.Is(err, campaigns.ErrInvalidCampaign),
		errors.Is(err, campaigns.ErrUnknownGuide),
		errors.Is(err, chaosbag.ErrUnknownAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": reason, "code": "<op>.<reason>"} for service
// errors and a generic internal_error otherwise.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	code, ok := serviceerror.CodeOf(err)
	if !ok {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal_error"})
		return
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	reason := code
	if index := strings.LastIndex(code, "."); index >= 0 {
		reason = code[index+1:]
	}
	c.JSON(status, gin.H{"error": reason, "code": code})
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason})
}
