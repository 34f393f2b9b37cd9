package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaignlog"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaigns"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/chaosbag"
	"github.com/gin-gonic/gin"
)

const (
	scopeCampaignLog = "log"
	scopeChaosBag    = "chaos-bag"
)

func (h *httpHandler) handleCreateCampaign(c *gin.Context) {
	var request campaigns.CreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	playerID := c.GetString(playerIDContextKey)
	campaign, err := h.campaigns.Create(c.Request.Context(), playerID, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishCampaignChange(playerID, campaign.ID, scopeCampaignLog, campaign.Version)
	c.JSON(http.StatusCreated, campaign)
}

func (h *httpHandler) handleListCampaigns(c *gin.Context) {
	list, err := h.campaigns.List(c.Request.Context(), c.GetString(playerIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": list})
}

func (h *httpHandler) handleGetCampaign(c *gin.Context) {
	campaign, err := h.campaigns.Get(c.Request.Context(), c.GetString(playerIDContextKey), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

type campaignLogPayload struct {
	CampaignID  string          `json:"campaign_id"`
	Version     int             `json:"version"`
	PendingStep string          `json:"pending_step,omitempty"`
	Log         campaignlog.Log `json:"log"`
}

func (h *httpHandler) handleCampaignLog(c *gin.Context) {
	campaign, err := h.campaigns.Get(c.Request.Context(), c.GetString(playerIDContextKey), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaignLogPayload{
		CampaignID:  campaign.ID,
		Version:     campaign.Version,
		PendingStep: h.campaigns.PendingStep(campaign),
		Log:         campaign.Log,
	})
}

type answerStepPayload struct {
	BaseVersion int                `json:"base_version"`
	Answer      campaignlog.Answer `json:"answer"`
}

func (h *httpHandler) handleAnswerStep(c *gin.Context) {
	var request answerStepPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	playerID := c.GetString(playerIDContextKey)
	result, err := h.campaigns.Answer(c.Request.Context(), campaigns.AnswerRequest{
		OwnerID:     playerID,
		CampaignID:  c.Param("id"),
		StepID:      c.Param("stepId"),
		Answer:      request.Answer,
		BaseVersion: request.BaseVersion,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if result.Outcome.Applied() {
		h.publishCampaignChange(playerID, result.Campaign.ID, scopeCampaignLog, result.Campaign.Version)
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleRebuildCampaign(c *gin.Context) {
	playerID := c.GetString(playerIDContextKey)
	campaign, err := h.campaigns.Rebuild(c.Request.Context(), playerID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishCampaignChange(playerID, campaign.ID, scopeCampaignLog, campaign.Version)
	c.JSON(http.StatusOK, campaign)
}

func (h *httpHandler) handleGetChaosBag(c *gin.Context) {
	campaign, err := h.campaigns.Get(c.Request.Context(), c.GetString(playerIDContextKey), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	results, err := h.chaosBag.Get(c.Request.Context(), campaign.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

type chaosBagActionPayload struct {
	BaseVersion int `json:"base_version"`
	chaosbag.Payload
}

func (h *httpHandler) handleChaosBagAction(c *gin.Context) {
	action, err := chaosbag.ParseAction(c.Param("action"))
	if err != nil {
		badRequest(c, "unknown_action")
		return
	}
	var request chaosBagActionPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			badRequest(c, "invalid_request")
			return
		}
	}

	playerID := c.GetString(playerIDContextKey)
	campaign, err := h.campaigns.Get(c.Request.Context(), playerID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	results, err := h.chaosBag.Apply(c.Request.Context(), chaosbag.ApplyRequest{
		CampaignID:  campaign.ID,
		Action:      action,
		Payload:     request.Payload,
		BaseVersion: request.BaseVersion,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishCampaignChange(playerID, campaign.ID, scopeChaosBag, results.Version)
	c.JSON(http.StatusOK, results)
}

func (h *httpHandler) publishCampaignChange(playerID, campaignID, scope string, version int) {
	h.publish(RealtimeMessage{
		PlayerID:   playerID,
		EventType:  RealtimeEventCampaignChanged,
		CampaignID: campaignID,
		Scope:      scope,
		Version:    strconv.Itoa(version),
	})
}
