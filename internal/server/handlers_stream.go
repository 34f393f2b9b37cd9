package server

import (
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// handleStream serves the player's realtime events as server-sent events until
// the client disconnects. ?campaign_id= limits the stream to one campaign.
func (h *httpHandler) handleStream(c *gin.Context) {
	playerID := c.GetString(playerIDContextKey)
	ctx := c.Request.Context()
	filter := StreamFilter{CampaignID: strings.TrimSpace(c.Query("campaign_id"))}
	messages, cancel := h.streams.Subscribe(ctx, playerID, filter)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	h.logger.Debug("realtime stream opened", zap.String("player_id", playerID), zap.String("campaign_id", filter.CampaignID))
	c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{Timestamp: h.clock().UTC()})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, message)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{Timestamp: h.clock().UTC()})
			return true
		}
	})
	h.logger.Debug("realtime stream closed",
		zap.String("player_id", playerID),
		zap.Int64("dropped_total", h.streams.Dropped()))
}
