package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/desk"
	"github.com/lisanmuaddib/replydesk/pkg/memory"
)

// Handler adapts desk.Service to gin
type Handler struct {
	service *desk.Service
	logger  *logrus.Logger
}

type syncRequest struct {
	Channel models.Channel  `json:"channel"`
	Mode    models.SyncMode `json:"mode"`
}

type replyRequest struct {
	Text string `json:"text" binding:"required"`
}

// TriggerSync runs a sync for one seller. An empty body syncs every channel incrementally.
func (h *Handler) TriggerSync(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_input", err)
			return
		}
	}
	result, err := h.service.TriggerSync(c.Request.Context(), c.Param("seller_id"), req.Channel, req.Mode)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}

// GetInteraction returns one interaction with its thread
func (h *Handler) GetInteraction(c *gin.Context) {
	view, err := h.service.GetInteraction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, view)
}

// GenerateDraft drafts a reply
func (h *Handler) GenerateDraft(c *gin.Context) {
	draft, err := h.service.GenerateDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, draft)
}

// SendReply delivers an operator reply
func (h *Handler) SendReply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}
	ack, err := h.service.SendReply(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, ack)
}

// UpdateAutoReplySettings changes a seller's auto-reply settings
func (h *Handler) UpdateAutoReplySettings(c *gin.Context) {
	var req desk.AutoReplySettings
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}
	settings, err := h.service.ScheduleAutoReplySettings(c.Request.Context(), c.Param("seller_id"), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, settings)
}

// CancelAutoReply cancels a pending auto-reply
func (h *Handler) CancelAutoReply(c *gin.Context) {
	if err := h.service.CancelAutoReply(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListQueue returns the operator queue of a seller
func (h *Handler) ListQueue(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}

	items, err := h.service.ListQueue(c.Request.Context(), memory.QueueFilter{
		SellerID: c.Param("seller_id"),
		Channel:  models.Channel(c.Query("channel")),
		Priority: models.Priority(c.Query("priority")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"items": items, "limit": limit, "offset": offset})
}

// CloseInteraction closes an interaction
func (h *Handler) CloseInteraction(c *gin.Context) {
	if err := h.service.CloseInteraction(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
