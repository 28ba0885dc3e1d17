package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
	"github.com/patrik-fredon/ZipChat-sub000/internal/ports"
	"github.com/patrik-fredon/ZipChat-sub000/internal/services"
)

type MessageHandler struct {
	messages *services.MessageService
	delivery *services.DeliveryService
	presence *services.PresenceService
	keys     ports.KeyStore
	logger   *slog.Logger
}

func NewMessageHandler(messages *services.MessageService, delivery *services.DeliveryService, presence *services.PresenceService, keys ports.KeyStore, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		delivery: delivery,
		presence: presence,
		keys:     keys,
		logger:   logger,
	}
}

func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req struct {
		RecipientID string              `json:"recipient_id" binding:"required"`
		Content     string              `json:"content" binding:"required"`
		ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
		Attachments []models.Attachment `json:"attachments,omitempty"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	senderID := c.GetString("userID")

	msg, err := h.messages.Send(c.Request.Context(), senderID, req.RecipientID, req.Content, req.ExpiresAt, req.Attachments)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	delivered := h.delivery.Deliver(c.Request.Context(), msg)

	c.JSON(http.StatusCreated, gin.H{
		"message_id": msg.ID,
		"status":     msg.Status,
		"timestamp":  msg.Timestamp,
		"delivered":  delivered,
	})
}

func (h *MessageHandler) GetConversation(c *gin.Context) {
	userID := c.GetString("userID")
	otherUserID := c.Param("userId")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid before timestamp"})
			return
		}
		before = &t
	}

	msgs, err := h.messages.GetConversation(c.Request.Context(), userID, otherUserID, limit, before)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

func (h *MessageHandler) SaveDraft(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	senderID := c.GetString("userID")
	recipientID := c.Param("recipientId")

	draft, err := h.messages.SaveDraft(c.Request.Context(), senderID, recipientID, req.Content)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"draft_id": draft.ID, "timestamp": draft.Timestamp})
}

func (h *MessageHandler) GetDraft(c *gin.Context) {
	senderID := c.GetString("userID")
	recipientID := c.Param("recipientId")

	draft, err := h.messages.GetDraft(c.Request.Context(), senderID, recipientID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if draft == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"draft_id":  draft.ID,
		"content":   draft.Content,
		"timestamp": draft.Timestamp,
	})
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req struct {
		MessageIDs []string `json:"message_ids" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	userID := c.GetString("userID")

	if err := h.delivery.ReadReceipt(c.Request.Context(), userID, req.MessageIDs); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	var req struct {
		MessageIDs []string `json:"message_ids" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	userID := c.GetString("userID")

	if err := h.delivery.DeliveryReceipt(c.Request.Context(), userID, req.MessageIDs); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	userID := c.GetString("userID")
	messageID := c.Param("id")

	if err := h.messages.Delete(c.Request.Context(), userID, messageID); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *MessageHandler) RotateKey(c *gin.Context) {
	userID := c.GetString("userID")

	key, err := h.keys.RotateKey(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("key rotation failed", "error", err, "userID", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Key rotation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"key_id": key.ID, "created_at": key.CreatedAt})
}

func (h *MessageHandler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUserNotFound), errors.Is(err, services.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrKeyNotFound):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
