package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	libWebsocket "github.com/gorilla/websocket"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
	"github.com/patrik-fredon/ZipChat-sub000/internal/services"
	internalWebsocket "github.com/patrik-fredon/ZipChat-sub000/internal/websocet"
)

// WebSocketHandler runs the per-connection lifecycle:
// connecting -> authenticated -> active -> closed.
type WebSocketHandler struct {
	hub      *internalWebsocket.Hub
	delivery *services.DeliveryService
	presence *services.PresenceService
	auth     *services.AuthService
	logger   *slog.Logger
}

func NewWebSocketHandler(hub *internalWebsocket.Hub, delivery *services.DeliveryService, presence *services.PresenceService, auth *services.AuthService, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		delivery: delivery,
		presence: presence,
		auth:     auth,
		logger:   logger,
	}
}

// HandleWebSocket upgrades the transport, then demands a bearer token
// from the handshake URI (falling back to the cookie). A missing or
// invalid credential closes the fresh connection with 1008; no retry is
// offered server-side.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := internalWebsocket.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	token := c.Query("token")
	if token == "" {
		if cookie, err := c.Request.Cookie("token"); err == nil {
			token = cookie.Value
		}
	}

	userID, err := h.auth.ValidateToken(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("unauthorized websocket connection attempt")
		conn.WriteControl(libWebsocket.CloseMessage,
			libWebsocket.FormatCloseMessage(libWebsocket.ClosePolicyViolation, "Unauthorized"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	client := internalWebsocket.NewClient(userID, conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go func() {
		// The request context dies when this handler returns; the
		// hijacked connection outlives it.
		client.ReadPump(context.Background(), h.delivery)
		h.presence.MarkOffline(userID)
	}()

	h.hub.Send(userID, models.Event{
		Event: models.EventConnectionEstablished,
		Data:  map[string]any{"user_id": userID},
	})

	h.logger.Info("websocket connection established", "userID", userID)
}
