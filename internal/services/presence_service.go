package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
	"github.com/patrik-fredon/ZipChat-sub000/internal/ports"
	websocket "github.com/patrik-fredon/ZipChat-sub000/internal/websocet"
)

// PresenceService owns connection liveness and the ephemeral signals.
//
// Heartbeat contract: on every tick, a connection that never answered the
// previous ping is terminated and deregistered; every survivor has its
// alive flag lowered and gets a fresh ping. A pong raises the flag again,
// so a dead peer is evicted within one period after missing exactly one
// ping, not on the tick it misses.
type PresenceService struct {
	hub      *websocket.Hub
	presence ports.PresenceStore
	interval time.Duration
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewPresenceService(hub *websocket.Hub, presence ports.PresenceStore, interval time.Duration, logger *slog.Logger) *PresenceService {
	return &PresenceService{
		hub:      hub,
		presence: presence,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start launches the heartbeat loop.
func (s *PresenceService) Start() {
	go s.run()
}

func (s *PresenceService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *PresenceService) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Heartbeat()
		case <-s.stop:
			return
		}
	}
}

// Heartbeat runs one scan over the registry. It must never block on a
// slow client; pings are control frames with a bounded write deadline,
// and a failed write counts as death.
func (s *PresenceService) Heartbeat() {
	for _, client := range s.hub.Clients() {
		if !client.Alive() {
			s.logger.Info("heartbeat missed, evicting connection", "userID", client.UserID)
			s.hub.Drop(client)
			s.MarkOffline(client.UserID)
			continue
		}

		client.ResetAlive()
		if err := client.Ping(); err != nil {
			s.logger.Warn("ping failed, evicting connection", "userID", client.UserID, "error", err)
			s.hub.Drop(client)
			s.MarkOffline(client.UserID)
		}
	}
}

// NotifyTyping is a pure pass-through: no debounce, nothing persisted,
// dropped silently when the recipient is offline.
func (s *PresenceService) NotifyTyping(senderID, recipientID string, isTyping bool) {
	s.hub.Send(recipientID, models.Event{
		Event: models.EventTyping,
		Data:  models.TypingSignal{SenderID: senderID, IsTyping: isTyping},
	})
}

// MarkOffline records when the user was last seen. Best-effort; presence
// is ephemeral state.
func (s *PresenceService) MarkOffline(userID string) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.presence.SetLastSeen(ctx, userID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to record last seen", "userID", userID, "error", err)
	}
}
