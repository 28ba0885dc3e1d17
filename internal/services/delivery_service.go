package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
	"github.com/patrik-fredon/ZipChat-sub000/internal/ports"
)

// DeliveryService is the ingress point for inbound realtime frames and
// the glue between the message lifecycle and the live-connection
// registry. One malformed frame gets an inline error event back; it
// never tears down the connection loop.
type DeliveryService struct {
	messages *MessageService
	presence *PresenceService
	registry ports.Registry
	notifier ports.PushNotifier
	logger   *slog.Logger

	dropCounter prometheus.Counter
}

// SetDropCounter wires the metric counting events that found no live
// connection.
func (s *DeliveryService) SetDropCounter(drops prometheus.Counter) {
	s.dropCounter = drops
}

func NewDeliveryService(messages *MessageService, presence *PresenceService, registry ports.Registry, notifier ports.PushNotifier, logger *slog.Logger) *DeliveryService {
	return &DeliveryService{
		messages: messages,
		presence: presence,
		registry: registry,
		notifier: notifier,
		logger:   logger,
	}
}

type chatFrame struct {
	RecipientID string              `json:"recipient_id"`
	Content     string              `json:"content"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type typingFrame struct {
	RecipientID string `json:"recipient_id"`
	IsTyping    bool   `json:"is_typing"`
}

type receiptFrame struct {
	MessageIDs []string `json:"message_ids"`
}

// HandleFrame decodes and dispatches one inbound frame from userID's
// connection. A non-nil return is pushed back to the same connection.
func (s *DeliveryService) HandleFrame(ctx context.Context, userID string, raw []byte) *models.Event {
	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.logger.Warn("malformed frame", "userID", userID, "error", err)
		return errorEvent("malformed frame")
	}

	switch frame.Event {
	case models.FrameChat:
		return s.handleChat(ctx, userID, frame.Data)
	case models.FrameTyping:
		return s.handleTyping(userID, frame.Data)
	case models.FrameReadReceipt:
		return s.handleReadReceipt(ctx, userID, frame.Data)
	case models.FrameDeliveryReceipt:
		return s.handleDeliveryReceipt(ctx, userID, frame.Data)
	default:
		s.logger.Warn("unknown frame type", "userID", userID, "event", frame.Event)
		return errorEvent("unknown event type")
	}
}

func (s *DeliveryService) handleChat(ctx context.Context, userID string, data json.RawMessage) *models.Event {
	var frame chatFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return errorEvent("malformed chat frame")
	}

	msg, err := s.messages.Send(ctx, userID, frame.RecipientID, frame.Content, frame.ExpiresAt, frame.Attachments)
	if err != nil {
		// Encrypt and store failures alike: the frame is answered, the
		// connection stays up, nothing partial was persisted or sent.
		s.logger.Error("failed to send message", "userID", userID, "recipientID", frame.RecipientID, "error", err)
		return errorEvent("message rejected")
	}

	s.Deliver(ctx, msg)
	return nil
}

// Deliver pushes a stored message to the recipient's live connection.
// With no live connection the event is dropped and the push-notification
// collaborator is told instead; the record already sits in the store, so
// the recipient picks it up on reconnect via a conversation fetch.
func (s *DeliveryService) Deliver(ctx context.Context, msg *models.Message) bool {
	delivered := s.registry.Send(msg.RecipientID, models.Event{
		Event: models.EventNewMessage,
		Data:  msg,
	})
	if !delivered {
		if s.dropCounter != nil {
			s.dropCounter.Inc()
		}
		if s.notifier != nil {
			s.notifier.NotifyOffline(ctx, msg.RecipientID, "You have a new message")
		}
	}
	return delivered
}

func (s *DeliveryService) handleTyping(userID string, data json.RawMessage) *models.Event {
	var frame typingFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return errorEvent("malformed typing frame")
	}

	s.presence.NotifyTyping(userID, frame.RecipientID, frame.IsTyping)
	return nil
}

func (s *DeliveryService) handleReadReceipt(ctx context.Context, userID string, data json.RawMessage) *models.Event {
	var frame receiptFrame
	if err := json.Unmarshal(data, &frame); err != nil || len(frame.MessageIDs) == 0 {
		return errorEvent("malformed read receipt")
	}

	if err := s.ReadReceipt(ctx, userID, frame.MessageIDs); err != nil {
		return errorEvent("read receipt rejected")
	}
	return nil
}

// ReadReceipt applies a read batch and pushes one notifications_read
// event per affected sender.
func (s *DeliveryService) ReadReceipt(ctx context.Context, userID string, messageIDs []string) error {
	bySender, err := s.messages.MarkRead(ctx, userID, messageIDs)
	if err != nil {
		s.logger.Error("failed to apply read receipt", "userID", userID, "error", err)
		return err
	}

	// Exactly one notification per affected sender per batch.
	for senderID, ids := range bySender {
		s.registry.Send(senderID, models.Event{
			Event: models.EventNotificationsRead,
			Data:  map[string]any{"message_ids": ids, "reader_id": userID},
		})
	}
	return nil
}

// DeliveryReceipt applies a delivered batch. Senders are not
// auto-notified; NotifyMessageStatus is the primitive for that.
func (s *DeliveryService) DeliveryReceipt(ctx context.Context, userID string, messageIDs []string) error {
	_, err := s.messages.MarkDelivered(ctx, userID, messageIDs)
	if err != nil {
		s.logger.Error("failed to apply delivery receipt", "userID", userID, "error", err)
	}
	return err
}

func (s *DeliveryService) handleDeliveryReceipt(ctx context.Context, userID string, data json.RawMessage) *models.Event {
	var frame receiptFrame
	if err := json.Unmarshal(data, &frame); err != nil || len(frame.MessageIDs) == 0 {
		return errorEvent("malformed delivery receipt")
	}

	if err := s.DeliveryReceipt(ctx, userID, frame.MessageIDs); err != nil {
		return errorEvent("delivery receipt rejected")
	}
	return nil
}

// NotifyMessageStatus pushes a message_status event to a sender.
func (s *DeliveryService) NotifyMessageStatus(senderID, messageID string, status models.MessageStatus) bool {
	return s.registry.Send(senderID, models.Event{
		Event: models.EventMessageStatus,
		Data:  map[string]any{"message_id": messageID, "status": status},
	})
}

func errorEvent(reason string) *models.Event {
	return &models.Event{Event: models.EventError, Data: map[string]any{"error": reason}}
}
