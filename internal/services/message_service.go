package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
	"github.com/patrik-fredon/ZipChat-sub000/internal/ports"
	"github.com/patrik-fredon/ZipChat-sub000/internal/services/keying"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 100
)

// MessageService drives the message lifecycle: encrypt, persist, and move
// records along draft -> sent -> delivered -> read until the expiry sweep
// or an explicit delete removes them.
//
// Every body is encrypted under the recipient's active key before
// anything is persisted; a failed encryption never leaves a partial
// record behind. Note the consequence, inherited deliberately from the
// product: the sender cannot decrypt their own sent ciphertext.
type MessageService struct {
	messages    ports.MessageStore
	keys        ports.KeyStore
	users       ports.UserDirectory
	attachments ports.AttachmentStore
	logger      *slog.Logger

	sentCounter    prometheus.Counter
	expiredCounter prometheus.Counter
}

func NewMessageService(messages ports.MessageStore, keys ports.KeyStore, users ports.UserDirectory, attachments ports.AttachmentStore, logger *slog.Logger) *MessageService {
	return &MessageService{
		messages:    messages,
		keys:        keys,
		users:       users,
		attachments: attachments,
		logger:      logger,
	}
}

func (s *MessageService) SetCounters(sent, expired prometheus.Counter) {
	s.sentCounter = sent
	s.expiredCounter = expired
}

// Send encrypts content under the recipient's active key and persists a
// sent record. Pushing the record to a live connection is the delivery
// coordinator's job, not this method's.
func (s *MessageService) Send(ctx context.Context, senderID, recipientID, content string, expiresAt *time.Time, attachments []models.Attachment) (*models.Message, error) {
	if senderID == "" || recipientID == "" || content == "" {
		return nil, ErrInvalidInput
	}

	for _, userID := range []string{senderID, recipientID} {
		exists, err := s.users.Exists(ctx, userID)
		if err != nil {
			s.logger.Error("failed to check user existence", "userID", userID, "error", err)
			return nil, err
		}
		if !exists {
			s.logger.Warn("unknown sender or recipient", "userID", userID)
			return nil, ErrUserNotFound
		}
	}

	env, keyID, err := s.encryptFor(ctx, recipientID, content)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Ciphertext:  env.Ciphertext,
		IV:          env.IV,
		AuthTag:     env.AuthTag,
		KeyID:       keyID,
		Status:      models.StatusSent,
		Timestamp:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
		Attachments: attachments,
	}

	stored, err := s.messages.Create(ctx, msg)
	if err != nil {
		s.logger.Error("failed to store message", "senderID", senderID, "recipientID", recipientID, "error", err)
		return nil, err
	}

	if s.sentCounter != nil {
		s.sentCounter.Inc()
	}
	s.logger.Info("message sent", "messageID", stored.ID, "senderID", senderID, "recipientID", recipientID)
	return stored, nil
}

// SaveDraft overwrites the single draft slot for the (sender, recipient)
// pair. Saving twice leaves exactly one draft holding the newer content.
func (s *MessageService) SaveDraft(ctx context.Context, senderID, recipientID, content string) (*models.Message, error) {
	if senderID == "" || recipientID == "" || content == "" {
		return nil, ErrInvalidInput
	}

	env, keyID, err := s.encryptFor(ctx, recipientID, content)
	if err != nil {
		return nil, err
	}

	draft := &models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Ciphertext:  env.Ciphertext,
		IV:          env.IV,
		AuthTag:     env.AuthTag,
		KeyID:       keyID,
		Status:      models.StatusDraft,
		Timestamp:   time.Now().UTC(),
	}

	stored, err := s.messages.UpsertDraft(ctx, draft)
	if err != nil {
		s.logger.Error("failed to save draft", "senderID", senderID, "recipientID", recipientID, "error", err)
		return nil, err
	}

	s.logger.Debug("draft saved", "messageID", stored.ID, "senderID", senderID, "recipientID", recipientID)
	return stored, nil
}

// GetDraft returns the decrypted draft for the pair, or nil when none.
func (s *MessageService) GetDraft(ctx context.Context, senderID, recipientID string) (*models.DecryptedMessage, error) {
	if senderID == "" || recipientID == "" {
		return nil, ErrInvalidInput
	}

	draft, err := s.messages.GetDraft(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, nil
	}

	content, err := s.decryptRecord(ctx, draft)
	if err != nil {
		return nil, err
	}
	return &models.DecryptedMessage{Message: *draft, Content: content}, nil
}

// GetConversation fetches messages between two users, newest first.
// Only messages addressed to userID come back decrypted; the requester's
// own sent ciphertext stays sealed (recipient-key encryption).
func (s *MessageService) GetConversation(ctx context.Context, userID, otherUserID string, limit int, before *time.Time) ([]models.DecryptedMessage, error) {
	if userID == "" || otherUserID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	if limit > maxConversationLimit {
		limit = maxConversationLimit
	}

	messages, err := s.messages.FindByConversation(ctx, userID, otherUserID, limit, before)
	if err != nil {
		s.logger.Error("failed to get conversation", "userID", userID, "otherUserID", otherUserID, "error", err)
		return nil, err
	}

	out := make([]models.DecryptedMessage, 0, len(messages))
	for i := range messages {
		msg := models.DecryptedMessage{Message: messages[i]}
		if messages[i].RecipientID == userID {
			content, err := s.decryptRecord(ctx, &messages[i])
			if err != nil {
				// Tag failures signal corruption or an attack; surface, never skip.
				s.logger.Error("failed to decrypt message", "messageID", messages[i].ID, "error", err)
				return nil, err
			}
			msg.Content = content
		}
		out = append(out, msg)
	}

	s.logger.Debug("retrieved conversation", "userID", userID, "otherUserID", otherUserID, "messageCount", len(out))
	return out, nil
}

// MarkDelivered bulk-moves sent messages to delivered. Messages already
// delivered or read, and unknown ids, are silently left untouched.
func (s *MessageService) MarkDelivered(ctx context.Context, recipientID string, messageIDs []string) (int64, error) {
	if recipientID == "" || len(messageIDs) == 0 {
		return 0, ErrInvalidInput
	}

	count, err := s.messages.UpdateStatusBulk(ctx, messageIDs, recipientID,
		[]models.MessageStatus{models.StatusSent}, models.StatusDelivered, nil)
	if err != nil {
		s.logger.Error("failed to mark delivered", "recipientID", recipientID, "error", err)
		return 0, err
	}

	s.logger.Debug("messages marked delivered", "recipientID", recipientID, "count", count)
	return count, nil
}

// MarkRead bulk-moves any non-read message to read and stamps ReadAt.
// The affected messages are grouped by sender so the caller can notify
// each sender exactly once per batch.
func (s *MessageService) MarkRead(ctx context.Context, recipientID string, messageIDs []string) (map[string][]string, error) {
	if recipientID == "" || len(messageIDs) == 0 {
		return nil, ErrInvalidInput
	}

	now := time.Now().UTC()
	_, err := s.messages.UpdateStatusBulk(ctx, messageIDs, recipientID,
		[]models.MessageStatus{models.StatusSent, models.StatusDelivered}, models.StatusRead, &now)
	if err != nil {
		s.logger.Error("failed to mark read", "recipientID", recipientID, "error", err)
		return nil, err
	}

	messages, err := s.messages.FindByIDs(ctx, messageIDs, recipientID)
	if err != nil {
		return nil, err
	}

	bySender := make(map[string][]string)
	for _, msg := range messages {
		bySender[msg.SenderID] = append(bySender[msg.SenderID], msg.ID)
	}

	s.logger.Debug("messages marked read", "recipientID", recipientID, "senders", len(bySender))
	return bySender, nil
}

// Delete removes a single message on behalf of one of its participants,
// attachments included.
func (s *MessageService) Delete(ctx context.Context, userID, messageID string) error {
	if userID == "" || messageID == "" {
		return ErrInvalidInput
	}

	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.SenderID != userID && msg.RecipientID != userID {
		return ErrUnauthorized
	}

	s.removeAttachments(ctx, msg)

	if _, err := s.messages.DeleteMany(ctx, []string{messageID}); err != nil {
		s.logger.Error("failed to delete message", "messageID", messageID, "error", err)
		return err
	}

	s.logger.Info("message deleted", "messageID", messageID, "userID", userID)
	return nil
}

// ExpireAndSweep deletes every message past its expiry, attachments
// first. Attachment removal is best-effort: failures are logged, the row
// is deleted regardless. Running twice back to back is a no-op the
// second time.
func (s *MessageService) ExpireAndSweep(ctx context.Context) (int64, error) {
	expired, err := s.messages.FindExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to find expired messages", "error", err)
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for i := range expired {
		s.removeAttachments(ctx, &expired[i])
		ids = append(ids, expired[i].ID)
	}

	deleted, err := s.messages.DeleteMany(ctx, ids)
	if err != nil {
		s.logger.Error("failed to delete expired messages", "error", err)
		return 0, err
	}

	if s.expiredCounter != nil {
		s.expiredCounter.Add(float64(deleted))
	}
	s.logger.Info("expired messages swept", "count", deleted)
	return deleted, nil
}

// RunSweeper blocks, running ExpireAndSweep on the interval until the
// context is canceled. Intended for the composition root.
func (s *MessageService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.ExpireAndSweep(ctx); err != nil {
				s.logger.Error("expiry sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *MessageService) encryptFor(ctx context.Context, recipientID, content string) (keying.Envelope, string, error) {
	key, err := s.keys.GetActiveKey(ctx, recipientID)
	if err != nil {
		s.logger.Error("failed to load recipient key", "recipientID", recipientID, "error", err)
		return keying.Envelope{}, "", err
	}
	if key == nil {
		return keying.Envelope{}, "", ErrKeyNotFound
	}

	env, err := keying.Encrypt([]byte(content), key.PublicKey)
	if err != nil {
		s.logger.Error("encryption failed", "recipientID", recipientID, "error", err)
		return keying.Envelope{}, "", err
	}
	return env, key.ID, nil
}

func (s *MessageService) decryptRecord(ctx context.Context, msg *models.Message) (string, error) {
	key, err := s.keys.GetKeyByID(ctx, msg.KeyID)
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", ErrKeyNotFound
	}

	plain, err := keying.Decrypt(msg.Ciphertext, msg.IV, msg.AuthTag, key.PrivateKey)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (s *MessageService) removeAttachments(ctx context.Context, msg *models.Message) {
	if s.attachments == nil {
		return
	}
	for _, att := range msg.Attachments {
		if err := s.attachments.Remove(ctx, att.Path); err != nil {
			s.logger.Warn("failed to remove attachment", "messageID", msg.ID, "path", att.Path, "error", err)
		}
	}
}
