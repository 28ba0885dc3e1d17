package models

import "time"

type MessageStatus string

const (
	StatusDraft     MessageStatus = "draft"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// statusRank orders the lifecycle draft -> sent -> delivered -> read.
var statusRank = map[MessageStatus]int{
	StatusDraft:     0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a message may move from one status to
// another. The lifecycle is monotonic, with one exception: a draft may be
// overwritten in place while it is still a draft.
func CanTransition(from, to MessageStatus) bool {
	if from == StatusDraft && to == StatusDraft {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

type Attachment struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	Path         string `json:"path"`
}

// Message is a persisted message record. Ciphertext, IV, AuthTag and KeyID
// are always set together; the plaintext never appears in a record.
type Message struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"sender_id"`
	RecipientID string        `json:"recipient_id"`
	Ciphertext  []byte        `json:"ciphertext"`
	IV          []byte        `json:"iv"`
	AuthTag     []byte        `json:"auth_tag"`
	KeyID       string        `json:"key_id"`
	Status      MessageStatus `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
}

// Expired reports whether the message has an expiry in the past.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// DecryptedMessage is a read-side view of a record whose body could be
// opened for the requesting user. Content stays empty for messages the
// requester cannot decrypt.
type DecryptedMessage struct {
	Message
	Content string `json:"content,omitempty"`
}
