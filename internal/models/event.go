package models

// Realtime event names pushed over a live connection.
const (
	EventConnectionEstablished = "connection_established"
	EventNewMessage            = "new_message"
	EventTyping                = "typing"
	EventNotificationsRead     = "notifications_read"
	EventMessageStatus         = "message_status"
	EventError                 = "error"
)

// Inbound frame types accepted from a client.
const (
	FrameChat            = "chat"
	FrameTyping          = "typing"
	FrameReadReceipt     = "read_receipt"
	FrameDeliveryReceipt = "delivery_receipt"
)

// Event is the envelope for every frame crossing a live connection,
// in either direction.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// TypingSignal is ephemeral: delivered at most once, never persisted.
type TypingSignal struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id,omitempty"`
	IsTyping    bool   `json:"is_typing"`
}
