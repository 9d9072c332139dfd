package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message statuses
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// EncryptedContent is the opaque ciphertext payload of a message.
// Data is never inspected by this service.
type EncryptedContent struct {
	Data      string `json:"data" cql:"content_data"`
	Nonce     string `json:"nonce" cql:"content_nonce"`
	Algorithm string `json:"algorithm" cql:"content_algorithm"`
}

// Attachment is an opaque encrypted attachment blob stored inline on the message
type Attachment struct {
	EncryptedData string `json:"encrypted_data"`
	Nonce         string `json:"nonce"`
	MimeType      string `json:"mime_type"`
	Filename      string `json:"filename"`
	Size          int64  `json:"size"`
}

// ReadReceipt records that a user has seen a message
type ReadReceipt struct {
	UserID uuid.UUID `json:"user_id" cql:"user_id"`
	ReadAt time.Time `json:"read_at" cql:"read_at"`
}

// SecurityMetadata carries the integrity and classification data attached
// to a message at send time. SecurityLevel is copied from the owning
// conversation when the message is created and never re-derived.
type SecurityMetadata struct {
	IntegrityHash  string `json:"integrity_hash" cql:"integrity_hash"`
	SignatureValid bool   `json:"signature_valid" cql:"signature_valid"`
	SecurityLevel  string `json:"security_level" cql:"security_level"`
}

// Message represents one encrypted message attached to exactly one conversation
// Maps to Cassandra messages table (clustered newest-first per conversation)
type Message struct {
	MessageID      uuid.UUID        `json:"message_id" cql:"message_id"`
	ConversationID uuid.UUID        `json:"conversation_id" cql:"conversation_id"`
	SenderID       uuid.UUID        `json:"sender_id" cql:"sender_id"`
	Content        EncryptedContent `json:"encrypted_content"`
	Attachments    []Attachment     `json:"attachments,omitempty"`
	ReadBy         []ReadReceipt    `json:"read_by"` // insertion-ordered, one entry per user
	Security       SecurityMetadata `json:"security_metadata"`
	Status         string           `json:"status" cql:"status"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty" cql:"expires_at"`
	IsEphemeral    bool             `json:"is_ephemeral" cql:"is_ephemeral"`
	CreatedAt      time.Time        `json:"created_at" cql:"created_at"`
}

// IsReadBy reports whether the user has a read receipt on the message
func (m *Message) IsReadBy(userID uuid.UUID) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
