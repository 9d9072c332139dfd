package cassandra

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/domain"
	apperrors "github.com/bzaromedia/securi-comm-network-sub001/pkg/errors"
)

// MessageRepository handles message storage in Cassandra.
//
// Three tables back the entity:
//   - messages:         partitioned by conversation, clustered newest-first
//     (conversation_id, created_at DESC, message_id)
//   - message_lookup:   message_id -> (conversation_id, created_at), so
//     single-message operations can locate the clustered row
//   - message_receipts: keyed by ((message_id), user_id), so re-marking a
//     message read by the same user upserts the existing row instead of
//     adding a second one; insertion order is recovered at load time by
//     sorting on read_at
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a new message, its lookup row, and any seed read receipts
func (r *MessageRepository) Save(message *domain.Message) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	attachmentsJSON, err := encodeAttachments(message.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (
			conversation_id, created_at, message_id, sender_id,
			content_data, content_nonce, content_algorithm, attachments,
			integrity_hash, signature_valid, security_level, status,
			expires_at, is_ephemeral
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = r.session.Query(query,
		message.ConversationID,
		message.CreatedAt,
		message.MessageID,
		message.SenderID,
		message.Content.Data,
		message.Content.Nonce,
		message.Content.Algorithm,
		attachmentsJSON,
		message.Security.IntegrityHash,
		message.Security.SignatureValid,
		message.Security.SecurityLevel,
		message.Status,
		expiryColumn(message.ExpiresAt),
		message.IsEphemeral,
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	lookupQuery := `INSERT INTO message_lookup (message_id, conversation_id, created_at) VALUES (?, ?, ?)`
	if err := r.session.Query(lookupQuery, message.MessageID, message.ConversationID, message.CreatedAt).Exec(); err != nil {
		return fmt.Errorf("failed to save message lookup: %w", err)
	}

	for _, receipt := range message.ReadBy {
		if err := r.insertReceipt(message.MessageID, receipt); err != nil {
			return err
		}
	}

	return nil
}

// GetByID retrieves a message, including its read receipts
func (r *MessageRepository) GetByID(messageID uuid.UUID) (*domain.Message, error) {
	var conversationID uuid.UUID
	var createdAt time.Time

	lookupQuery := `SELECT conversation_id, created_at FROM message_lookup WHERE message_id = ? LIMIT 1`
	err := r.session.Query(lookupQuery, messageID).Scan(&conversationID, &createdAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperrors.MessageNotFoundError()
		}
		return nil, fmt.Errorf("failed to look up message: %w", err)
	}

	query := `
		SELECT conversation_id, created_at, message_id, sender_id,
		       content_data, content_nonce, content_algorithm, attachments,
		       integrity_hash, signature_valid, security_level, status,
		       expires_at, is_ephemeral
		FROM messages
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?
		LIMIT 1
	`

	message, err := r.scanMessage(r.session.Query(query, conversationID, createdAt, messageID))
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperrors.MessageNotFoundError()
		}
		return nil, err
	}

	receipts, err := r.loadReceipts(messageID)
	if err != nil {
		return nil, err
	}
	message.ReadBy = receipts

	return message, nil
}

// ListByConversation retrieves messages newest-first, optionally restricted
// to strictly before the given timestamp
func (r *MessageRepository) ListByConversation(conversationID uuid.UUID, limit int, before *time.Time) ([]*domain.Message, error) {
	var iter *gocql.Iter
	if before != nil {
		query := `
			SELECT conversation_id, created_at, message_id, sender_id,
			       content_data, content_nonce, content_algorithm, attachments,
			       integrity_hash, signature_valid, security_level, status,
			       expires_at, is_ephemeral
			FROM messages
			WHERE conversation_id = ? AND created_at < ?
			LIMIT ?
		`
		iter = r.session.Query(query, conversationID, *before, limit).Iter()
	} else {
		query := `
			SELECT conversation_id, created_at, message_id, sender_id,
			       content_data, content_nonce, content_algorithm, attachments,
			       integrity_hash, signature_valid, security_level, status,
			       expires_at, is_ephemeral
			FROM messages
			WHERE conversation_id = ?
			LIMIT ?
		`
		iter = r.session.Query(query, conversationID, limit).Iter()
	}

	var messages []*domain.Message
	for {
		message, ok, err := scanIterMessage(iter)
		if err != nil {
			iter.Close()
			return nil, err
		}
		if !ok {
			break
		}
		messages = append(messages, message)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	for _, message := range messages {
		receipts, err := r.loadReceipts(message.MessageID)
		if err != nil {
			return nil, err
		}
		message.ReadBy = receipts
	}

	return messages, nil
}

// LatestInConversation returns the most recently created message, or
// (nil, nil) when the conversation has no messages
func (r *MessageRepository) LatestInConversation(conversationID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT conversation_id, created_at, message_id, sender_id,
		       content_data, content_nonce, content_algorithm, attachments,
		       integrity_hash, signature_valid, security_level, status,
		       expires_at, is_ephemeral
		FROM messages
		WHERE conversation_id = ?
		LIMIT 1
	`

	message, err := r.scanMessage(r.session.Query(query, conversationID))
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	return message, nil
}

// AddReceipt appends a read receipt and marks the message read
func (r *MessageRepository) AddReceipt(message *domain.Message, receipt domain.ReadReceipt) error {
	if err := r.insertReceipt(message.MessageID, receipt); err != nil {
		return err
	}

	query := `
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?
	`
	err := r.session.Query(query,
		domain.MessageStatusRead,
		message.ConversationID,
		message.CreatedAt,
		message.MessageID,
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	return nil
}

// Delete removes a message, its lookup row, and its receipts
func (r *MessageRepository) Delete(message *domain.Message) error {
	query := `DELETE FROM messages WHERE conversation_id = ? AND created_at = ? AND message_id = ?`
	if err := r.session.Query(query, message.ConversationID, message.CreatedAt, message.MessageID).Exec(); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	if err := r.session.Query(`DELETE FROM message_lookup WHERE message_id = ?`, message.MessageID).Exec(); err != nil {
		return fmt.Errorf("failed to delete message lookup: %w", err)
	}

	if err := r.session.Query(`DELETE FROM message_receipts WHERE message_id = ?`, message.MessageID).Exec(); err != nil {
		return fmt.Errorf("failed to delete message receipts: %w", err)
	}

	return nil
}

// insertReceipt upserts the reader's receipt row. user_id is a clustering
// key, so concurrent marks by the same user collapse into a single row.
func (r *MessageRepository) insertReceipt(messageID uuid.UUID, receipt domain.ReadReceipt) error {
	query := `INSERT INTO message_receipts (message_id, user_id, read_at) VALUES (?, ?, ?)`
	if err := r.session.Query(query, messageID, receipt.UserID, receipt.ReadAt).Exec(); err != nil {
		return fmt.Errorf("failed to save read receipt: %w", err)
	}
	return nil
}

func (r *MessageRepository) loadReceipts(messageID uuid.UUID) ([]domain.ReadReceipt, error) {
	query := `SELECT user_id, read_at FROM message_receipts WHERE message_id = ?`

	iter := r.session.Query(query, messageID).Iter()

	var receipts []domain.ReadReceipt
	var userID uuid.UUID
	var readAt time.Time
	for iter.Scan(&userID, &readAt) {
		receipts = append(receipts, domain.ReadReceipt{UserID: userID, ReadAt: readAt})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch read receipts: %w", err)
	}

	// Rows cluster by user_id; callers expect receipts in read order
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].ReadAt.Before(receipts[j].ReadAt)
	})

	return receipts, nil
}

func (r *MessageRepository) scanMessage(q *gocql.Query) (*domain.Message, error) {
	message := &domain.Message{}
	var attachmentsJSON string
	var expiresAt time.Time

	err := q.Scan(
		&message.ConversationID,
		&message.CreatedAt,
		&message.MessageID,
		&message.SenderID,
		&message.Content.Data,
		&message.Content.Nonce,
		&message.Content.Algorithm,
		&attachmentsJSON,
		&message.Security.IntegrityHash,
		&message.Security.SignatureValid,
		&message.Security.SecurityLevel,
		&message.Status,
		&expiresAt,
		&message.IsEphemeral,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeInto(message, attachmentsJSON, expiresAt); err != nil {
		return nil, err
	}

	return message, nil
}

func scanIterMessage(iter *gocql.Iter) (*domain.Message, bool, error) {
	message := &domain.Message{}
	var attachmentsJSON string
	var expiresAt time.Time

	ok := iter.Scan(
		&message.ConversationID,
		&message.CreatedAt,
		&message.MessageID,
		&message.SenderID,
		&message.Content.Data,
		&message.Content.Nonce,
		&message.Content.Algorithm,
		&attachmentsJSON,
		&message.Security.IntegrityHash,
		&message.Security.SignatureValid,
		&message.Security.SecurityLevel,
		&message.Status,
		&expiresAt,
		&message.IsEphemeral,
	)
	if !ok {
		return nil, false, nil
	}

	if err := decodeInto(message, attachmentsJSON, expiresAt); err != nil {
		return nil, false, err
	}

	return message, true, nil
}

func decodeInto(message *domain.Message, attachmentsJSON string, expiresAt time.Time) error {
	if attachmentsJSON != "" {
		if err := json.Unmarshal([]byte(attachmentsJSON), &message.Attachments); err != nil {
			return fmt.Errorf("failed to decode attachments: %w", err)
		}
	}
	if !expiresAt.IsZero() {
		message.ExpiresAt = &expiresAt
	}
	return nil
}

func encodeAttachments(attachments []domain.Attachment) (string, error) {
	if len(attachments) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("failed to encode attachments: %w", err)
	}
	return string(encoded), nil
}

func expiryColumn(expiresAt *time.Time) time.Time {
	if expiresAt == nil {
		return time.Time{}
	}
	return *expiresAt
}
