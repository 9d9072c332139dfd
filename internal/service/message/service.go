package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/domain"
	apperrors "github.com/bzaromedia/securi-comm-network-sub001/pkg/errors"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/logger"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/metrics"
)

// MessageStore persists messages and read receipts
type MessageStore interface {
	Save(message *domain.Message) error
	GetByID(messageID uuid.UUID) (*domain.Message, error)
	ListByConversation(conversationID uuid.UUID, limit int, before *time.Time) ([]*domain.Message, error)
	LatestInConversation(conversationID uuid.UUID) (*domain.Message, error)
	AddReceipt(message *domain.Message, receipt domain.ReadReceipt) error
	Delete(message *domain.Message) error
}

// ConversationStore is the slice of conversation persistence the message
// lifecycle needs: lookups plus serialized last-message pointer updates
type ConversationStore interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	Mutate(ctx context.Context, conversationID uuid.UUID, fn func(*domain.Conversation) error) (*domain.Conversation, error)
}

// Publisher fans message events out to real-time subscribers
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Event types published per conversation channel
const (
	EventTypeMessage = "message"
	EventTypeRead    = "read"
	EventTypeDeleted = "deleted"
)

// Event is the payload published to a conversation's Redis channel
type Event struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	ActorID        uuid.UUID `json:"actor_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// Service handles message lifecycle: creation, read-receipt accumulation,
// listing, and deletion with last-message repair
type Service struct {
	messages      MessageStore
	conversations ConversationStore
	publisher     Publisher
}

// NewService creates a new message service
func NewService(messages MessageStore, conversations ConversationStore, publisher Publisher) *Service {
	return &Service{
		messages:      messages,
		conversations: conversations,
		publisher:     publisher,
	}
}

// SendInput contains message creation data
type SendInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        domain.EncryptedContent
	Attachments    []domain.Attachment
	IntegrityHash  string
	ExpiresAt      *time.Time
	IsEphemeral    bool
}

// Send creates a message and repoints the conversation's last-message
// reference at it. The sender is seeded into readBy and the conversation's
// security level is copied onto the message, never re-derived later. When
// the pointer update fails the stored message is rolled back so it is never
// visible as sent.
func (s *Service) Send(ctx context.Context, input *SendInput) (*domain.Message, error) {
	conversation, err := s.conversations.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParticipant(input.SenderID) {
		metrics.MessageSendUnauthorizedTotal.Inc()
		return nil, apperrors.ForbiddenError("sender is not a participant of this conversation")
	}

	now := time.Now().UTC()
	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Content:        input.Content,
		Attachments:    input.Attachments,
		ReadBy: []domain.ReadReceipt{
			{UserID: input.SenderID, ReadAt: now},
		},
		Security: domain.SecurityMetadata{
			IntegrityHash:  input.IntegrityHash,
			SignatureValid: true,
			SecurityLevel:  conversation.SecurityLevel,
		},
		Status:      domain.MessageStatusSent,
		ExpiresAt:   input.ExpiresAt,
		IsEphemeral: input.IsEphemeral,
		CreatedAt:   now,
	}

	if err := s.messages.Save(message); err != nil {
		metrics.MessageSendFailedTotal.WithLabelValues("persist").Inc()
		return nil, apperrors.DatabaseError(err)
	}

	_, err = s.conversations.Mutate(ctx, input.ConversationID, func(c *domain.Conversation) error {
		id := message.MessageID
		c.LastMessageID = &id
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		// Pointer update failed: roll the message back so the send is not
		// observable as partially applied
		metrics.MessageSendFailedTotal.WithLabelValues("pointer_update").Inc()
		if delErr := s.messages.Delete(message); delErr != nil {
			logger.Error("failed to roll back orphaned message",
				zap.String("message_id", message.MessageID.String()),
				zap.Error(delErr),
			)
		}
		return nil, err
	}

	metrics.MessageSentTotal.WithLabelValues(message.Security.SecurityLevel).Inc()
	s.publish(ctx, &Event{
		Type:           EventTypeMessage,
		ConversationID: message.ConversationID,
		MessageID:      message.MessageID,
		ActorID:        message.SenderID,
		Timestamp:      now,
	})

	return message, nil
}

// MarkRead appends a read receipt for the user and marks the message read.
// Idempotent: a user who already has a receipt gets the message back
// unchanged, and the receipt write upserts per (message, user), so
// concurrent marks by the same user still yield a single entry. The status
// transition is one-directional; readBy never shrinks, so a message never
// reverts from read.
func (s *Service) MarkRead(ctx context.Context, messageID, userID uuid.UUID) (*domain.Message, error) {
	message, err := s.messages.GetByID(messageID)
	if err != nil {
		return nil, err
	}

	conversation, err := s.conversations.GetByID(ctx, message.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParticipant(userID) {
		return nil, apperrors.ForbiddenError("not a participant of this conversation")
	}

	if message.IsReadBy(userID) {
		return message, nil
	}

	receipt := domain.ReadReceipt{UserID: userID, ReadAt: time.Now().UTC()}
	if err := s.messages.AddReceipt(message, receipt); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	// The store upserts the receipt per user; re-check before appending so
	// a mark that interleaved with this one cannot double-append
	if !message.IsReadBy(userID) {
		message.ReadBy = append(message.ReadBy, receipt)
	}
	message.Status = domain.MessageStatusRead

	metrics.ReadReceiptRecordedTotal.Inc()
	s.publish(ctx, &Event{
		Type:           EventTypeRead,
		ConversationID: message.ConversationID,
		MessageID:      message.MessageID,
		ActorID:        userID,
		Timestamp:      receipt.ReadAt,
	})

	return message, nil
}

// IsReadBy reports whether the user has a read receipt on the message
func (s *Service) IsReadBy(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	message, err := s.messages.GetByID(messageID)
	if err != nil {
		return false, err
	}
	return message.IsReadBy(userID), nil
}

// ListOutput contains a page of messages in ascending chronological order
type ListOutput struct {
	Messages []*domain.Message
	HasMore  bool
}

// List retrieves conversation messages for a participant. Retrieval is
// newest-first and reversed before delivery, so callers always receive
// oldest-first pages. HasMore is the documented approximation: true iff the
// page came back full.
func (s *Service) List(ctx context.Context, conversationID, requester uuid.UUID, limit int, before *time.Time) (*ListOutput, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParticipant(requester) {
		return nil, apperrors.ForbiddenError("not a participant of this conversation")
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	messages, err := s.messages.ListByConversation(conversationID, limit, before)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	hasMore := len(messages) == limit

	// Reverse newest-first retrieval into ascending order for rendering
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &ListOutput{Messages: messages, HasMore: hasMore}, nil
}

// Delete removes a message; only the sender may delete. When the deleted
// message was the conversation's last message, the pointer is repaired to
// the most recently created remaining message, or cleared when none remain.
// The repair runs under the conversation row lock so a racing send cannot
// leave the pointer at a deleted message.
func (s *Service) Delete(ctx context.Context, messageID, actor uuid.UUID) error {
	message, err := s.messages.GetByID(messageID)
	if err != nil {
		return err
	}
	if message.SenderID != actor {
		return apperrors.ForbiddenError("only the sender can delete a message")
	}

	if err := s.messages.Delete(message); err != nil {
		return apperrors.DatabaseError(err)
	}

	_, err = s.conversations.Mutate(ctx, message.ConversationID, func(c *domain.Conversation) error {
		if c.LastMessageID == nil || *c.LastMessageID != message.MessageID {
			return nil
		}

		latest, latestErr := s.messages.LatestInConversation(message.ConversationID)
		if latestErr != nil {
			return fmt.Errorf("failed to recompute last message: %w", latestErr)
		}
		if latest == nil {
			c.LastMessageID = nil
		} else {
			id := latest.MessageID
			c.LastMessageID = &id
		}
		c.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	metrics.MessageDeletedTotal.Inc()
	s.publish(ctx, &Event{
		Type:           EventTypeDeleted,
		ConversationID: message.ConversationID,
		MessageID:      message.MessageID,
		ActorID:        actor,
		Timestamp:      time.Now().UTC(),
	})

	return nil
}

// publish delivers an event to the conversation channel, best-effort
func (s *Service) publish(ctx context.Context, event *Event) {
	if s.publisher == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		metrics.MessagePublishedTotal.WithLabelValues("error").Inc()
		logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	channel := fmt.Sprintf("chat:%s", event.ConversationID)
	if err := s.publisher.Publish(ctx, channel, payload); err != nil {
		metrics.MessagePublishedTotal.WithLabelValues("error").Inc()
		logger.Warn("failed to publish event",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return
	}

	metrics.MessagePublishedTotal.WithLabelValues("ok").Inc()
}
