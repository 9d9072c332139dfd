package message

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/domain"
	apperrors "github.com/bzaromedia/securi-comm-network-sub001/pkg/errors"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

// In-memory stores

type fakeMessageStore struct {
	messages     map[uuid.UUID]*domain.Message
	saveErr      error
	onAddReceipt func()
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[uuid.UUID]*domain.Message)}
}

func (f *fakeMessageStore) Save(message *domain.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.messages[message.MessageID] = message
	return nil
}

func (f *fakeMessageStore) GetByID(messageID uuid.UUID) (*domain.Message, error) {
	message, ok := f.messages[messageID]
	if !ok {
		return nil, apperrors.MessageNotFoundError()
	}
	return message, nil
}

func (f *fakeMessageStore) inConversation(conversationID uuid.UUID) []*domain.Message {
	var result []*domain.Message
	for _, message := range f.messages {
		if message.ConversationID == conversationID {
			result = append(result, message)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (f *fakeMessageStore) ListByConversation(conversationID uuid.UUID, limit int, before *time.Time) ([]*domain.Message, error) {
	var page []*domain.Message
	for _, message := range f.inConversation(conversationID) {
		if before != nil && !message.CreatedAt.Before(*before) {
			continue
		}
		page = append(page, message)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (f *fakeMessageStore) LatestInConversation(conversationID uuid.UUID) (*domain.Message, error) {
	all := f.inConversation(conversationID)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (f *fakeMessageStore) AddReceipt(message *domain.Message, receipt domain.ReadReceipt) error {
	if f.onAddReceipt != nil {
		hook := f.onAddReceipt
		f.onAddReceipt = nil
		hook()
	}
	return nil
}

func (f *fakeMessageStore) Delete(message *domain.Message) error {
	delete(f.messages, message.MessageID)
	return nil
}

type fakeConversationStore struct {
	byID      map[uuid.UUID]*domain.Conversation
	mutateErr error
}

func newFakeConversationStore(conversations ...*domain.Conversation) *fakeConversationStore {
	store := &fakeConversationStore{byID: make(map[uuid.UUID]*domain.Conversation)}
	for _, conversation := range conversations {
		store.byID[conversation.ConversationID] = conversation
	}
	return store
}

func (f *fakeConversationStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	conversation, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ConversationNotFoundError()
	}
	return conversation, nil
}

func (f *fakeConversationStore) Mutate(_ context.Context, id uuid.UUID, fn func(*domain.Conversation) error) (*domain.Conversation, error) {
	if f.mutateErr != nil {
		return nil, f.mutateErr
	}
	conversation, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ConversationNotFoundError()
	}
	if err := fn(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

type fakePublisher struct {
	events []Event
}

func (f *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	f.events = append(f.events, Event{})
	return nil
}

// Fixtures

func groupConversation(members ...uuid.UUID) *domain.Conversation {
	now := time.Now().UTC()
	participants := make([]domain.Participant, 0, len(members))
	for i, id := range members {
		role := domain.RoleMember
		if i == 0 {
			role = domain.RoleAdmin
		}
		participants = append(participants, domain.Participant{UserID: id, Role: role, JoinedAt: now})
	}
	return &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeGroup,
		Participants:   participants,
		SecurityLevel:  domain.SecurityLevelMedium,
		Settings:       domain.DefaultSettings(),
		CreatedBy:      members[0],
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func sendInput(conversationID, sender uuid.UUID) *SendInput {
	return &SendInput{
		ConversationID: conversationID,
		SenderID:       sender,
		Content: domain.EncryptedContent{
			Data:      "ZW5jcnlwdGVk",
			Nonce:     "bm9uY2U=",
			Algorithm: "aes-256-gcm",
		},
		IntegrityHash: "deadbeef",
	}
}

// Tests

func TestSend_SetsPointerAndSeedsSender(t *testing.T) {
	sender := uuid.New()
	other := uuid.New()
	conversation := groupConversation(sender, other)
	messages := newFakeMessageStore()
	conversations := newFakeConversationStore(conversation)
	publisher := &fakePublisher{}
	svc := NewService(messages, conversations, publisher)

	message, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))

	require.NoError(t, err)
	require.NotNil(t, conversation.LastMessageID)
	assert.Equal(t, message.MessageID, *conversation.LastMessageID)
	assert.Equal(t, domain.MessageStatusSent, message.Status)
	// The sender counts as having read their own message from the start
	require.Len(t, message.ReadBy, 1)
	assert.Equal(t, sender, message.ReadBy[0].UserID)
	// Security level is copied from the conversation at send time
	assert.Equal(t, domain.SecurityLevelMedium, message.Security.SecurityLevel)
	assert.True(t, message.Security.SignatureValid)
	assert.Len(t, publisher.events, 1)
}

func TestSend_NotParticipant(t *testing.T) {
	conversation := groupConversation(uuid.New(), uuid.New())
	svc := NewService(newFakeMessageStore(), newFakeConversationStore(conversation), nil)

	message, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, uuid.New()))

	assert.Nil(t, message)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
}

func TestSend_ConversationNotFound(t *testing.T) {
	svc := NewService(newFakeMessageStore(), newFakeConversationStore(), nil)

	_, err := svc.Send(context.Background(), sendInput(uuid.New(), uuid.New()))

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConversationNotFound))
}

func TestSend_PointerUpdateFailureRollsBack(t *testing.T) {
	sender := uuid.New()
	conversation := groupConversation(sender, uuid.New())
	messages := newFakeMessageStore()
	conversations := newFakeConversationStore(conversation)
	conversations.mutateErr = apperrors.DatabaseError(assert.AnError)
	svc := NewService(messages, conversations, nil)

	message, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))

	assert.Nil(t, message)
	assert.Error(t, err)
	// The stored message must not survive a failed pointer update
	assert.Empty(t, messages.messages)
	assert.Nil(t, conversation.LastMessageID)
}

func TestMarkRead_Idempotent(t *testing.T) {
	sender := uuid.New()
	reader := uuid.New()
	conversation := groupConversation(sender, reader)
	messages := newFakeMessageStore()
	conversations := newFakeConversationStore(conversation)
	svc := NewService(messages, conversations, nil)

	sent, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)

	read, err := svc.MarkRead(context.Background(), sent.MessageID, reader)
	require.NoError(t, err)
	assert.Len(t, read.ReadBy, 2)
	assert.Equal(t, domain.MessageStatusRead, read.Status)
	firstReadAt := read.ReadBy[1].ReadAt

	// Marking again changes nothing: same receipts, same timestamp
	again, err := svc.MarkRead(context.Background(), sent.MessageID, reader)
	require.NoError(t, err)
	assert.Len(t, again.ReadBy, 2)
	assert.Equal(t, firstReadAt, again.ReadBy[1].ReadAt)
}

func TestMarkRead_InterleavedMarksRecordOneReceipt(t *testing.T) {
	sender := uuid.New()
	reader := uuid.New()
	conversation := groupConversation(sender, reader)
	messages := newFakeMessageStore()
	svc := NewService(messages, newFakeConversationStore(conversation), nil)

	sent, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)

	// A second mark by the same reader lands inside the first mark's window
	// between the receipt check and the receipt write
	messages.onAddReceipt = func() {
		_, innerErr := svc.MarkRead(context.Background(), sent.MessageID, reader)
		require.NoError(t, innerErr)
	}

	read, err := svc.MarkRead(context.Background(), sent.MessageID, reader)
	require.NoError(t, err)

	readerReceipts := 0
	for _, receipt := range read.ReadBy {
		if receipt.UserID == reader {
			readerReceipts++
		}
	}
	assert.Equal(t, 1, readerReceipts, "one receipt per distinct user")
	assert.Len(t, read.ReadBy, 2)
	assert.Equal(t, domain.MessageStatusRead, read.Status)
}

func TestMarkRead_SenderReceiptAlreadySeeded(t *testing.T) {
	sender := uuid.New()
	conversation := groupConversation(sender, uuid.New())
	svc := NewService(newFakeMessageStore(), newFakeConversationStore(conversation), nil)

	sent, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)

	read, err := svc.MarkRead(context.Background(), sent.MessageID, sender)
	require.NoError(t, err)
	assert.Len(t, read.ReadBy, 1)
	assert.Equal(t, domain.MessageStatusSent, read.Status)
}

func TestMarkRead_NotParticipant(t *testing.T) {
	sender := uuid.New()
	conversation := groupConversation(sender, uuid.New())
	svc := NewService(newFakeMessageStore(), newFakeConversationStore(conversation), nil)

	sent, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)

	_, err = svc.MarkRead(context.Background(), sent.MessageID, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
}

func TestIsReadBy(t *testing.T) {
	sender := uuid.New()
	reader := uuid.New()
	conversation := groupConversation(sender, reader)
	svc := NewService(newFakeMessageStore(), newFakeConversationStore(conversation), nil)

	sent, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)

	isRead, err := svc.IsReadBy(context.Background(), sent.MessageID, reader)
	require.NoError(t, err)
	assert.False(t, isRead)

	_, err = svc.MarkRead(context.Background(), sent.MessageID, reader)
	require.NoError(t, err)

	isRead, err = svc.IsReadBy(context.Background(), sent.MessageID, reader)
	require.NoError(t, err)
	assert.True(t, isRead)
}

func TestList_AscendingOrderAndHasMore(t *testing.T) {
	sender := uuid.New()
	conversation := groupConversation(sender, uuid.New())
	messages := newFakeMessageStore()
	svc := NewService(messages, newFakeConversationStore(conversation), nil)

	var sent []*domain.Message
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		message, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
		require.NoError(t, err)
		// Distinct timestamps so ordering is deterministic
		message.CreatedAt = base.Add(time.Duration(i) * time.Second)
		sent = append(sent, message)
	}

	page, err := svc.List(context.Background(), conversation.ConversationID, sender, 2, nil)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	// Newest two, delivered oldest-first
	assert.Equal(t, sent[1].MessageID, page.Messages[0].MessageID)
	assert.Equal(t, sent[2].MessageID, page.Messages[1].MessageID)
	assert.True(t, page.HasMore)

	older, err := svc.List(context.Background(), conversation.ConversationID, sender, 2, &sent[1].CreatedAt)
	require.NoError(t, err)
	require.Len(t, older.Messages, 1)
	assert.Equal(t, sent[0].MessageID, older.Messages[0].MessageID)
	assert.False(t, older.HasMore)
}

func TestList_NotParticipant(t *testing.T) {
	conversation := groupConversation(uuid.New(), uuid.New())
	svc := NewService(newFakeMessageStore(), newFakeConversationStore(conversation), nil)

	_, err := svc.List(context.Background(), conversation.ConversationID, uuid.New(), 10, nil)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
}

func TestDelete_RepairsLastMessagePointer(t *testing.T) {
	sender := uuid.New()
	conversation := groupConversation(sender, uuid.New())
	messages := newFakeMessageStore()
	svc := NewService(messages, newFakeConversationStore(conversation), nil)

	base := time.Now().UTC()
	first, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)
	first.CreatedAt = base
	second, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)
	second.CreatedAt = base.Add(time.Second)

	require.Equal(t, second.MessageID, *conversation.LastMessageID)

	// Deleting the latest repoints to the previous message
	require.NoError(t, svc.Delete(context.Background(), second.MessageID, sender))
	require.NotNil(t, conversation.LastMessageID)
	assert.Equal(t, first.MessageID, *conversation.LastMessageID)

	// Deleting the only remaining message clears the pointer
	require.NoError(t, svc.Delete(context.Background(), first.MessageID, sender))
	assert.Nil(t, conversation.LastMessageID)
}

func TestDelete_LeavesPointerWhenNotLast(t *testing.T) {
	sender := uuid.New()
	conversation := groupConversation(sender, uuid.New())
	messages := newFakeMessageStore()
	svc := NewService(messages, newFakeConversationStore(conversation), nil)

	base := time.Now().UTC()
	first, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)
	first.CreatedAt = base
	second, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)
	second.CreatedAt = base.Add(time.Second)

	require.NoError(t, svc.Delete(context.Background(), first.MessageID, sender))

	require.NotNil(t, conversation.LastMessageID)
	assert.Equal(t, second.MessageID, *conversation.LastMessageID)
}

func TestDelete_OnlySender(t *testing.T) {
	sender := uuid.New()
	other := uuid.New()
	conversation := groupConversation(sender, other)
	svc := NewService(newFakeMessageStore(), newFakeConversationStore(conversation), nil)

	sent, err := svc.Send(context.Background(), sendInput(conversation.ConversationID, sender))
	require.NoError(t, err)

	err = svc.Delete(context.Background(), sent.MessageID, other)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

	err = svc.Delete(context.Background(), uuid.New(), sender)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMessageNotFound))
}
