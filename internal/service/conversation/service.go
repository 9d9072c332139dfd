package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/domain"
	apperrors "github.com/bzaromedia/securi-comm-network-sub001/pkg/errors"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/logger"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/metrics"
)

// ConversationStore persists conversations and serializes per-record mutations
type ConversationStore interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	FindDirectByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error)
	Mutate(ctx context.Context, conversationID uuid.UUID, fn func(*domain.Conversation) error) (*domain.Conversation, error)
}

// UserStore resolves user identifiers supplied by callers
type UserStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FilterExisting(ctx context.Context, userIDs []uuid.UUID) ([]uuid.UUID, error)
}

// Service handles conversation lifecycle: creation, deduplication,
// membership and admin mutation, key rotation, and settings
type Service struct {
	conversations ConversationStore
	users         UserStore
}

// NewService creates a new conversation service
func NewService(conversations ConversationStore, users UserStore) *Service {
	return &Service{
		conversations: conversations,
		users:         users,
	}
}

// GroupOptions carries optional overrides for new group conversations
type GroupOptions struct {
	SecurityLevel string
	Settings      *domain.Settings
}

// FindOrCreateDirect returns the direct conversation for the unordered pair,
// creating it if absent. Repeated calls with the same pair, in either
// argument order, always resolve to the same record: a unique index on the
// canonical pair key makes the concurrent-create race safe, with the loser
// re-fetching the winning row.
func (s *Service) FindOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	if userA == userB {
		return nil, apperrors.InvalidInputError("direct conversation requires two distinct users")
	}

	existing, err := s.users.FilterExisting(ctx, []uuid.UUID{userA, userB})
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if len(existing) != 2 {
		return nil, apperrors.UserNotFoundError()
	}

	pairKey := domain.DirectPairKey(userA, userB)

	conversation, err := s.conversations.FindDirectByPairKey(ctx, pairKey)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if conversation != nil {
		metrics.ConversationDirectReusedTotal.Inc()
		return conversation, nil
	}

	now := time.Now().UTC()
	conversation = &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeDirect,
		PairKey:        &pairKey,
		Participants: []domain.Participant{
			{UserID: userA, Role: domain.RoleMember, JoinedAt: now},
			{UserID: userB, Role: domain.RoleMember, JoinedAt: now},
		},
		KeyRotatedAt:  now,
		SecurityLevel: domain.SecurityLevelHigh,
		Settings:      domain.DefaultSettings(),
		CreatedBy:     userA,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.conversations.Create(ctx, conversation); err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeConflict) {
			// Lost the race: another request created the pair first
			winner, findErr := s.conversations.FindDirectByPairKey(ctx, pairKey)
			if findErr != nil {
				return nil, apperrors.DatabaseError(findErr)
			}
			if winner != nil {
				metrics.ConversationDirectReusedTotal.Inc()
				return winner, nil
			}
		}
		return nil, apperrors.DatabaseError(err)
	}

	metrics.ConversationCreatedTotal.WithLabelValues(domain.ConversationTypeDirect).Inc()
	logger.Info("direct conversation created",
		zap.String("conversation_id", conversation.ConversationID.String()),
	)

	return conversation, nil
}

// CreateGroup creates a group conversation with the creator as sole admin.
// The participant set is the deduplicated union of the supplied identifiers
// and the creator; identifiers that do not resolve to real users are dropped.
func (s *Service) CreateGroup(ctx context.Context, creator uuid.UUID, name string, participantIDs []uuid.UUID, groupKey string, opts *GroupOptions) (*domain.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.InvalidInputError("group name must not be empty")
	}
	if len(participantIDs) == 0 {
		return nil, apperrors.InvalidInputError("group requires at least one other participant")
	}

	known, err := s.users.FilterExisting(ctx, participantIDs)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if len(known) == 0 {
		return nil, apperrors.UserNotFoundError()
	}

	now := time.Now().UTC()
	participants := []domain.Participant{
		{UserID: creator, Role: domain.RoleAdmin, JoinedAt: now},
	}
	for _, id := range known {
		if id == creator {
			continue
		}
		participants = append(participants, domain.Participant{
			UserID:   id,
			Role:     domain.RoleMember,
			JoinedAt: now,
		})
	}
	if len(participants) < 2 {
		return nil, apperrors.InvalidInputError("group requires at least one other participant")
	}

	securityLevel := domain.SecurityLevelHigh
	settings := domain.DefaultSettings()
	if opts != nil {
		if opts.SecurityLevel != "" {
			securityLevel = opts.SecurityLevel
		}
		if opts.Settings != nil {
			settings = *opts.Settings
		}
	}

	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeGroup,
		Name:           &name,
		Participants:   participants,
		GroupKey:       groupKey,
		KeyRotatedAt:   now,
		SecurityLevel:  securityLevel,
		Settings:       settings,
		CreatedBy:      creator,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.conversations.Create(ctx, conversation); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	metrics.ConversationCreatedTotal.WithLabelValues(domain.ConversationTypeGroup).Inc()
	logger.Info("group conversation created",
		zap.String("conversation_id", conversation.ConversationID.String()),
		zap.Int("participants", len(participants)),
	)

	return conversation, nil
}

// Get retrieves a conversation for a requesting participant
func (s *Service) Get(ctx context.Context, conversationID, requester uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParticipant(requester) {
		return nil, apperrors.ForbiddenError("not a participant of this conversation")
	}
	return conversation, nil
}

// ListForUser retrieves the user's conversations, most recently updated first
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	conversations, err := s.conversations.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return conversations, nil
}

// AddParticipant adds a known user to a group conversation. Unlike the
// participant-array helper on the entity, a duplicate add is an error here.
func (s *Service) AddParticipant(ctx context.Context, conversationID, actor, newUser uuid.UUID) (*domain.Conversation, error) {
	if _, err := s.users.GetByID(ctx, newUser); err != nil {
		return nil, err
	}

	updated, err := s.conversations.Mutate(ctx, conversationID, func(conversation *domain.Conversation) error {
		if conversation.Type != domain.ConversationTypeGroup {
			return apperrors.InvalidOperationError("cannot add participants to a direct conversation")
		}
		if !conversation.IsAdmin(actor) {
			return apperrors.ForbiddenError("only admins can add participants")
		}
		if conversation.IsParticipant(newUser) {
			return apperrors.ConflictError("user is already a participant")
		}

		now := time.Now().UTC()
		conversation.AddMember(newUser, domain.RoleMember, now)
		conversation.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ParticipantAddedTotal.Inc()
	return updated, nil
}

// RemoveParticipant removes a user from a group conversation. Admins can
// remove anyone; any participant can remove themselves. If the removal
// leaves the admin set empty while participants remain, the earliest
// remaining participant is promoted.
func (s *Service) RemoveParticipant(ctx context.Context, conversationID, actor, target uuid.UUID) (*domain.Conversation, error) {
	var promoted *uuid.UUID

	updated, err := s.conversations.Mutate(ctx, conversationID, func(conversation *domain.Conversation) error {
		if conversation.Type != domain.ConversationTypeGroup {
			return apperrors.InvalidOperationError("cannot remove participants from a direct conversation")
		}
		if !conversation.IsAdmin(actor) && actor != target {
			return apperrors.ForbiddenError("only admins can remove other participants")
		}

		var removed bool
		promoted, removed = conversation.RemoveMember(target)
		if !removed {
			return apperrors.NotFoundError("Participant")
		}

		conversation.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ParticipantRemovedTotal.Inc()
	if promoted != nil {
		metrics.AdminPromotedTotal.Inc()
		logger.Info("participant promoted to admin",
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", promoted.String()),
		)
	}

	return updated, nil
}

// RotateKey replaces the conversation's key material and stamps the rotation
// time. Authorization is the caller's responsibility at this layer.
func (s *Service) RotateKey(ctx context.Context, conversationID uuid.UUID, newKey string) (*domain.Conversation, error) {
	updated, err := s.conversations.Mutate(ctx, conversationID, func(conversation *domain.Conversation) error {
		now := time.Now().UTC()
		conversation.GroupKey = newKey
		conversation.KeyRotatedAt = now
		conversation.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.KeyRotationTotal.Inc()
	return updated, nil
}

// UpdatePatch carries optional conversation field updates. Nil fields are
// left untouched; unknown request fields never reach this struct.
type UpdatePatch struct {
	Name                 *string
	Icon                 *string
	Color                *string
	Description          *string
	IsArchived           *bool
	IsPinned             *bool
	SecurityLevel        *string
	MessageRetentionDays *int
	EncryptionEnabled    *bool
	ScreenshotAllowed    *bool
	ForwardingAllowed    *bool
}

func (p *UpdatePatch) touchesIdentity() bool {
	return p.Name != nil || p.Icon != nil || p.Color != nil || p.Description != nil ||
		p.SecurityLevel != nil || p.MessageRetentionDays != nil ||
		p.EncryptionEnabled != nil || p.ScreenshotAllowed != nil || p.ForwardingAllowed != nil
}

// Update applies metadata and settings changes. Identity and security fields
// require admin rights on groups; archive/pin toggles are allowed for any
// participant. Archive/pin are stored on the shared record, so one
// participant's toggle is visible to all.
func (s *Service) Update(ctx context.Context, conversationID, actor uuid.UUID, patch *UpdatePatch) (*domain.Conversation, error) {
	return s.conversations.Mutate(ctx, conversationID, func(conversation *domain.Conversation) error {
		if !conversation.IsParticipant(actor) {
			return apperrors.ForbiddenError("not a participant of this conversation")
		}
		if patch.touchesIdentity() &&
			conversation.Type == domain.ConversationTypeGroup &&
			!conversation.IsAdmin(actor) {
			return apperrors.ForbiddenError("only admins can change group settings")
		}

		if patch.Name != nil {
			trimmed := strings.TrimSpace(*patch.Name)
			if trimmed == "" {
				return apperrors.InvalidInputError("group name must not be empty")
			}
			conversation.Name = &trimmed
		}
		if patch.Icon != nil {
			conversation.Metadata.Icon = *patch.Icon
		}
		if patch.Color != nil {
			conversation.Metadata.Color = *patch.Color
		}
		if patch.Description != nil {
			conversation.Metadata.Description = *patch.Description
		}
		if patch.IsArchived != nil {
			conversation.Metadata.IsArchived = *patch.IsArchived
		}
		if patch.IsPinned != nil {
			conversation.Metadata.IsPinned = *patch.IsPinned
		}
		if patch.SecurityLevel != nil {
			switch *patch.SecurityLevel {
			case domain.SecurityLevelHigh, domain.SecurityLevelMedium, domain.SecurityLevelLow:
				conversation.SecurityLevel = *patch.SecurityLevel
			default:
				return apperrors.InvalidInputError("invalid security level")
			}
		}
		if patch.MessageRetentionDays != nil {
			if *patch.MessageRetentionDays < 0 {
				return apperrors.InvalidInputError("message retention must not be negative")
			}
			conversation.Settings.MessageRetentionDays = *patch.MessageRetentionDays
		}
		if patch.EncryptionEnabled != nil {
			conversation.Settings.EncryptionEnabled = *patch.EncryptionEnabled
		}
		if patch.ScreenshotAllowed != nil {
			conversation.Settings.ScreenshotAllowed = *patch.ScreenshotAllowed
		}
		if patch.ForwardingAllowed != nil {
			conversation.Settings.ForwardingAllowed = *patch.ForwardingAllowed
		}

		conversation.UpdatedAt = time.Now().UTC()
		return nil
	})
}
