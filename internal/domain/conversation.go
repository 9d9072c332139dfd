package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversation types
const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
)

// Participant roles
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Security levels, inherited by messages at send time
const (
	SecurityLevelHigh   = "high"
	SecurityLevelMedium = "medium"
	SecurityLevelLow    = "low"
)

// Participant represents a user in a conversation
// Maps to CockroachDB conversation_participants table; slice order follows joined_at
type Participant struct {
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Role     string    `json:"role" db:"role"` // admin, member
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// Settings represents per-conversation security settings
type Settings struct {
	MessageRetentionDays int  `json:"message_retention_days" db:"retention_days"` // 0 = unlimited
	EncryptionEnabled    bool `json:"is_encryption_enabled" db:"encryption_enabled"`
	ScreenshotAllowed    bool `json:"is_screenshot_allowed" db:"screenshot_allowed"`
	ForwardingAllowed    bool `json:"is_forwarding_allowed" db:"forwarding_allowed"`
}

// Metadata represents display metadata stored on the conversation record.
// Archived/Pinned live here too: they are record-level flags, not
// per-viewing-user state.
type Metadata struct {
	Icon        string `json:"icon,omitempty" db:"icon"`
	Color       string `json:"color,omitempty" db:"color"`
	Description string `json:"description,omitempty" db:"description"`
	IsArchived  bool   `json:"is_archived" db:"is_archived"`
	IsPinned    bool   `json:"is_pinned" db:"is_pinned"`
}

// Conversation represents a direct (2-party) or group (N-party) chat
// Maps to CockroachDB conversations table
type Conversation struct {
	ConversationID uuid.UUID     `json:"conversation_id" db:"conversation_id"`
	Type           string        `json:"type" db:"type"` // direct, group
	Name           *string       `json:"name,omitempty" db:"name"`
	PairKey        *string       `json:"-" db:"pair_key"` // canonical direct-pair key, unique
	Participants   []Participant `json:"participants"`
	GroupKey       string        `json:"group_key" db:"group_key"` // opaque key material, never interpreted
	KeyRotatedAt   time.Time     `json:"key_rotation_timestamp" db:"key_rotated_at"`
	SecurityLevel  string        `json:"security_level" db:"security_level"`
	LastMessageID  *uuid.UUID    `json:"last_message_id,omitempty" db:"last_message_id"`
	Settings       Settings      `json:"settings"`
	Metadata       Metadata      `json:"metadata"`
	CreatedBy      uuid.UUID     `json:"created_by" db:"created_by"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// DefaultSettings returns the settings applied to new conversations
func DefaultSettings() Settings {
	return Settings{
		MessageRetentionDays: 0,
		EncryptionEnabled:    true,
		ScreenshotAllowed:    false,
		ForwardingAllowed:    true,
	}
}

// DirectPairKey builds the canonical key identifying an unordered user pair.
// A unique index on this key is what prevents duplicate direct conversations.
func DirectPairKey(a, b uuid.UUID) string {
	first, second := a.String(), b.String()
	if strings.Compare(first, second) > 0 {
		first, second = second, first
	}
	return first + ":" + second
}

// IsParticipant reports whether the user belongs to the conversation
func (c *Conversation) IsParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user holds the admin role
func (c *Conversation) IsAdmin(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p.Role == RoleAdmin
		}
	}
	return false
}

// AdminIDs returns the identifiers of all admins in participant order
func (c *Conversation) AdminIDs() []uuid.UUID {
	var admins []uuid.UUID
	for _, p := range c.Participants {
		if p.Role == RoleAdmin {
			admins = append(admins, p.UserID)
		}
	}
	return admins
}

// AddMember appends a participant with the given role. Adding an existing
// member is a no-op; callers that must treat a duplicate as an error check
// IsParticipant first. Returns whether the participant set changed.
func (c *Conversation) AddMember(userID uuid.UUID, role string, now time.Time) bool {
	if c.IsParticipant(userID) {
		return false
	}
	c.Participants = append(c.Participants, Participant{
		UserID:   userID,
		Role:     role,
		JoinedAt: now,
	})
	return true
}

// RemoveMember removes a participant and their admin role. When the removal
// empties the admin set while members remain, the earliest remaining
// participant is promoted so a non-degenerate group always keeps at least
// one admin. Returns the promoted user, if any, and whether a participant
// was removed. Pure transition: no persistence side effects.
func (c *Conversation) RemoveMember(userID uuid.UUID) (promoted *uuid.UUID, removed bool) {
	idx := -1
	for i, p := range c.Participants {
		if p.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}

	c.Participants = append(c.Participants[:idx], c.Participants[idx+1:]...)

	if c.Type != ConversationTypeGroup || len(c.Participants) == 0 {
		return nil, true
	}

	for _, p := range c.Participants {
		if p.Role == RoleAdmin {
			return nil, true
		}
	}

	c.Participants[0].Role = RoleAdmin
	id := c.Participants[0].UserID
	return &id, true
}
