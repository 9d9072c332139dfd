package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func groupWith(members ...Participant) *Conversation {
	return &Conversation{
		ConversationID: uuid.New(),
		Type:           ConversationTypeGroup,
		Participants:   members,
	}
}

func TestDirectPairKey_OrderIndependent(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	assert.Equal(t, DirectPairKey(a, b), DirectPairKey(b, a))
	assert.NotEqual(t, DirectPairKey(a, b), DirectPairKey(a, uuid.New()))
}

func TestAddMember_Idempotent(t *testing.T) {
	userA := uuid.New()
	userB := uuid.New()
	conv := groupWith(Participant{UserID: userA, Role: RoleAdmin, JoinedAt: time.Now()})

	added := conv.AddMember(userB, RoleMember, time.Now())
	assert.True(t, added)
	assert.Len(t, conv.Participants, 2)

	// Duplicate add is a silent no-op at this level
	added = conv.AddMember(userB, RoleMember, time.Now())
	assert.False(t, added)
	assert.Len(t, conv.Participants, 2)
}

func TestRemoveMember_PromotesEarliestRemaining(t *testing.T) {
	userA := uuid.New()
	userB := uuid.New()
	userC := uuid.New()
	now := time.Now()

	conv := groupWith(
		Participant{UserID: userA, Role: RoleAdmin, JoinedAt: now},
		Participant{UserID: userB, Role: RoleMember, JoinedAt: now.Add(time.Second)},
		Participant{UserID: userC, Role: RoleMember, JoinedAt: now.Add(2 * time.Second)},
	)

	promoted, removed := conv.RemoveMember(userA)

	assert.True(t, removed)
	assert.NotNil(t, promoted)
	assert.Equal(t, userB, *promoted)
	assert.Equal(t, []uuid.UUID{userB}, conv.AdminIDs())
	assert.Len(t, conv.Participants, 2)
}

func TestRemoveMember_NoPromotionWhileAdminRemains(t *testing.T) {
	userA := uuid.New()
	userB := uuid.New()
	now := time.Now()

	conv := groupWith(
		Participant{UserID: userA, Role: RoleAdmin, JoinedAt: now},
		Participant{UserID: userB, Role: RoleAdmin, JoinedAt: now.Add(time.Second)},
	)

	promoted, removed := conv.RemoveMember(userB)

	assert.True(t, removed)
	assert.Nil(t, promoted)
	assert.Equal(t, []uuid.UUID{userA}, conv.AdminIDs())
}

func TestRemoveMember_LastParticipant(t *testing.T) {
	userA := uuid.New()
	conv := groupWith(Participant{UserID: userA, Role: RoleAdmin, JoinedAt: time.Now()})

	promoted, removed := conv.RemoveMember(userA)

	assert.True(t, removed)
	assert.Nil(t, promoted)
	assert.Empty(t, conv.Participants)
}

func TestRemoveMember_UnknownUser(t *testing.T) {
	conv := groupWith(Participant{UserID: uuid.New(), Role: RoleAdmin, JoinedAt: time.Now()})

	promoted, removed := conv.RemoveMember(uuid.New())

	assert.False(t, removed)
	assert.Nil(t, promoted)
	assert.Len(t, conv.Participants, 1)
}

func TestRemoveMember_AdminInvariantUnderSequences(t *testing.T) {
	users := make([]uuid.UUID, 5)
	for i := range users {
		users[i] = uuid.New()
	}

	now := time.Now()
	conv := groupWith(Participant{UserID: users[0], Role: RoleAdmin, JoinedAt: now})
	for i := 1; i < len(users); i++ {
		conv.AddMember(users[i], RoleMember, now.Add(time.Duration(i)*time.Second))
	}

	// Remove in arbitrary order; while participants remain, admins must too
	for _, target := range []uuid.UUID{users[0], users[2], users[4], users[1]} {
		_, removed := conv.RemoveMember(target)
		assert.True(t, removed)
		if len(conv.Participants) > 0 {
			assert.NotEmpty(t, conv.AdminIDs())
		}
	}
}

func TestIsReadBy(t *testing.T) {
	reader := uuid.New()
	msg := &Message{
		ReadBy: []ReadReceipt{{UserID: reader, ReadAt: time.Now()}},
	}

	assert.True(t, msg.IsReadBy(reader))
	assert.False(t, msg.IsReadBy(uuid.New()))
}
