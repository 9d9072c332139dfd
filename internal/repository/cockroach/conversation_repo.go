package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/domain"
	apperrors "github.com/bzaromedia/securi-comm-network-sub001/pkg/errors"
)

// ConversationRepository handles conversation and participant storage.
// Structural mutations go through Mutate, which serializes concurrent
// writers on the same conversation with a row lock.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

const conversationColumns = `
	conversation_id, type, name, pair_key, group_key, key_rotated_at,
	security_level, last_message_id, retention_days, encryption_enabled,
	screenshot_allowed, forwarding_allowed, icon, color, description,
	is_archived, is_pinned, created_by, created_at, updated_at
`

// Create inserts a conversation and its initial participant set in one
// transaction. Returns a Conflict error when the direct pair key is already
// taken, so callers can re-fetch the winning record.
func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err = tx.Exec(ctx, query,
		conversation.ConversationID,
		conversation.Type,
		conversation.Name,
		conversation.PairKey,
		conversation.GroupKey,
		conversation.KeyRotatedAt,
		conversation.SecurityLevel,
		conversation.LastMessageID,
		conversation.Settings.MessageRetentionDays,
		conversation.Settings.EncryptionEnabled,
		conversation.Settings.ScreenshotAllowed,
		conversation.Settings.ForwardingAllowed,
		conversation.Metadata.Icon,
		conversation.Metadata.Color,
		conversation.Metadata.Description,
		conversation.Metadata.IsArchived,
		conversation.Metadata.IsPinned,
		conversation.CreatedBy,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ConflictError("conversation already exists")
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	if err := insertParticipants(ctx, tx, conversation.ConversationID, conversation.Participants); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}

	return nil
}

// GetByID retrieves a conversation with its participants
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE conversation_id = $1`

	conversation, err := scanConversation(r.pool.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ConversationNotFoundError()
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	participants, err := r.loadParticipants(ctx, r.pool, conversationID)
	if err != nil {
		return nil, err
	}
	conversation.Participants = participants

	return conversation, nil
}

// FindDirectByPairKey looks up the direct conversation for a canonical
// unordered pair key. Returns (nil, nil) when no record exists.
func (r *ConversationRepository) FindDirectByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE pair_key = $1`

	conversation, err := scanConversation(r.pool.QueryRow(ctx, query, pairKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find direct conversation: %w", err)
	}

	participants, err := r.loadParticipants(ctx, r.pool, conversation.ConversationID)
	if err != nil {
		return nil, err
	}
	conversation.Participants = participants

	return conversation, nil
}

// ListForUser retrieves conversations the user participates in, most
// recently updated first
func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error) {
	query := `
		SELECT ` + qualifiedConversationColumns() + `
		FROM conversations c
		INNER JOIN conversation_participants cp ON c.conversation_id = cp.conversation_id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}

	for _, conversation := range conversations {
		participants, err := r.loadParticipants(ctx, r.pool, conversation.ConversationID)
		if err != nil {
			return nil, err
		}
		conversation.Participants = participants
	}

	return conversations, nil
}

// Mutate loads the conversation under a row lock, applies fn to the
// snapshot, and persists the resulting state. Two concurrent mutations of
// the same conversation serialize on the lock, so fn always sees the latest
// committed state. An error from fn aborts the transaction unchanged.
func (r *ConversationRepository) Mutate(ctx context.Context, conversationID uuid.UUID, fn func(*domain.Conversation) error) (*domain.Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE conversation_id = $1 FOR UPDATE`

	conversation, err := scanConversation(tx.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ConversationNotFoundError()
		}
		return nil, fmt.Errorf("failed to lock conversation: %w", err)
	}

	participants, err := r.loadParticipants(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	conversation.Participants = participants

	if err := fn(conversation); err != nil {
		return nil, err
	}

	updateQuery := `
		UPDATE conversations SET
			name = $2, group_key = $3, key_rotated_at = $4, security_level = $5,
			last_message_id = $6, retention_days = $7, encryption_enabled = $8,
			screenshot_allowed = $9, forwarding_allowed = $10, icon = $11,
			color = $12, description = $13, is_archived = $14, is_pinned = $15,
			updated_at = $16
		WHERE conversation_id = $1
	`

	_, err = tx.Exec(ctx, updateQuery,
		conversation.ConversationID,
		conversation.Name,
		conversation.GroupKey,
		conversation.KeyRotatedAt,
		conversation.SecurityLevel,
		conversation.LastMessageID,
		conversation.Settings.MessageRetentionDays,
		conversation.Settings.EncryptionEnabled,
		conversation.Settings.ScreenshotAllowed,
		conversation.Settings.ForwardingAllowed,
		conversation.Metadata.Icon,
		conversation.Metadata.Color,
		conversation.Metadata.Description,
		conversation.Metadata.IsArchived,
		conversation.Metadata.IsPinned,
		conversation.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID); err != nil {
		return nil, fmt.Errorf("failed to clear participants: %w", err)
	}
	if err := insertParticipants(ctx, tx, conversationID, conversation.Participants); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit conversation update: %w", err)
	}

	return conversation, nil
}

// Delete deletes a conversation; participants cascade via foreign key
func (r *ConversationRepository) Delete(ctx context.Context, conversationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// queryer abstracts pool and transaction for participant loads
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *ConversationRepository) loadParticipants(ctx context.Context, q queryer, conversationID uuid.UUID) ([]domain.Participant, error) {
	query := `
		SELECT user_id, role, joined_at
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at ASC, user_id ASC
	`

	rows, err := q.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}

	return participants, nil
}

func insertParticipants(ctx context.Context, tx pgx.Tx, conversationID uuid.UUID, participants []domain.Participant) error {
	query := `
		INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`
	for _, p := range participants {
		if _, err := tx.Exec(ctx, query, conversationID, p.UserID, p.Role, p.JoinedAt); err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
	}
	return nil
}

// row abstracts pgx.Row and pgx.Rows for conversation scanning
type row interface {
	Scan(dest ...any) error
}

func scanConversation(r row) (*domain.Conversation, error) {
	conversation := &domain.Conversation{}
	err := r.Scan(
		&conversation.ConversationID,
		&conversation.Type,
		&conversation.Name,
		&conversation.PairKey,
		&conversation.GroupKey,
		&conversation.KeyRotatedAt,
		&conversation.SecurityLevel,
		&conversation.LastMessageID,
		&conversation.Settings.MessageRetentionDays,
		&conversation.Settings.EncryptionEnabled,
		&conversation.Settings.ScreenshotAllowed,
		&conversation.Settings.ForwardingAllowed,
		&conversation.Metadata.Icon,
		&conversation.Metadata.Color,
		&conversation.Metadata.Description,
		&conversation.Metadata.IsArchived,
		&conversation.Metadata.IsPinned,
		&conversation.CreatedBy,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return conversation, nil
}

func qualifiedConversationColumns() string {
	return `
		c.conversation_id, c.type, c.name, c.pair_key, c.group_key, c.key_rotated_at,
		c.security_level, c.last_message_id, c.retention_days, c.encryption_enabled,
		c.screenshot_allowed, c.forwarding_allowed, c.icon, c.color, c.description,
		c.is_archived, c.is_pinned, c.created_by, c.created_at, c.updated_at
	`
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
