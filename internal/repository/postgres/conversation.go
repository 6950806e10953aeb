package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/repository"
)

type conversationRepository struct {
	db *sql.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *sql.DB) repository.ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (chat_id, created_at)
		VALUES ($1, $2)
		RETURNING id, created_at`

	conv.CreatedAt = time.Now()

	err := r.db.QueryRowContext(ctx, query, conv.ChatID, conv.CreatedAt).
		Scan(&conv.ID, &conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	return conv, nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	query := `SELECT id, chat_id, created_at FROM conversations WHERE id = $1`

	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.ChatID,
		&conv.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation by ID: %w", err)
	}

	return conv, nil
}

func (r *conversationRepository) GetByChatID(ctx context.Context, chatID string) (*models.Conversation, error) {
	query := `SELECT id, chat_id, created_at FROM conversations WHERE chat_id = $1`

	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, chatID).Scan(
		&conv.ID,
		&conv.ChatID,
		&conv.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation by chat ID: %w", err)
	}

	return conv, nil
}

func (r *conversationRepository) AddMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	query := `
		INSERT INTO members (conversation_id, user_key, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id, user_key) DO NOTHING
		RETURNING id, created_at, updated_at`

	now := time.Now()
	member.CreatedAt = now
	member.UpdatedAt = now
	if member.Role == "" {
		member.Role = models.RoleParent
	}

	err := r.db.QueryRowContext(ctx, query,
		member.ConversationID,
		member.UserKey,
		member.Role,
		member.CreatedAt,
		member.UpdatedAt,
	).Scan(&member.ID, &member.CreatedAt, &member.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			// Conflict: the member already exists. Return the stored row so
			// the existing role is not disturbed.
			return r.GetMember(ctx, member.ConversationID, member.UserKey)
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	return member, nil
}

func (r *conversationRepository) GetMember(ctx context.Context, conversationID int64, userKey string) (*models.Member, error) {
	query := `
		SELECT id, conversation_id, user_key, role, created_at, updated_at
		FROM members
		WHERE conversation_id = $1 AND user_key = $2`

	return r.scanMemberRow(r.db.QueryRowContext(ctx, query, conversationID, userKey))
}

func (r *conversationRepository) GetMemberByID(ctx context.Context, id int64) (*models.Member, error) {
	query := `
		SELECT id, conversation_id, user_key, role, created_at, updated_at
		FROM members
		WHERE id = $1`

	return r.scanMemberRow(r.db.QueryRowContext(ctx, query, id))
}

func (r *conversationRepository) FindMemberByKey(ctx context.Context, userKey string) (*models.Member, error) {
	query := `
		SELECT id, conversation_id, user_key, role, created_at, updated_at
		FROM members
		WHERE user_key = $1
		ORDER BY id ASC
		LIMIT 1`

	return r.scanMemberRow(r.db.QueryRowContext(ctx, query, userKey))
}

func (r *conversationRepository) scanMemberRow(row *sql.Row) (*models.Member, error) {
	member := &models.Member{}
	err := row.Scan(
		&member.ID,
		&member.ConversationID,
		&member.UserKey,
		&member.Role,
		&member.CreatedAt,
		&member.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

func (r *conversationRepository) GetMembers(ctx context.Context, conversationID int64) ([]*models.Member, error) {
	query := `
		SELECT id, conversation_id, user_key, role, created_at, updated_at
		FROM members
		WHERE conversation_id = $1
		ORDER BY created_at ASC`

	return r.queryMembers(ctx, query, conversationID)
}

func (r *conversationRepository) GetMembersByRole(ctx context.Context, conversationID int64, role models.MemberRole) ([]*models.Member, error) {
	query := `
		SELECT id, conversation_id, user_key, role, created_at, updated_at
		FROM members
		WHERE conversation_id = $1 AND role = $2
		ORDER BY created_at ASC`

	return r.queryMembers(ctx, query, conversationID, role)
}

func (r *conversationRepository) queryMembers(ctx context.Context, query string, args ...any) ([]*models.Member, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member := &models.Member{}
		if err := rows.Scan(
			&member.ID,
			&member.ConversationID,
			&member.UserKey,
			&member.Role,
			&member.CreatedAt,
			&member.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

func (r *conversationRepository) ReassignRoles(ctx context.Context, conversationID int64, childKeys []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin role reassignment: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET role = $2, updated_at = $3 WHERE conversation_id = $1`,
		conversationID, models.RoleParent, now,
	); err != nil {
		return fmt.Errorf("failed to reset member roles: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET role = $3, updated_at = $4 WHERE conversation_id = $1 AND user_key = ANY($2)`,
		conversationID, pq.Array(childKeys), models.RoleChild, now,
	); err != nil {
		return fmt.Errorf("failed to promote children: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role reassignment: %w", err)
	}

	return nil
}
