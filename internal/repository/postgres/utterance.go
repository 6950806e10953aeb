package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/repository"
)

type utteranceRepository struct {
	db *sql.DB
}

// NewUtteranceRepository creates a new utterance repository
func NewUtteranceRepository(db *sql.DB) repository.UtteranceRepository {
	return &utteranceRepository{db: db}
}

func (r *utteranceRepository) Create(ctx context.Context, u *models.Utterance) (*models.Utterance, error) {
	query := `
		INSERT INTO utterances (user_key, chat_id, text, block_id, params, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	u.CreatedAt = time.Now()

	err := r.db.QueryRowContext(ctx, query,
		u.UserKey,
		u.ChatID,
		u.Text,
		u.BlockID,
		u.Params,
		u.CreatedAt,
	).Scan(&u.ID, &u.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to create utterance: %w", err)
	}

	return u, nil
}

func (r *utteranceRepository) AttachResponse(ctx context.Context, id int64, response string, day time.Time) error {
	query := `UPDATE utterances SET bot_response = $2, day = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, response, day)
	if err != nil {
		return fmt.Errorf("failed to attach bot response to utterance %d: %w", id, err)
	}

	return nil
}

func (r *utteranceRepository) CountBotRepliesOn(ctx context.Context, chatID string, day time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM utterances
		WHERE chat_id = $1 AND day = $2 AND bot_response IS NOT NULL`

	var count int
	err := r.db.QueryRowContext(ctx, query, chatID, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bot replies: %w", err)
	}

	return count, nil
}
