package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/repository"
)

type summaryRepository struct {
	db *sql.DB
}

// NewSummaryRepository creates a new summary repository
func NewSummaryRepository(db *sql.DB) repository.SummaryRepository {
	return &summaryRepository{db: db}
}

func (r *summaryRepository) Get(ctx context.Context, childID, parentID int64, kind models.ReportKind, year int, month, day *int) (*models.PeriodicSummary, error) {
	query := `
		SELECT id, child_id, parent_id, kind, year, month, day, content, created_at
		FROM periodic_summaries
		WHERE child_id = $1 AND parent_id = $2 AND kind = $3 AND year = $4
		  AND month IS NOT DISTINCT FROM $5 AND day IS NOT DISTINCT FROM $6`

	s := &models.PeriodicSummary{}
	err := r.db.QueryRowContext(ctx, query, childID, parentID, kind, year, month, day).Scan(
		&s.ID,
		&s.ChildID,
		&s.ParentID,
		&s.Kind,
		&s.Year,
		&s.Month,
		&s.Day,
		&s.Content,
		&s.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get periodic summary: %w", err)
	}

	return s, nil
}

func (r *summaryRepository) Upsert(ctx context.Context, s *models.PeriodicSummary) (*models.PeriodicSummary, error) {
	query := `
		INSERT INTO periodic_summaries (child_id, parent_id, kind, year, month, day, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (child_id, parent_id, kind, year, month, day)
		DO UPDATE SET content = EXCLUDED.content
		RETURNING id, created_at`

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx, query,
		s.ChildID,
		s.ParentID,
		s.Kind,
		s.Year,
		s.Month,
		s.Day,
		s.Content,
		s.CreatedAt,
	).Scan(&s.ID, &s.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to upsert periodic summary: %w", err)
	}

	return s, nil
}

func (r *summaryRepository) GetCounter(ctx context.Context, ownerID int64, kind models.ReportKind, year int, month, day *int) (*models.AIUsageCounter, error) {
	query := `
		SELECT id, owner_id, kind, year, month, day, calls, last_called_at
		FROM ai_usage_counters
		WHERE owner_id = $1 AND kind = $2 AND year = $3
		  AND month IS NOT DISTINCT FROM $4 AND day IS NOT DISTINCT FROM $5`

	c := &models.AIUsageCounter{}
	err := r.db.QueryRowContext(ctx, query, ownerID, kind, year, month, day).Scan(
		&c.ID,
		&c.OwnerID,
		&c.Kind,
		&c.Year,
		&c.Month,
		&c.Day,
		&c.Calls,
		&c.LastCalledAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get AI usage counter: %w", err)
	}

	return c, nil
}

func (r *summaryRepository) BumpCounter(ctx context.Context, ownerID int64, kind models.ReportKind, year int, month, day *int, at time.Time) error {
	query := `
		INSERT INTO ai_usage_counters (owner_id, kind, year, month, day, calls, last_called_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (owner_id, kind, year, month, day)
		DO UPDATE SET calls = ai_usage_counters.calls + 1, last_called_at = EXCLUDED.last_called_at`

	_, err := r.db.ExecContext(ctx, query, ownerID, kind, year, month, day, at)
	if err != nil {
		return fmt.Errorf("failed to bump AI usage counter: %w", err)
	}

	return nil
}
