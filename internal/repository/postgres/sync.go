package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/repository"
)

type syncRepository struct {
	db *sql.DB
}

// NewSyncRepository creates a new sync record repository
func NewSyncRepository(db *sql.DB) repository.SyncRepository {
	return &syncRepository{db: db}
}

func (r *syncRepository) GetByToken(ctx context.Context, token string) (*models.SyncRecord, error) {
	query := `SELECT id, token, status, created_at FROM sync_records WHERE token = $1`

	record := &models.SyncRecord{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&record.ID,
		&record.Token,
		&record.Status,
		&record.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}

	return record, nil
}

func (r *syncRepository) CommitEntry(ctx context.Context, token string, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback()

	// The unique constraint on the token serializes concurrent confirms:
	// the second insert fails and the transaction unwinds without touching
	// the ledger.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_records (token, status, created_at) VALUES ($1, $2, $3)`,
		token, models.SyncSaved, time.Now(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrAlreadyResolved
		}
		return nil, fmt.Errorf("failed to insert sync record: %w", err)
	}

	entry.SyncToken = &token
	entry, err = insertEntry(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entry: %w", err)
	}

	return entry, nil
}

func (r *syncRepository) CancelEntry(ctx context.Context, token string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin cancel: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE sync_token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete ledger entry for token: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_records (token, status, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET status = $2`,
		token, models.SyncCancelled, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert cancelled sync record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit cancel: %w", err)
	}

	return deleted > 0, nil
}

// isUniqueViolation reports whether err is a postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
