package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/repository"
)

type ledgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sql.DB) repository.LedgerRepository {
	return &ledgerRepository{db: db}
}

const ledgerColumns = `id, child_id, parent_id, detail, category, kind, amount, remaining, entry_date, sync_token, chat_id, written_by, created_at, updated_at`

func scanEntry(scan func(dest ...any) error) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{}
	err := scan(
		&entry.ID,
		&entry.ChildID,
		&entry.ParentID,
		&entry.Detail,
		&entry.Category,
		&entry.Kind,
		&entry.Amount,
		&entry.Remaining,
		&entry.EntryDate,
		&entry.SyncToken,
		&entry.ChatID,
		&entry.WrittenBy,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func insertEntry(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	query := `
		INSERT INTO ledger_entries (child_id, parent_id, detail, category, kind, amount, remaining, entry_date, sync_token, chat_id, written_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	err := q.QueryRowContext(ctx, query,
		entry.ChildID,
		entry.ParentID,
		entry.Detail,
		entry.Category,
		entry.Kind,
		entry.Amount,
		entry.Remaining,
		entry.EntryDate,
		entry.SyncToken,
		entry.ChatID,
		entry.WrittenBy,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return entry, nil
}

func (r *ledgerRepository) Create(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	return insertEntry(ctx, r.db, entry)
}

func (r *ledgerRepository) GetByID(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE id = $1`, ledgerColumns)

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ledger entry by ID: %w", err)
	}
	return entry, nil
}

func (r *ledgerRepository) GetBySyncToken(ctx context.Context, token string) (*models.LedgerEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE sync_token = $1`, ledgerColumns)

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, token).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ledger entry by sync token: %w", err)
	}
	return entry, nil
}

func (r *ledgerRepository) GetByChild(ctx context.Context, childID int64) ([]*models.LedgerEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ledger_entries
		WHERE child_id = $1
		ORDER BY entry_date ASC, id ASC`, ledgerColumns)

	return r.queryEntries(ctx, query, childID)
}

func (r *ledgerRepository) GetByChildMonth(ctx context.Context, childID int64, year int, month time.Month) ([]*models.LedgerEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM ledger_entries
		WHERE child_id = $1
		  AND EXTRACT(YEAR FROM entry_date) = $2
		  AND EXTRACT(MONTH FROM entry_date) = $3
		ORDER BY created_at DESC, id DESC`, ledgerColumns)

	return r.queryEntries(ctx, query, childID, year, int(month))
}

func (r *ledgerRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (r *ledgerRepository) HasEntries(ctx context.Context, childID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE child_id = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, childID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check ledger entries for child %d: %w", childID, err)
	}
	return exists, nil
}

func (r *ledgerRepository) AvailableMonths(ctx context.Context, childID int64) ([]string, error) {
	query := `
		SELECT DISTINCT TO_CHAR(entry_date, 'YYYY-MM')
		FROM ledger_entries
		WHERE child_id = $1
		ORDER BY 1 DESC`

	rows, err := r.db.QueryContext(ctx, query, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to query available months: %w", err)
	}
	defer rows.Close()

	var months []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan month: %w", err)
		}
		months = append(months, m)
	}

	return months, rows.Err()
}

func (r *ledgerRepository) UpdateRemaining(ctx context.Context, id int64, remaining int64) error {
	query := `UPDATE ledger_entries SET remaining = $2, updated_at = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, remaining, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update remaining for entry %d: %w", id, err)
	}

	return nil
}

func (r *ledgerRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM ledger_entries WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete ledger entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("ledger entry with ID %d not found", id)
	}

	return nil
}
