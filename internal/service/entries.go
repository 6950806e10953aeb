package service

import (
	"context"
	"fmt"
	"time"

	"github.com/moamoa/allowancebot/internal/models"
)

// EntriesForMonth returns a child's ledger for one month, oldest first.
func (s *Service) EntriesForMonth(ctx context.Context, childID int64, year int, month time.Month) ([]*models.LedgerEntry, error) {
	return s.Ledger.GetByChildMonth(ctx, childID, year, month)
}

// DeleteEntry removes a ledger entry and replays the child's balance.
func (s *Service) DeleteEntry(ctx context.Context, entryID int64) error {
	entry, err := s.Ledger.GetByID(ctx, entryID)
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("entry %d not found", entryID)
	}

	if err := s.Ledger.Delete(ctx, entryID); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	if err := s.RecomputeBalance(ctx, entry.ChildID); err != nil {
		s.logger.WithError(err).Warn("Failed to recompute balance after delete")
	}
	return nil
}
