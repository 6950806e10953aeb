package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RecomputeBalance replays the child's ledger in chronological order,
// rewriting each entry's running remaining and the child's total. Called
// after every entry mutation so balances stay consistent regardless of
// which surface (webhook, web chat, API) changed the ledger.
func (s *Service) RecomputeBalance(ctx context.Context, childID int64) error {
	entries, err := s.Ledger.GetByChild(ctx, childID)
	if err != nil {
		return fmt.Errorf("failed to load ledger for child %d: %w", childID, err)
	}

	balance := decimal.Zero
	for _, entry := range entries {
		balance = balance.Add(entry.Signed())
		remaining := balance.IntPart()
		if remaining != entry.Remaining {
			if err := s.Ledger.UpdateRemaining(ctx, entry.ID, remaining); err != nil {
				return err
			}
		}
	}

	if err := s.Users.SetTotal(ctx, childID, balance.IntPart()); err != nil {
		return err
	}

	return nil
}
