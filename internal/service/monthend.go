package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/moamoa/allowancebot/internal/models"
)

// Month-end report resolution outcomes surfaced to the webhook.
var (
	// ErrNoChildren: the conversation has no configured (or no matching
	// mentioned) children.
	ErrNoChildren = errors.New("no children configured")
	// ErrNoLedgerData: every selected child has an empty ledger.
	ErrNoLedgerData = errors.New("no ledger data for selected children")
)

// MaxReportCards caps how many per-child report cards one response carries.
const MaxReportCards = 3

// ReportTarget pairs a child-role member with their backing user record.
type ReportTarget struct {
	MemberKey string
	Child     *models.User
}

// MonthEndTargets resolves the children a month-end report should cover:
// the conversation's child-role members, narrowed to the mentioned keys
// when any were given, keeping only children with at least one ledger
// entry. The acting parent's user record is bootstrapped and linked to
// each child, and the result is capped at MaxReportCards.
func (s *Service) MonthEndTargets(ctx context.Context, conversationID int64, actorKey string, mentionKeys []string) (*models.User, []ReportTarget, error) {
	children, err := s.Conversations.GetMembersByRole(ctx, conversationID, models.RoleChild)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get children: %w", err)
	}

	if len(mentionKeys) > 0 {
		mentioned := make(map[string]bool, len(mentionKeys))
		for _, k := range mentionKeys {
			mentioned[k] = true
		}
		filtered := children[:0]
		for _, m := range children {
			if mentioned[m.UserKey] {
				filtered = append(filtered, m)
			}
		}
		children = filtered
	}
	if len(children) == 0 {
		return nil, nil, ErrNoChildren
	}

	parent, err := s.ensureUserForKey(ctx, actorKey, fmt.Sprintf("카카오부모_%s", actorKey))
	if err != nil {
		return nil, nil, err
	}

	var targets []ReportTarget
	for _, m := range children {
		child, err := s.ensureUserForKey(ctx, m.UserKey, fmt.Sprintf("카카오자녀_%d", m.ID))
		if err != nil {
			s.logger.WithError(err).Warnf("Failed to resolve child user for member %d", m.ID)
			continue
		}

		has, err := s.Ledger.HasEntries(ctx, child.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check ledger for child %d: %w", child.ID, err)
		}
		if !has {
			continue
		}

		if child.ParentID == nil || *child.ParentID != parent.ID {
			if err := s.Users.SetParent(ctx, child.ID, parent.ID); err != nil {
				s.logger.WithError(err).Warnf("Failed to link child %d to parent %d", child.ID, parent.ID)
			}
		}

		targets = append(targets, ReportTarget{MemberKey: m.UserKey, Child: child})
		if len(targets) >= MaxReportCards {
			break
		}
	}

	if len(targets) == 0 {
		return nil, nil, ErrNoLedgerData
	}
	return parent, targets, nil
}
