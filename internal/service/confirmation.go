package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/moamoa/allowancebot/internal/extract"
	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/repository"
)

// SyncState is the resolution state of a sync token. A proposed entry has
// no record yet; the record appears only when the token is resolved.
type SyncState int

const (
	SyncNone SyncState = iota
	SyncSaved
	SyncCancelled
)

// Outcome classifies what a confirm or cancel did, so the webhook can pick
// the matching user-facing response.
type Outcome int

const (
	// OutcomeSaved: the entry was committed and the token marked SAVED.
	OutcomeSaved Outcome = iota
	// OutcomeDuplicate: the token was already SAVED; nothing changed.
	OutcomeDuplicate
	// OutcomeStale: the token was CANCELLED before this confirm arrived;
	// the confirm is rejected and no entry is created.
	OutcomeStale
	// OutcomeCancelled: a committed entry was deleted and the token marked
	// CANCELLED.
	OutcomeCancelled
	// OutcomeCancelledEmpty: no entry existed; the token is marked
	// CANCELLED so a late confirm will be rejected.
	OutcomeCancelledEmpty
	// OutcomeDataError: the payload carried no usable candidate data or the
	// acting member could not be resolved.
	OutcomeDataError
)

type transition struct {
	state    SyncState
	confirm  bool
	hasEntry bool
}

// transitions covers every (record state, command, entry-exists)
// combination explicitly. hasEntry distinguishes cancels that must delete
// from cancels that only park a CANCELLED marker; a confirm never honors a
// token whose record already exists, whatever the ledger holds.
var transitions = map[transition]Outcome{
	{SyncNone, true, false}:      OutcomeSaved,
	{SyncNone, true, true}:       OutcomeDuplicate,
	{SyncSaved, true, false}:     OutcomeDuplicate,
	{SyncSaved, true, true}:      OutcomeDuplicate,
	{SyncCancelled, true, false}: OutcomeStale,
	{SyncCancelled, true, true}:  OutcomeStale,

	{SyncNone, false, false}:      OutcomeCancelledEmpty,
	{SyncNone, false, true}:       OutcomeCancelled,
	{SyncSaved, false, false}:     OutcomeCancelledEmpty,
	{SyncSaved, false, true}:      OutcomeCancelled,
	{SyncCancelled, false, false}: OutcomeCancelledEmpty,
	{SyncCancelled, false, true}:  OutcomeCancelled,
}

// EntryData is the candidate entry round-tripped through the platform's
// button extra payload.
type EntryData struct {
	Detail   string
	Date     string
	Category string
	Kind     string
	Amount   string
}

// ConfirmResult reports what a confirm did and, on OutcomeSaved, the
// committed entry and its owner (used for the web-link button).
type ConfirmResult struct {
	Outcome Outcome
	Entry   *models.LedgerEntry
	Child   *models.User
}

// CancelResult reports what a cancel did.
type CancelResult struct {
	Outcome Outcome
}

func stateOf(record *models.SyncRecord) SyncState {
	switch {
	case record == nil:
		return SyncNone
	case record.Status == models.SyncSaved:
		return SyncSaved
	default:
		return SyncCancelled
	}
}

// Confirm applies the confirm command for the sync token. The member
// reference is the acting member's internal id as round-tripped through
// the button payload, with a fallback to external-key lookup. User
// bootstrap, parent linking, entry insert and sync insert are committed as
// one logical unit; the sync token's unique constraint serializes
// concurrent confirms.
func (s *Service) Confirm(ctx context.Context, memberRef, token string, data *EntryData, now time.Time) (*ConfirmResult, error) {
	if token == "" || data == nil {
		return &ConfirmResult{Outcome: OutcomeDataError}, nil
	}

	record, err := s.Syncs.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	entry, err := s.Ledger.GetBySyncToken(ctx, token)
	if err != nil {
		return nil, err
	}

	switch transitions[transition{stateOf(record), true, entry != nil}] {
	case OutcomeDuplicate:
		return &ConfirmResult{Outcome: OutcomeDuplicate}, nil
	case OutcomeStale:
		return &ConfirmResult{Outcome: OutcomeStale}, nil
	}

	member, err := s.resolveMember(ctx, memberRef)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return &ConfirmResult{Outcome: OutcomeDataError}, nil
	}

	child, parent, err := s.bootstrapPair(ctx, member)
	if err != nil {
		return nil, err
	}

	conv, err := s.Conversations.GetByID(ctx, member.ConversationID)
	if err != nil {
		return nil, err
	}

	category := data.Category
	if category == "" {
		category = models.DefaultCategory
	}
	kind := models.TransactionKind(data.Kind)
	if kind != models.KindIncome && kind != models.KindExpense {
		kind = models.KindExpense
	}

	newEntry := &models.LedgerEntry{
		ChildID:   child.ID,
		ParentID:  parent.ID,
		Detail:    data.Detail,
		Category:  category,
		Kind:      kind,
		Amount:    extract.ParseAmount(data.Amount),
		Remaining: child.Total,
		EntryDate: extract.ParseDate(data.Date, now),
		WrittenBy: member.Role,
	}
	if conv != nil {
		newEntry.ChatID = &conv.ChatID
	}

	committed, err := s.Syncs.CommitEntry(ctx, token, newEntry)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyResolved) {
			// Lost the race: re-read the record to classify the reply.
			record, rerr := s.Syncs.GetByToken(ctx, token)
			if rerr != nil {
				return nil, rerr
			}
			if stateOf(record) == SyncCancelled {
				return &ConfirmResult{Outcome: OutcomeStale}, nil
			}
			return &ConfirmResult{Outcome: OutcomeDuplicate}, nil
		}
		return nil, err
	}

	if err := s.RecomputeBalance(ctx, child.ID); err != nil {
		s.logger.WithError(err).Warn("Failed to recompute balance after confirm")
	}

	return &ConfirmResult{Outcome: OutcomeSaved, Entry: committed, Child: child}, nil
}

// Cancel applies the cancel command for the sync token. A cancel that
// arrives before any confirm still parks a CANCELLED record so an
// out-of-order confirm is rejected rather than honored.
func (s *Service) Cancel(ctx context.Context, token string) (*CancelResult, error) {
	if token == "" {
		return &CancelResult{Outcome: OutcomeDataError}, nil
	}

	entry, err := s.Ledger.GetBySyncToken(ctx, token)
	if err != nil {
		return nil, err
	}
	record, err := s.Syncs.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	outcome := transitions[transition{stateOf(record), false, entry != nil}]

	if _, err := s.Syncs.CancelEntry(ctx, token); err != nil {
		return nil, err
	}

	if entry != nil {
		if err := s.RecomputeBalance(ctx, entry.ChildID); err != nil {
			s.logger.WithError(err).Warn("Failed to recompute balance after cancel")
		}
	}

	return &CancelResult{Outcome: outcome}, nil
}

// resolveMember resolves the acting member by internal id, falling back to
// treating the reference as an external user key.
func (s *Service) resolveMember(ctx context.Context, memberRef string) (*models.Member, error) {
	if memberRef == "" {
		return nil, nil
	}
	if id, err := strconv.ParseInt(memberRef, 10, 64); err == nil {
		member, err := s.Conversations.GetMemberByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if member != nil {
			return member, nil
		}
	}
	return s.Conversations.FindMemberByKey(ctx, memberRef)
}

// bootstrapPair resolves (creating lazily) the child user behind the
// acting member and the parent user behind the conversation's first
// parent-role member, linking child to parent. A conversation without a
// parent member falls back to the child acting as their own guardian.
func (s *Service) bootstrapPair(ctx context.Context, member *models.Member) (child, parent *models.User, err error) {
	child, err = s.ensureUserForKey(ctx, member.UserKey, fmt.Sprintf("카카오자녀_%d", member.ID))
	if err != nil {
		return nil, nil, err
	}

	parents, err := s.Conversations.GetMembersByRole(ctx, member.ConversationID, models.RoleParent)
	if err != nil {
		return nil, nil, err
	}
	if len(parents) == 0 {
		return child, child, nil
	}

	parentMember := parents[0]
	parent, err = s.ensureUserForKey(ctx, parentMember.UserKey, fmt.Sprintf("카카오부모_%d", parentMember.ID))
	if err != nil {
		return nil, nil, err
	}

	if child.ParentID == nil || *child.ParentID != parent.ID {
		if err := s.Users.SetParent(ctx, child.ID, parent.ID); err != nil {
			return nil, nil, err
		}
		child.ParentID = &parent.ID
	}

	return child, parent, nil
}
