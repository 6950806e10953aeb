package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/moamoa/allowancebot/internal/models"
)

// Selection outcomes surfaced to the webhook so it can choose a response.
var (
	// ErrEmptySelection: no children were mentioned at all.
	ErrEmptySelection = errors.New("no children selected")
	// ErrSelfSelectionOnly: the actor only mentioned themselves.
	ErrSelfSelectionOnly = errors.New("only self-selection given")
	// ErrNoChange: the mentioned set equals the current child set.
	ErrNoChange = errors.New("selected children unchanged")
)

// MaxChildren bounds how many children one conversation may configure.
const MaxChildren = 5

// MentionSummary describes the result of a successful child reassignment.
type MentionSummary struct {
	ChildKeys   []string
	SelfDropped bool
}

// UpsertMembers adds any unseen external key as a new parent-role member of
// the conversation without disturbing existing roles. Per-key failures are
// collected and returned together; callers treat the whole refresh as
// best-effort.
func (s *Service) UpsertMembers(ctx context.Context, conversationID int64, userKeys []string) error {
	var result *multierror.Error
	for _, key := range userKeys {
		if key == "" {
			continue
		}
		_, err := s.Conversations.AddMember(ctx, &models.Member{
			ConversationID: conversationID,
			UserKey:        key,
			Role:           models.RoleParent,
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("member %s: %w", key, err))
		}
	}
	return result.ErrorOrNil()
}

// ReassignChildren performs the all-or-nothing role reset for the
// select-children command: every member becomes a parent, then the
// mentioned keys are promoted to child. Self-selection is dropped; a
// selection identical to the current child set is rejected without a
// write so duplicate command deliveries stay no-ops.
func (s *Service) ReassignChildren(ctx context.Context, conversationID int64, actorKey string, mentionKeys []string) (*MentionSummary, error) {
	seen := make(map[string]bool)
	var childKeys []string
	selfDropped := false
	for _, key := range mentionKeys {
		if key == "" || seen[key] {
			continue
		}
		if key == actorKey {
			selfDropped = true
			continue
		}
		seen[key] = true
		childKeys = append(childKeys, key)
	}

	if len(childKeys) == 0 {
		if selfDropped {
			return nil, ErrSelfSelectionOnly
		}
		return nil, ErrEmptySelection
	}
	if len(childKeys) > MaxChildren {
		childKeys = childKeys[:MaxChildren]
	}

	current, err := s.Conversations.GetMembersByRole(ctx, conversationID, models.RoleChild)
	if err != nil {
		return nil, fmt.Errorf("failed to get current children: %w", err)
	}
	if sameKeySet(current, childKeys) {
		return nil, ErrNoChange
	}

	if err := s.Conversations.ReassignRoles(ctx, conversationID, childKeys); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"children":        len(childKeys),
	}).Info("Reassigned conversation children")

	return &MentionSummary{ChildKeys: childKeys, SelfDropped: selfDropped}, nil
}

func sameKeySet(current []*models.Member, keys []string) bool {
	if len(current) != len(keys) {
		return false
	}
	currentSet := make(map[string]bool, len(current))
	for _, m := range current {
		currentSet[m.UserKey] = true
	}
	for _, k := range keys {
		if !currentSet[k] {
			return false
		}
	}
	return true
}
