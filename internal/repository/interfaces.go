package repository

import (
	"context"
	"errors"
	"time"

	"github.com/moamoa/allowancebot/internal/models"
)

// ErrAlreadyResolved is returned by SyncRepository.CommitEntry when a sync
// record for the token already exists. The unique constraint on the token
// is the linearization point for concurrent confirm/cancel requests.
var ErrAlreadyResolved = errors.New("sync token already resolved")

// UserRepository defines the interface for user data operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Update(ctx context.Context, user *models.User) (*models.User, error)
	SetParent(ctx context.Context, childID, parentID int64) error
	SetTotal(ctx context.Context, id int64, total int64) error
}

// ConversationRepository defines the interface for conversation and member
// data operations
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) (*models.Conversation, error)
	GetByID(ctx context.Context, id int64) (*models.Conversation, error)
	GetByChatID(ctx context.Context, chatID string) (*models.Conversation, error)
	AddMember(ctx context.Context, member *models.Member) (*models.Member, error)
	GetMember(ctx context.Context, conversationID int64, userKey string) (*models.Member, error)
	GetMemberByID(ctx context.Context, id int64) (*models.Member, error)
	FindMemberByKey(ctx context.Context, userKey string) (*models.Member, error)
	GetMembers(ctx context.Context, conversationID int64) ([]*models.Member, error)
	GetMembersByRole(ctx context.Context, conversationID int64, role models.MemberRole) ([]*models.Member, error)
	// ReassignRoles resets every member of the conversation to parent and
	// promotes the given keys to child, as one atomic operation.
	ReassignRoles(ctx context.Context, conversationID int64, childKeys []string) error
}

// UtteranceRepository defines the interface for the append-only message log
type UtteranceRepository interface {
	Create(ctx context.Context, u *models.Utterance) (*models.Utterance, error)
	AttachResponse(ctx context.Context, id int64, response string, day time.Time) error
	CountBotRepliesOn(ctx context.Context, chatID string, day time.Time) (int, error)
}

// LedgerRepository defines the interface for allowance diary entries
type LedgerRepository interface {
	Create(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error)
	GetByID(ctx context.Context, id int64) (*models.LedgerEntry, error)
	GetBySyncToken(ctx context.Context, token string) (*models.LedgerEntry, error)
	GetByChild(ctx context.Context, childID int64) ([]*models.LedgerEntry, error)
	GetByChildMonth(ctx context.Context, childID int64, year int, month time.Month) ([]*models.LedgerEntry, error)
	HasEntries(ctx context.Context, childID int64) (bool, error)
	AvailableMonths(ctx context.Context, childID int64) ([]string, error)
	UpdateRemaining(ctx context.Context, id int64, remaining int64) error
	Delete(ctx context.Context, id int64) error
}

// SyncRepository gates the two-step commit workflow. CommitEntry and
// CancelEntry each run as one transaction so a failure partway never
// leaves a resolved token without matching ledger state.
type SyncRepository interface {
	GetByToken(ctx context.Context, token string) (*models.SyncRecord, error)
	// CommitEntry inserts a SAVED record for the token and the ledger entry
	// in one transaction. Returns ErrAlreadyResolved when the token has a
	// record already.
	CommitEntry(ctx context.Context, token string, entry *models.LedgerEntry) (*models.LedgerEntry, error)
	// CancelEntry deletes the entry tagged with the token (when present)
	// and upserts a CANCELLED record in one transaction. It reports whether
	// an entry was deleted.
	CancelEntry(ctx context.Context, token string) (bool, error)
}

// SummaryRepository defines the interface for cached periodic reports and
// their AI-usage counters
type SummaryRepository interface {
	Get(ctx context.Context, childID, parentID int64, kind models.ReportKind, year int, month, day *int) (*models.PeriodicSummary, error)
	Upsert(ctx context.Context, s *models.PeriodicSummary) (*models.PeriodicSummary, error)
	GetCounter(ctx context.Context, ownerID int64, kind models.ReportKind, year int, month, day *int) (*models.AIUsageCounter, error)
	BumpCounter(ctx context.Context, ownerID int64, kind models.ReportKind, year int, month, day *int, at time.Time) error
}
