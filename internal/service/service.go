package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moamoa/allowancebot/internal/auth"
	"github.com/moamoa/allowancebot/internal/chatlog"
	"github.com/moamoa/allowancebot/internal/llm"
	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/repository"
)

// defaultPassword is assigned to users bootstrapped from chat; they can
// only ever sign in through magic-token links.
const defaultPassword = "kakao_default_pwd"

// Service is the central business logic layer that holds all repositories
// and provides high-level methods for the application.
type Service struct {
	db     *sql.DB
	logger *logrus.Logger
	llm    llm.Chatter
	chat   *chatlog.Store

	Users         repository.UserRepository
	Conversations repository.ConversationRepository
	Utterances    repository.UtteranceRepository
	Ledger        repository.LedgerRepository
	Syncs         repository.SyncRepository
	Summaries     repository.SummaryRepository
}

// New creates a new Service with all required dependencies.
func New(db *sql.DB, logger *logrus.Logger, chatter llm.Chatter, chat *chatlog.Store,
	users repository.UserRepository,
	conversations repository.ConversationRepository,
	utterances repository.UtteranceRepository,
	ledger repository.LedgerRepository,
	syncs repository.SyncRepository,
	summaries repository.SummaryRepository,
) *Service {
	return &Service{
		db: db, logger: logger, llm: chatter, chat: chat,
		Users: users, Conversations: conversations, Utterances: utterances,
		Ledger: ledger, Syncs: syncs, Summaries: summaries,
	}
}

// Transcript returns the in-memory chat history for the given owner.
func (s *Service) Transcript(ownerID int64) []chatlog.Message {
	return s.chat.History(ownerID)
}

// EnsureConversation retrieves the conversation for the given external chat
// id, creating it lazily on first contact.
func (s *Service) EnsureConversation(ctx context.Context, chatID string) (*models.Conversation, error) {
	conv, err := s.Conversations.GetByChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup conversation (chat_id=%s): %w", chatID, err)
	}
	if conv != nil {
		return conv, nil
	}

	conv, err = s.Conversations.Create(ctx, &models.Conversation{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation (chat_id=%s): %w", chatID, err)
	}
	s.logger.Infof("Created new conversation (chat_id=%s)", chatID)
	return conv, nil
}

// ensureUserForKey retrieves the user backing an external member key,
// creating one lazily with a default credential when absent.
func (s *Service) ensureUserForKey(ctx context.Context, userKey, firstName string) (*models.User, error) {
	user, err := s.Users.GetByUsername(ctx, userKey)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	hash, err := auth.HashPassword(defaultPassword)
	if err != nil {
		return nil, err
	}

	user, err = s.Users.Create(ctx, &models.User{
		Username:     userKey,
		PasswordHash: hash,
		FirstName:    firstName,
		IsActive:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap user for key %s: %w", userKey, err)
	}
	s.logger.Infof("Bootstrapped user %d for member key %s", user.ID, userKey)
	return user, nil
}

// today truncates now to its calendar date.
func today(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
