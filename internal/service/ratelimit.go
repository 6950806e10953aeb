package service

import (
	"context"
	"time"
)

// ChatCallLimit caps AI-backed chat calls per conversation per calendar
// day. Counting is scoped to "today", so the quota resets at local
// midnight on its own.
const ChatCallLimit = 10

// AllowChatCall reports whether the conversation may make another
// AI-backed chat call today. Denials happen before the LLM is invoked.
func (s *Service) AllowChatCall(ctx context.Context, chatID string, now time.Time) (bool, error) {
	count, err := s.Utterances.CountBotRepliesOn(ctx, chatID, today(now))
	if err != nil {
		return false, err
	}
	return count < ChatCallLimit, nil
}
