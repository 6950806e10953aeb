package service

import (
	"context"
	"time"

	"github.com/moamoa/allowancebot/internal/models"
)

// RecordUtterance appends one raw message to the audit log. Logging is
// best-effort: failures are logged and swallowed so the caller's response
// path is never aborted by a monitoring write.
func (s *Service) RecordUtterance(ctx context.Context, chatID, userKey, text, blockID, params string) *models.Utterance {
	u, err := s.Utterances.Create(ctx, &models.Utterance{
		UserKey: userKey,
		ChatID:  chatID,
		Text:    text,
		BlockID: blockID,
		Params:  params,
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to record utterance")
		return nil
	}
	return u
}

// AttachBotResponse stores the bot's reply (and its calendar day, the
// quota bucket) on an utterance row. Best-effort like RecordUtterance.
func (s *Service) AttachBotResponse(ctx context.Context, utterance *models.Utterance, response string, now time.Time) {
	if utterance == nil {
		return
	}
	if err := s.Utterances.AttachResponse(ctx, utterance.ID, response, today(now)); err != nil {
		s.logger.WithError(err).Warn("Failed to attach bot response to utterance")
	}
}
