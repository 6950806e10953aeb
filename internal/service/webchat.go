package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/moamoa/allowancebot/internal/chatlog"
	"github.com/moamoa/allowancebot/internal/extract"
	"github.com/moamoa/allowancebot/internal/llm"
	"github.com/moamoa/allowancebot/internal/models"
)

// chatApology is returned for free-text chat when the LLM is unavailable.
const chatApology = "죄송해요, 지금은 대답하기가 어려워요."

// WebChatResult is the outcome of one web-chat turn. Saved is non-empty
// when the turn was the child's final confirmation and entries were
// committed.
type WebChatResult struct {
	Reply string               `json:"response,omitempty"`
	Saved []*models.LedgerEntry `json:"plan,omitempty"`
}

// diaryPayload mirrors the JSON array the model emits on a confirmation
// turn.
type diaryPayload struct {
	Detail   string          `json:"diary_detail"`
	Date     string          `json:"today"`
	Category string          `json:"category"`
	Kind     string          `json:"transaction_type"`
	Amount   json.RawMessage `json:"amount"`
}

// WebChat runs one conversational turn for the web UI, keyed by the
// child's user id. When the model answers with its JSON confirmation
// payload, the entries are committed directly (the web surface needs no
// button round-trip) and the child's balance recomputed.
func (s *Service) WebChat(ctx context.Context, child *models.User, parentID int64, input string, now time.Time) (*WebChatResult, error) {
	history := toTurns(s.chat.History(child.ID))

	s.chat.Append(child.ID, chatlog.SpeakerUser, input)

	reply, err := s.llm.Chat(ctx, now, history, input)
	if err != nil {
		if errors.Is(err, llm.ErrRateLimited) {
			return &WebChatResult{Reply: chatApology}, nil
		}
		return nil, err
	}

	s.chat.Append(child.ID, chatlog.SpeakerBot, reply)

	if !strings.Contains(strings.ToLower(reply), "json") {
		return &WebChatResult{Reply: reply}, nil
	}

	payloads, err := decodeDiaryPayloads(reply)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to parse chat confirmation payload")
		return &WebChatResult{Reply: reply}, nil
	}

	saved := make([]*models.LedgerEntry, 0, len(payloads))
	for _, p := range payloads {
		category := p.Category
		if category == "" {
			category = models.DefaultCategory
		}
		kind := models.TransactionKind(p.Kind)
		if kind != models.KindIncome && kind != models.KindExpense {
			kind = models.KindExpense
		}
		entry, err := s.Ledger.Create(ctx, &models.LedgerEntry{
			ChildID:   child.ID,
			ParentID:  parentID,
			Detail:    p.Detail,
			Category:  category,
			Kind:      kind,
			Amount:    extract.ParseAmount(string(p.Amount)),
			Remaining: child.Total,
			EntryDate: extract.ParseDate(p.Date, now),
			WrittenBy: models.RoleChild,
		})
		if err != nil {
			return nil, err
		}
		saved = append(saved, entry)
	}

	if err := s.RecomputeBalance(ctx, child.ID); err != nil {
		s.logger.WithError(err).Warn("Failed to recompute balance after web chat save")
	}

	return &WebChatResult{Reply: "용돈기입장이 성공적으로 저장되었습니다.", Saved: saved}, nil
}

// ChatTurn runs one conversational turn for the webhook's deferred task,
// keyed by the acting member id.
func (s *Service) ChatTurn(ctx context.Context, memberID int64, input string, now time.Time) (string, error) {
	history := toTurns(s.chat.History(memberID))
	s.chat.Append(memberID, chatlog.SpeakerUser, input)

	reply, err := s.llm.Chat(ctx, now, history, input)
	if err != nil {
		return "", err
	}

	s.chat.Append(memberID, chatlog.SpeakerBot, reply)
	return reply, nil
}

func toTurns(msgs []chatlog.Message) []llm.Turn {
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, llm.Turn{FromUser: m.Speaker == chatlog.SpeakerUser, Text: m.Content})
	}
	return turns
}

// decodeDiaryPayloads pulls the JSON array out of a confirmation reply,
// tolerating a markdown fence and single quotes.
func decodeDiaryPayloads(reply string) ([]diaryPayload, error) {
	jsonPart := reply
	if idx := strings.LastIndex(reply, "```json"); idx >= 0 {
		jsonPart = reply[idx+len("```json"):]
	}
	jsonPart = llm.StripCodeFence(jsonPart)
	jsonPart = strings.ReplaceAll(jsonPart, "'", `"`)

	// Keep only the bracketed payload; the model sometimes wraps it in
	// prose or a bare "json" marker.
	if start := strings.IndexAny(jsonPart, "[{"); start >= 0 {
		if end := strings.LastIndexAny(jsonPart, "]}"); end > start {
			jsonPart = jsonPart[start : end+1]
		}
	}

	var payloads []diaryPayload
	if err := json.Unmarshal([]byte(jsonPart), &payloads); err != nil {
		// Single-object form.
		var one diaryPayload
		if err2 := json.Unmarshal([]byte(jsonPart), &one); err2 != nil {
			return nil, err
		}
		payloads = []diaryPayload{one}
	}
	return payloads, nil
}
