// Package chatlog keeps a per-owner, in-memory chat transcript used as
// conversation context for the LLM and as the web UI's transcript view.
// The store is process-lifetime only: losing it on restart is acceptable.
package chatlog

import (
	"sync"
	"time"
)

// Speaker identifies who produced a transcript message.
type Speaker string

const (
	SpeakerUser Speaker = "USER"
	SpeakerBot  Speaker = "AI"
)

// Message is one transcript line.
type Message struct {
	Speaker   Speaker   `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a session-scoped transcript cache keyed by owner id. Histories
// are bounded: once a session exceeds maxMessages the oldest lines are
// evicted pairwise so prompts stay within a sane size.
type Store struct {
	mu          sync.RWMutex
	sessions    map[int64][]Message
	maxMessages int
}

// DefaultMaxMessages bounds each session's history.
const DefaultMaxMessages = 40

// NewStore creates an empty transcript store. maxMessages <= 0 selects
// DefaultMaxMessages.
func NewStore(maxMessages int) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Store{
		sessions:    make(map[int64][]Message),
		maxMessages: maxMessages,
	}
}

// Append records a message for the owner, evicting the oldest lines when
// the session is over its bound.
func (s *Store) Append(ownerID int64, speaker Speaker, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.sessions[ownerID], Message{
		Speaker:   speaker,
		Content:   content,
		Timestamp: time.Now(),
	})
	if over := len(msgs) - s.maxMessages; over > 0 {
		msgs = msgs[over:]
	}
	s.sessions[ownerID] = msgs
}

// History returns a copy of the owner's transcript, oldest first.
func (s *Store) History(ownerID int64) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sessions[ownerID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Reset drops the owner's transcript.
func (s *Store) Reset(ownerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, ownerID)
}
