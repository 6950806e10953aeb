package models

import "time"

// MemberRole is the resolved role of a conversation member.
type MemberRole string

const (
	RoleParent MemberRole = "parent"
	RoleChild  MemberRole = "child"
)

// Conversation represents a messaging-platform group chat tracked by the
// system, identified by the platform's opaque chat id.
type Conversation struct {
	ID        int64     `json:"id" db:"id"`
	ChatID    string    `json:"chat_id" db:"chat_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Members   []Member  `json:"members,omitempty"`
}

// Member is a participant in a Conversation. Members are created lazily
// with the parent role on first observed message; roles are reassigned
// wholesale by the select-children command.
type Member struct {
	ID             int64      `json:"id" db:"id"`
	ConversationID int64      `json:"conversation_id" db:"conversation_id"`
	UserKey        string     `json:"user_key" db:"user_key"`
	Role           MemberRole `json:"role" db:"role"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// IsChild reports whether the member holds the child role.
func (m *Member) IsChild() bool {
	return m.Role == RoleChild
}
