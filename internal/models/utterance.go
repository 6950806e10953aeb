package models

import "time"

// Utterance is one append-only row of the raw-message log. Rows are never
// updated except to attach the bot's response (and its calendar day, used
// for quota bucketing) after generation.
type Utterance struct {
	ID          int64      `json:"id" db:"id"`
	UserKey     string     `json:"user_key" db:"user_key"`
	ChatID      string     `json:"chat_id" db:"chat_id"`
	Text        string     `json:"text" db:"text"`
	BlockID     string     `json:"block_id" db:"block_id"`
	Params      string     `json:"params" db:"params"`
	BotResponse *string    `json:"bot_response" db:"bot_response"`
	Day         *time.Time `json:"day" db:"day"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
