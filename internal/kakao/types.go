// Package kakao implements the chat-platform surface: the webhook router
// that dispatches skill blocks, the response payload builders, and the
// member-list API client.
package kakao

import "encoding/json"

// Payload is the inbound webhook request body.
type Payload struct {
	Bot         Bot         `json:"bot"`
	UserRequest UserRequest `json:"userRequest"`
	Action      Action      `json:"action"`
}

// Bot identifies the bot the platform routed this request through.
type Bot struct {
	ID string `json:"id"`
}

// UserRequest carries the user's utterance and its routing context.
type UserRequest struct {
	Block       Block    `json:"block"`
	Chat        Chat     `json:"chat"`
	User        ChatUser `json:"user"`
	Utterance   string   `json:"utterance"`
	CallbackURL string   `json:"callbackUrl"`
}

// Block is the skill block the platform matched the utterance to.
type Block struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Chat identifies the group chat room.
type Chat struct {
	ID string `json:"id"`
}

// ChatUser is the platform-scoped identity of the sender.
type ChatUser struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Action carries the matched block's parameters and any extra payload a
// button round-tripped back to us.
type Action struct {
	Params       map[string]string      `json:"params"`
	DetailParams map[string]DetailParam `json:"detailParams"`
	ClientExtra  ClientExtra            `json:"clientExtra"`
}

// DetailParam is the platform's resolved form of one action parameter.
type DetailParam struct {
	Origin string `json:"origin"`
	Value  string `json:"value"`
}

// ClientExtra is the payload we attach to confirmation buttons and receive
// back when the user presses one.
type ClientExtra struct {
	Cmd       string     `json:"cmd,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
	SyncID    string     `json:"sync_id,omitempty"`
	DiaryData *DiaryData `json:"diary_data,omitempty"`
}

// DiaryData is the candidate ledger entry round-tripped through a confirm
// button.
type DiaryData struct {
	Detail   string `json:"diary_detail"`
	Date     string `json:"today"`
	Category string `json:"category"`
	Kind     string `json:"transaction_type"`
	Amount   string `json:"amount"`
}

// mentionSlots are the action parameter names the platform fills when the
// utterance mentions chat members, in slot order.
var mentionSlots = []string{
	"sys_user_mention",
	"sys_user_mention1",
	"sys_user_mention2",
	"sys_user_mention3",
	"sys_user_mention4",
}

// mentionParam is the JSON value stored in a mention slot.
type mentionParam struct {
	Type       string `json:"type"`
	BotUserKey string `json:"botUserKey"`
}

// ActionParams is the typed view of the parameters the blocks actually
// consume. Mentions holds the mentioned members' keys in slot order;
// unparsable slots are skipped.
type ActionParams struct {
	Mentions []string
	Date     string
	Location string
	Currency string
	Number   string
}

// ParseActionParams extracts the typed parameters from an action.
func ParseActionParams(a Action) ActionParams {
	var p ActionParams
	for _, slot := range mentionSlots {
		raw, ok := a.Params[slot]
		if !ok || raw == "" {
			continue
		}
		var m mentionParam
		if err := json.Unmarshal([]byte(raw), &m); err != nil || m.BotUserKey == "" {
			continue
		}
		p.Mentions = append(p.Mentions, m.BotUserKey)
	}

	p.Date = a.DetailParams["sys_date"].Origin
	p.Location = a.DetailParams["sys_location"].Origin
	p.Currency = a.DetailParams["sys_unit_currency"].Origin
	p.Number = a.DetailParams["sys_number"].Origin
	return p
}
