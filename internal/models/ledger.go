package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies a ledger entry as income or expense. The
// values are the Korean labels the bot emits and the web UI displays.
type TransactionKind string

const (
	KindIncome  TransactionKind = "수입"
	KindExpense TransactionKind = "지출"
)

// DefaultCategory is assigned when the bot fails to classify an entry.
const DefaultCategory = "기타/지출"

// LedgerEntry is one income/expense record in a child's allowance diary.
// Entries created through the chat-bot carry the sync token that gated
// their confirmation and the external chat id they originated from.
type LedgerEntry struct {
	ID        int64           `json:"id" db:"id"`
	ChildID   int64           `json:"child_id" db:"child_id"`
	ParentID  int64           `json:"parent_id" db:"parent_id"`
	Detail    string          `json:"detail" db:"detail"`
	Category  string          `json:"category" db:"category"`
	Kind      TransactionKind `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Remaining int64           `json:"remaining" db:"remaining"`
	EntryDate time.Time       `json:"entry_date" db:"entry_date"`
	SyncToken *string         `json:"sync_token" db:"sync_token"`
	ChatID    *string         `json:"chat_id" db:"chat_id"`
	WrittenBy MemberRole      `json:"written_by" db:"written_by"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Signed returns the amount with expense entries negated, for balance math.
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.Kind == KindExpense {
		return e.Amount.Neg()
	}
	return e.Amount
}
