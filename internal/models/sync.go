package models

import "time"

// SyncStatus is the terminal resolution of a sync token.
type SyncStatus string

const (
	SyncSaved     SyncStatus = "SAVED"
	SyncCancelled SyncStatus = "CANCELLED"
)

// SyncRecord maps a one-time sync token to its resolution. The record is
// the sole source of truth for whether a token has already been resolved;
// it outlives the ledger entry it once gated so that stale confirms can be
// detected after a cancel.
type SyncRecord struct {
	ID        int64      `json:"id" db:"id"`
	Token     string     `json:"token" db:"token"`
	Status    SyncStatus `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
