package models

import (
	"time"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryPurchase EntryKind = "purchase"
	EntryUsage    EntryKind = "usage"
	EntryRefund   EntryKind = "refund"
	EntryBonus    EntryKind = "bonus"
)

// Account is a billable principal holding a credit balance. The cached
// balance always equals total_purchased - total_used plus refunds and
// bonuses; only ledger operations mutate it.
type Account struct {
	ID             string    `json:"id" db:"id"`
	Balance        int64     `json:"balance" db:"balance"`
	TotalPurchased int64     `json:"total_purchased" db:"total_purchased"`
	TotalUsed      int64     `json:"total_used" db:"total_used"`
	Version        int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry records one balance change. Entries are append-only and
// never updated or deleted once written.
type LedgerEntry struct {
	ID            string    `json:"id" db:"id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	Amount        int64     `json:"amount" db:"amount"` // negative = debit
	Kind          EntryKind `json:"kind" db:"kind"`
	BalanceBefore int64     `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	Reason        string    `json:"reason" db:"reason"`
	Reference     string    `json:"reference,omitempty" db:"reference"` // idempotency key or payment ref
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
