package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet is the durable record of one agent's funds split. The in-memory
// service state is authoritative at runtime; rows are written through for
// audit and restart recovery.
type Wallet struct {
	gorm.Model `json:"-"`
	AgentID    string          `gorm:"uniqueIndex" json:"agent_id"`
	Available  decimal.Decimal `json:"available"`
	Locked     decimal.Decimal `json:"locked"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Ledger entry types, one per mutating wallet operation.
const (
	EntryDeposit      = "DEPOSIT"
	EntryWithdraw     = "WITHDRAW"
	EntryLock         = "LOCK"
	EntryRelease      = "RELEASE"
	EntrySettleDebit  = "SETTLE_DEBIT"
	EntrySettleCredit = "SETTLE_CREDIT"
	EntryTransferOut  = "TRANSFER_OUT"
	EntryTransferIn   = "TRANSFER_IN"
	EntryFee          = "FEE"
)

// Entry is an immutable audit record of a single wallet mutation. Balances
// are the (available, locked) pair before and after the mutation.
type Entry struct {
	gorm.Model      `json:"-"`
	EntryID         string          `gorm:"uniqueIndex" json:"entry_id"`
	AgentID         string          `gorm:"index" json:"agent_id"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	AvailableBefore decimal.Decimal `json:"available_before"`
	AvailableAfter  decimal.Decimal `json:"available_after"`
	LockedBefore    decimal.Decimal `json:"locked_before"`
	LockedAfter     decimal.Decimal `json:"locked_after"`
	Reason          string          `json:"reason"`
	ReferenceID     string          `gorm:"index" json:"reference_id"`
	Timestamp       time.Time       `json:"timestamp"`
}

// WalletBalance is the caller-facing balance projection.
type WalletBalance struct {
	AgentID   string          `json:"agent_id"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Total     decimal.Decimal `json:"total"`
}
