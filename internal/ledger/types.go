package ledger

import (
	"time"

	"sunshine.org/internal/dao"
)

// Entry is one signed movement on an external account. Debits carry a
// negative Delta.
type Entry struct {
	ID             string        `json:"id"`
	CreatedAt      time.Time     `json:"created_at"`
	Account        dao.AccountID `json:"account"`
	Delta          dao.Amount    `json:"delta"`
	Balance        dao.Amount    `json:"balance"`
	Kind           string        `json:"kind"` // mint, debit, credit
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	Sequence       uint64        `json:"sequence"` // monotonic sequence number
}

const (
	KindMint   = "mint"
	KindDebit  = "debit"
	KindCredit = "credit"
)

var (
	ErrInsufficientBalance = dao.NewError(dao.KindArithmetic, "InsufficientBalance", "insufficient external balance")
	ErrOverflow            = dao.NewError(dao.KindArithmetic, "Overflow", "balance overflow")
)
