package treasury

import (
	"context"

	"sunshine.org/internal/dao"
)

// Bank is a pooled account held for an org.
type Bank struct {
	ID         dao.BankID    `json:"id"`
	Org        dao.OrgID     `json:"org"`
	Free       dao.Amount    `json:"free"`
	Reserved   dao.Amount    `json:"reserved"`
	Controller dao.AccountID `json:"controller,omitempty"`
	OpenedBy   dao.AccountID `json:"opened_by"`
}

// Total is free plus reserved.
func (b Bank) Total() dao.Amount { return b.Free + b.Reserved }

// Escrowed reports whether a module account controls the bank. Only that
// module may move its funds.
func (b Bank) Escrowed() bool { return b.Controller.IsModule() }

// Wallets moves value between banks and the external balances of accounts.
type Wallets interface {
	Debit(ctx context.Context, account dao.AccountID, amt dao.Amount) error
	Credit(ctx context.Context, account dao.AccountID, amt dao.Amount) error
}

var (
	ErrBankNotFound      = dao.NewError(dao.KindNotFound, "BankNotFound", "bank account not found")
	ErrBelowMinimum      = dao.NewError(dao.KindInput, "BelowMinimumSeed", "seed amount is below the configured minimum")
	ErrInsufficientFunds = dao.NewError(dao.KindArithmetic, "InsufficientFunds", "insufficient funds")
	ErrBalanceOverflow   = dao.NewError(dao.KindArithmetic, "BalanceOverflow", "bank balance overflow")
	ErrBankNotEmpty      = dao.NewError(dao.KindState, "BankNotEmpty", "bank must be empty before closing")
	ErrEscrowBank        = dao.NewError(dao.KindState, "EscrowBank", "bank is an escrow managed by a module")
)
