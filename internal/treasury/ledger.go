// Package treasury owns bank balances. Every other component moves funds
// through its operations.
package treasury

import (
	"context"
	"fmt"
	"math"
	"sort"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/org"
	"sunshine.org/internal/state"
)

const seqBanks = "banks"

// Ledger owns the banks table.
type Ledger struct {
	banks   *state.Table[dao.BankID, Bank]
	seq     *state.Sequences
	orgs    *org.Registry
	wallets Wallets
	minSeed dao.Amount
}

func NewLedger(s *state.Store, seq *state.Sequences, orgs *org.Registry, wallets Wallets, minSeed dao.Amount) *Ledger {
	return &Ledger{
		banks:   state.NewTable[dao.BankID, Bank](s, "banks"),
		seq:     seq,
		orgs:    orgs,
		wallets: wallets,
		minSeed: minSeed,
	}
}

// MinSeed is the smallest amount Open accepts.
func (l *Ledger) MinSeed() dao.Amount { return l.minSeed }

// Get returns a bank.
func (l *Ledger) Get(id dao.BankID) (Bank, error) {
	b, ok := l.banks.Get(id)
	if !ok {
		return Bank{}, fmt.Errorf("%w: %d", ErrBankNotFound, id)
	}
	return b, nil
}

// List returns the banks of org (every bank when org is 0) ordered by id.
func (l *Ledger) List(id dao.OrgID) []Bank {
	var out []Bank
	l.banks.Scan(func(_ dao.BankID, b Bank) bool {
		if id == 0 || b.Org == id {
			out = append(out, b)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TotalHeld is the sum of every bank's free and reserved balance.
func (l *Ledger) TotalHeld() dao.Amount {
	var total dao.Amount
	l.banks.Scan(func(_ dao.BankID, b Bank) bool {
		total += b.Total()
		return true
	})
	return total
}

// Open creates a bank for org funded with seed from caller's external
// balance. Anyone may open a bank.
func (l *Ledger) Open(ctx context.Context, caller dao.AccountID, id dao.OrgID, seed dao.Amount, controller dao.AccountID) (Bank, error) {
	if seed < l.minSeed {
		return Bank{}, fmt.Errorf("%w: %d < %d", ErrBelowMinimum, seed, l.minSeed)
	}
	return l.OpenEscrow(ctx, caller, id, seed, controller)
}

// OpenEscrow is Open without the minimum seed. The bounty lifecycle uses it
// for escrow banks controlled by a module account.
func (l *Ledger) OpenEscrow(ctx context.Context, caller dao.AccountID, id dao.OrgID, seed dao.Amount, controller dao.AccountID) (Bank, error) {
	if err := dao.ValidateAmount(seed); err != nil {
		return Bank{}, err
	}
	if _, err := l.orgs.Get(id); err != nil {
		return Bank{}, err
	}
	b := Bank{
		ID:         dao.BankID(l.seq.Next(seqBanks)),
		Org:        id,
		Free:       seed,
		Controller: controller,
		OpenedBy:   caller,
	}
	l.banks.Put(b.ID, b)
	if err := l.wallets.Debit(ctx, caller, seed); err != nil {
		return Bank{}, err
	}
	return b, nil
}

// DepositFree moves amount from caller's external balance into free.
func (l *Ledger) DepositFree(ctx context.Context, caller dao.AccountID, id dao.BankID, amount dao.Amount) (Bank, error) {
	return l.deposit(ctx, caller, id, amount, false)
}

// DepositReserved moves amount from caller's external balance into reserved.
func (l *Ledger) DepositReserved(ctx context.Context, caller dao.AccountID, id dao.BankID, amount dao.Amount) (Bank, error) {
	return l.deposit(ctx, caller, id, amount, true)
}

func (l *Ledger) deposit(ctx context.Context, caller dao.AccountID, id dao.BankID, amount dao.Amount, reserved bool) (Bank, error) {
	if err := dao.ValidateAmount(amount); err != nil {
		return Bank{}, err
	}
	b, err := l.Get(id)
	if err != nil {
		return Bank{}, err
	}
	if b.Total() > math.MaxInt64-amount {
		return Bank{}, ErrBalanceOverflow
	}
	if reserved {
		b.Reserved += amount
	} else {
		b.Free += amount
	}
	l.banks.Put(id, b)
	if err := l.wallets.Debit(ctx, caller, amount); err != nil {
		return Bank{}, err
	}
	return b, nil
}

// Reserve earmarks amount of free funds.
func (l *Ledger) Reserve(caller dao.AccountID, id dao.BankID, amount dao.Amount) (Bank, error) {
	b, err := l.authorized(caller, id)
	if err != nil {
		return Bank{}, err
	}
	if err := dao.ValidateAmount(amount); err != nil {
		return Bank{}, err
	}
	if b.Free < amount {
		return Bank{}, fmt.Errorf("%w: bank %d free %d < %d", ErrInsufficientFunds, id, b.Free, amount)
	}
	b.Free -= amount
	b.Reserved += amount
	l.banks.Put(id, b)
	return b, nil
}

// Unreserve releases amount of reserved funds back to free.
func (l *Ledger) Unreserve(caller dao.AccountID, id dao.BankID, amount dao.Amount) (Bank, error) {
	b, err := l.authorized(caller, id)
	if err != nil {
		return Bank{}, err
	}
	if err := dao.ValidateAmount(amount); err != nil {
		return Bank{}, err
	}
	if b.Reserved < amount {
		return Bank{}, fmt.Errorf("%w: bank %d reserved %d < %d", ErrInsufficientFunds, id, b.Reserved, amount)
	}
	b.Reserved -= amount
	b.Free += amount
	l.banks.Put(id, b)
	return b, nil
}

// SpendFromFree pays dest out of free funds.
func (l *Ledger) SpendFromFree(ctx context.Context, caller dao.AccountID, id dao.BankID, dest dao.AccountID, amount dao.Amount) (Bank, error) {
	return l.spend(ctx, caller, id, dest, amount, false)
}

// SpendFromReserved pays dest out of reserved funds.
func (l *Ledger) SpendFromReserved(ctx context.Context, caller dao.AccountID, id dao.BankID, dest dao.AccountID, amount dao.Amount) (Bank, error) {
	return l.spend(ctx, caller, id, dest, amount, true)
}

func (l *Ledger) spend(ctx context.Context, caller dao.AccountID, id dao.BankID, dest dao.AccountID, amount dao.Amount, reserved bool) (Bank, error) {
	b, err := l.authorized(caller, id)
	if err != nil {
		return Bank{}, err
	}
	if err := dao.ValidateAmount(amount); err != nil {
		return Bank{}, err
	}
	if err := dest.Validate(); err != nil {
		return Bank{}, err
	}
	bal := &b.Free
	if reserved {
		bal = &b.Reserved
	}
	if *bal < amount {
		return Bank{}, fmt.Errorf("%w: bank %d has %d, spending %d", ErrInsufficientFunds, id, *bal, amount)
	}
	*bal -= amount
	l.banks.Put(id, b)
	if err := l.wallets.Credit(ctx, dest, amount); err != nil {
		return Bank{}, err
	}
	return b, nil
}

// Close removes an empty bank.
func (l *Ledger) Close(caller dao.AccountID, id dao.BankID) (Bank, error) {
	b, err := l.authorized(caller, id)
	if err != nil {
		return Bank{}, err
	}
	if b.Free != 0 || b.Reserved != 0 {
		return Bank{}, fmt.Errorf("%w: bank %d holds %d free, %d reserved", ErrBankNotEmpty, id, b.Free, b.Reserved)
	}
	l.banks.Delete(id)
	return b, nil
}

// Capabilities resolves caller's roles on a bank.
func (l *Ledger) Capabilities(caller dao.AccountID, id dao.BankID) (Bank, dao.Capabilities, error) {
	b, err := l.Get(id)
	if err != nil {
		return Bank{}, nil, err
	}
	caps, err := l.orgs.Capabilities(caller, b.Org)
	if err != nil {
		return Bank{}, nil, err
	}
	caps[dao.RoleController] = b.Controller != "" && b.Controller == caller
	return b, caps, nil
}

// authorized loads a bank that caller controls, administers as org sudo, or
// acts on as the org's governance module. Escrow banks answer only to their
// controller.
func (l *Ledger) authorized(caller dao.AccountID, id dao.BankID) (Bank, error) {
	b, caps, err := l.Capabilities(caller, id)
	if err != nil {
		return Bank{}, err
	}
	roles := []dao.Role{dao.RoleController, dao.RoleSudo, dao.RoleModule}
	if b.Escrowed() {
		roles = roles[:1]
	}
	if err := caps.Require(caller, roles...); err != nil {
		return Bank{}, err
	}
	return b, nil
}
