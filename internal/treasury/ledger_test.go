package treasury

import (
	"context"
	"errors"
	"testing"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/ledger"
	"sunshine.org/internal/org"
	"sunshine.org/internal/state"
)

type fixture struct {
	ctx     context.Context
	store   *state.Store
	orgs    *org.Registry
	wallets *ledger.InMemory
	banks   *Ledger
	org     dao.OrgID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: state.NewStore(), wallets: ledger.NewInMemory()}
	seq := state.NewSequences(f.store)
	f.orgs = org.NewRegistry(f.store, seq)
	f.banks = NewLedger(f.store, seq, f.orgs, ledger.NewJournal(f.wallets), 10)
	res, err := f.orgs.Register("founder", org.RegisterRequest{Sudo: "root", Flat: []dao.AccountID{"alice", "bob"}})
	if err != nil {
		t.Fatal(err)
	}
	f.org = res.Org
	for _, a := range []dao.AccountID{"alice", "bob", "carol"} {
		if _, err := f.wallets.Mint(f.ctx, a, 1000, ""); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) balance(a dao.AccountID) dao.Amount {
	b, _ := f.wallets.Balance(f.ctx, a)
	return b
}

func (f *fixture) supply(t *testing.T) dao.Amount {
	t.Helper()
	ext, err := f.wallets.TotalSupply(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	return ext + f.banks.TotalHeld()
}

func TestOpenDebitsCaller(t *testing.T) {
	f := newFixture(t)
	if _, err := f.banks.Open(f.ctx, "carol", f.org, 9, ""); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	b, err := f.banks.Open(f.ctx, "carol", f.org, 100, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != 1 || b.Free != 100 || b.Controller != "alice" {
		t.Fatalf("unexpected bank %+v", b)
	}
	if f.balance("carol") != 900 {
		t.Fatalf("expected carol to be debited, got %d", f.balance("carol"))
	}
	if _, err := f.banks.Open(f.ctx, "carol", 42, 100, ""); !errors.Is(err, org.ErrOrgNotFound) {
		t.Fatalf("expected ErrOrgNotFound, got %v", err)
	}
}

func TestOpenFailsWithoutExternalFunds(t *testing.T) {
	f := newFixture(t)
	if err := f.store.Begin(); err != nil {
		t.Fatal(err)
	}
	_, err := f.banks.Open(f.ctx, "dave", f.org, 100, "")
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	f.store.Rollback()
	if len(f.banks.List(0)) != 0 {
		t.Fatalf("rolled back open left a bank behind")
	}
}

func TestConservationAcrossOperations(t *testing.T) {
	f := newFixture(t)
	before := f.supply(t)

	b, err := f.banks.Open(f.ctx, "alice", f.org, 100, "bob")
	if err != nil {
		t.Fatal(err)
	}
	steps := []func() (Bank, error){
		func() (Bank, error) { return f.banks.DepositFree(f.ctx, "carol", b.ID, 50) },
		func() (Bank, error) { return f.banks.DepositReserved(f.ctx, "carol", b.ID, 30) },
		func() (Bank, error) { return f.banks.Reserve("bob", b.ID, 40) },
		func() (Bank, error) { return f.banks.SpendFromFree(f.ctx, "bob", b.ID, "dave", 70) },
		func() (Bank, error) { return f.banks.SpendFromReserved(f.ctx, "root", b.ID, "dave", 20) },
		func() (Bank, error) { return f.banks.Unreserve(dao.GovernanceAccount(f.org), b.ID, 10) },
	}
	for i, step := range steps {
		if _, err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := f.supply(t); got != before {
			t.Fatalf("step %d: supply %d != %d", i, got, before)
		}
	}
	got, _ := f.banks.Get(b.ID)
	// free: 100 + 50 - 40 - 70 + 10; reserved: 30 + 40 - 20 - 10
	if got.Free != 50 || got.Reserved != 40 {
		t.Fatalf("unexpected balances %+v", got)
	}
	if f.balance("dave") != 90 {
		t.Fatalf("expected dave credited 90, got %d", f.balance("dave"))
	}
}

func TestSpendAuthorizationAndUnderflow(t *testing.T) {
	f := newFixture(t)
	b, _ := f.banks.Open(f.ctx, "alice", f.org, 100, "bob")

	if _, err := f.banks.SpendFromFree(f.ctx, "alice", b.ID, "alice", 10); !errors.Is(err, dao.ErrNotAuthorized) {
		t.Fatalf("plain member must not spend: %v", err)
	}
	if _, err := f.banks.SpendFromFree(f.ctx, "bob", b.ID, "alice", 101); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := f.banks.SpendFromReserved(f.ctx, "bob", b.ID, "alice", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := f.banks.SpendFromFree(f.ctx, "bob", b.ID, dao.EscrowAccount(1), 1); !errors.Is(err, dao.ErrReservedAccount) {
		t.Fatalf("expected ErrReservedAccount, got %v", err)
	}
	if _, err := f.banks.DepositFree(f.ctx, "carol", b.ID, 0); !errors.Is(err, dao.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	got, _ := f.banks.Get(b.ID)
	if got.Free != 100 || got.Reserved != 0 {
		t.Fatalf("failed calls changed balances: %+v", got)
	}
}

// Closing requires both balances to be zero; nothing is swept.
func TestCloseRequiresEmptyBank(t *testing.T) {
	f := newFixture(t)
	b, _ := f.banks.Open(f.ctx, "alice", f.org, 100, "")

	if _, err := f.banks.Close("bob", b.ID); !errors.Is(err, dao.ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := f.banks.Close("root", b.ID); !errors.Is(err, ErrBankNotEmpty) {
		t.Fatalf("expected ErrBankNotEmpty, got %v", err)
	}
	if _, err := f.banks.SpendFromFree(f.ctx, "root", b.ID, "alice", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := f.banks.Close("root", b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.banks.Get(b.ID); !errors.Is(err, ErrBankNotFound) {
		t.Fatalf("expected ErrBankNotFound, got %v", err)
	}
	if f.banks.TotalHeld() != 0 {
		t.Fatalf("expected nothing held, got %d", f.banks.TotalHeld())
	}
}

func TestEscrowBankAnswersOnlyToController(t *testing.T) {
	f := newFixture(t)
	escrow := dao.EscrowAccount(1)
	b, err := f.banks.OpenEscrow(f.ctx, "alice", f.org, 5, escrow)
	if err != nil {
		t.Fatalf("escrow banks skip the minimum seed: %v", err)
	}
	if !b.Escrowed() {
		t.Fatalf("expected escrow bank")
	}
	if _, err := f.banks.SpendFromFree(f.ctx, "root", b.ID, "root", 5); !errors.Is(err, dao.ErrNotAuthorized) {
		t.Fatalf("sudo must not drain an escrow: %v", err)
	}
	if _, err := f.banks.SpendFromFree(f.ctx, escrow, b.ID, "bob", 5); err != nil {
		t.Fatal(err)
	}
}
