package pg

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/events"
	"sunshine.org/internal/ledger"
	"sunshine.org/internal/state"
)

func TestDebitRejectsOverdraft(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("insert into wallets").WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select balance from wallets where account").WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(30)))
	mock.ExpectRollback()

	_, err = NewWallets(db).Debit(context.Background(), "alice", 50)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreditRecordsEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("insert into wallets").WithArgs("bob").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select balance from wallets where account").WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(10)))
	mock.ExpectExec("update wallets set balance").WithArgs("bob", int64(35)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into wallet_entries").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "bob", int64(25), int64(35), ledger.KindCredit, "").
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(7)))
	mock.ExpectCommit()

	e, err := NewWallets(db).Credit(context.Background(), "bob", 25)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if e.Balance != 35 || e.Sequence != 7 || e.Delta != 25 || e.Account != "bob" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMintReturnsRecordedEntryForSameKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("from wallet_entries where idempotency_key").WithArgs("genesis-alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "account", "delta", "balance", "kind", "sequence"}).
			AddRow("01HXYZ", created, "alice", int64(100), int64(100), ledger.KindMint, int64(1)))
	mock.ExpectRollback()

	e, err := NewWallets(db).Mint(context.Background(), "alice", 100, "genesis-alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if e.ID != "01HXYZ" || e.Sequence != 1 || !e.CreatedAt.Equal(created) {
		t.Fatalf("unexpected entry %+v", e)
	}
	if _, err := NewWallets(db).Mint(context.Background(), dao.EscrowAccount(1), 5, ""); !errors.Is(err, dao.ErrReservedAccount) {
		t.Fatalf("expected ErrReservedAccount, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPersistWritesRowsAndEventsInOneTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	changes := []state.Change{
		{Table: "banks", Key: "1", Value: []byte(`{"id":1,"free":100}`)},
		{Table: "spends", Key: `{"bank":1,"spend":2}`, Deleted: true},
	}
	evts := []events.Event{{ID: "e1", Seq: 4, Type: events.BankOpened, Height: 9, Caller: "alice", Time: now, Payload: []byte(`{"bank":1}`)}}

	mock.ExpectBegin()
	mock.ExpectExec("insert into state_rows").WithArgs("banks", "1", []byte(`{"id":1,"free":100}`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from state_rows").WithArgs("spends", `{"bank":1,"spend":2}`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into events").WithArgs(int64(4), "e1", "BankOpened", int64(9), "alice", now, []byte(`{"bank":1}`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := NewStateStore(db).Persist(context.Background(), changes, evts); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPersistRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("insert into state_rows").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = NewStateStore(db).Persist(context.Background(), []state.Change{{Table: "orgs", Key: "1", Value: []byte(`{}`)}}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadRebuildsSnapshotAndEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select table_name, key, value from state_rows").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "key", "value"}).
			AddRow("orgs", "1", []byte(`{"id":1}`)).
			AddRow("sequences", `"orgs"`, []byte(`1`)))
	mock.ExpectQuery("from events where seq").WithArgs(int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id", "type", "height", "caller", "created_at", "payload"}).
			AddRow(int64(1), "e1", "OrgRegistered", int64(0), "root", now, []byte(`{"org":1}`)))

	snap, evts, err := NewStateStore(db).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(snap["orgs"]["1"]) != `{"id":1}` || string(snap["sequences"][`"orgs"`]) != "1" {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	if len(evts) != 1 || evts[0].Seq != 1 || evts[0].Type != events.OrgRegistered || evts[0].Caller != "root" {
		t.Fatalf("unexpected events %+v", evts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMigrationsAreEmbedded(t *testing.T) {
	names, err := fs.Glob(Migrations(), "*.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "0001_wallets.up.sql" || names[1] != "0002_state.up.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
}

func TestStepCommitsWalletMovesWithState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("insert into wallets").WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select balance from wallets where account").WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(1000)))
	mock.ExpectExec("update wallets set balance").WithArgs("alice", int64(900)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into wallet_entries").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "alice", int64(-100), int64(900), ledger.KindDebit, "").
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(3)))
	mock.ExpectExec("insert into state_rows").WithArgs("banks", "1", []byte(`{"id":1,"free":100}`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into events").WithArgs(int64(2), "e2", "BankOpened", int64(0), "alice", now, []byte(`{"bank":1}`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	step, err := NewStateStore(db).BeginStep(ctx)
	if err != nil {
		t.Fatalf("begin step: %v", err)
	}
	defer func() { _ = step.Rollback() }()

	if _, err := step.Funds().Debit(ctx, "alice", 100); err != nil {
		t.Fatalf("debit: %v", err)
	}
	changes := []state.Change{{Table: "banks", Key: "1", Value: []byte(`{"id":1,"free":100}`)}}
	evts := []events.Event{{ID: "e2", Seq: 2, Type: events.BankOpened, Caller: "alice", Time: now, Payload: []byte(`{"bank":1}`)}}
	if err := step.Persist(ctx, changes, evts); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := step.Rollback(); err != nil {
		t.Fatalf("rollback after commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStepRollbackDropsWalletMoves(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("insert into wallets").WithArgs("bob").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select balance from wallets where account").WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(10)))
	mock.ExpectExec("update wallets set balance").WithArgs("bob", int64(35)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into wallet_entries").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "bob", int64(25), int64(35), ledger.KindCredit, "").
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(int64(4)))
	mock.ExpectExec("insert into state_rows").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	ctx := context.Background()
	step, err := NewStateStore(db).BeginStep(ctx)
	if err != nil {
		t.Fatalf("begin step: %v", err)
	}
	if _, err := step.Funds().Credit(ctx, "bob", 25); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := step.Persist(ctx, []state.Change{{Table: "banks", Key: "1", Value: []byte(`{}`)}}, nil); err == nil {
		t.Fatalf("expected persist to fail")
	}
	if err := step.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
