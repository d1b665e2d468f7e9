package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
)

const (
	walletsUp = "create table wallets (account text);"
	stateUp   = "create table state_rows (key text);\ncreate index state_rows_key on state_rows(key);"
)

func schema() fstest.MapFS {
	return fstest.MapFS{
		"0001_wallets.up.sql":   {Data: []byte(walletsUp)},
		"0001_wallets.down.sql": {Data: []byte("drop table wallets;")},
		"0002_state.up.sql":     {Data: []byte(stateUp)},
		"0002_state.down.sql":   {Data: []byte("drop table state_rows;")},
	}
}

func newManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, schema(), nil, WithLogger(zap.NewNop())), mock
}

func expectLock(mock sqlmock.Sqlmock) {
	mock.ExpectExec("select pg_advisory_lock").WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec("select pg_advisory_unlock").WithArgs(lockKey).WillReturnResult(sqlmock.NewResult(0, 0))
}

func historyRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name", "checksum", "applied_at"})
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, n := range names {
		sum := ""
		switch n {
		case "0001_wallets.up.sql":
			sum = checksum([]byte(walletsUp))
		case "0002_state.up.sql":
			sum = checksum([]byte(stateUp))
		}
		rows.AddRow(n, sum, at.Add(time.Duration(i)*time.Minute))
	}
	return rows
}

func TestUpAppliesPendingMigrationsWithTheirRecord(t *testing.T) {
	m, mock := newManager(t)

	expectLock(mock)
	mock.ExpectQuery("select name, checksum, applied_at from schema_migrations").
		WillReturnRows(historyRows("0001_wallets.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table state_rows").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index state_rows_key").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_state.up.sql", checksum([]byte(stateUp))).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpRollsBackFileAndRecordTogether(t *testing.T) {
	m, mock := newManager(t)

	expectLock(mock)
	mock.ExpectQuery("select name, checksum, applied_at from schema_migrations").
		WillReturnRows(historyRows("0001_wallets.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table state_rows").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index state_rows_key").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	expectUnlock(mock)

	if err := m.Up(context.Background()); err == nil {
		t.Fatalf("expected the failing statement to abort")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpRefusesEditedMigration(t *testing.T) {
	m, mock := newManager(t)

	expectLock(mock)
	mock.ExpectQuery("select name, checksum, applied_at from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name", "checksum", "applied_at"}).
			AddRow("0001_wallets.up.sql", "0badc0de", time.Now()))
	expectUnlock(mock)

	if err := m.Up(context.Background()); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	m, mock := newManager(t)

	expectLock(mock)
	mock.ExpectQuery("select name, checksum, applied_at from schema_migrations").
		WillReturnRows(historyRows("0001_wallets.up.sql", "0002_state.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table state_rows").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").WithArgs("0002_state.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	if err := m.Down(context.Background()); err != nil {
		t.Fatalf("down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownErrors(t *testing.T) {
	m, mock := newManager(t)
	expectLock(mock)
	mock.ExpectQuery("select name, checksum, applied_at from schema_migrations").
		WillReturnRows(historyRows("0003_missing.up.sql"))
	expectUnlock(mock)
	if err := m.Down(context.Background()); !errors.Is(err, ErrMissingDown) {
		t.Fatalf("expected ErrMissingDown, got %v", err)
	}

	m, mock = newManager(t)
	expectLock(mock)
	mock.ExpectQuery("select name, checksum, applied_at from schema_migrations").WillReturnRows(historyRows())
	expectUnlock(mock)
	if err := m.Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestStatusListsAppliedInOrder(t *testing.T) {
	m, mock := newManager(t)
	expectLock(mock)
	mock.ExpectQuery("select name, checksum, applied_at from schema_migrations").
		WillReturnRows(historyRows("0001_wallets.up.sql", "0002_state.up.sql"))
	expectUnlock(mock)

	got, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(got) != 2 || got[1].Name != "0002_state.up.sql" || got[1].Checksum != checksum([]byte(stateUp)) {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestSplitStatements(t *testing.T) {
	cases := []struct {
		name   string
		script string
		want   []string
	}{
		{"quoted", "insert into t values ('a;b');\nselect 1;", []string{"insert into t values ('a;b');", "select 1;"}},
		{"escaped quote", "insert into t values ('it''s;');", []string{"insert into t values ('it''s;');"}},
		{"comment", "-- drop; nothing\nselect 1;", []string{"-- drop; nothing\nselect 1;"}},
		{"dollar body", "create function f() returns int as $$ select 1; $$ language sql;\nselect 2;",
			[]string{"create function f() returns int as $$ select 1; $$ language sql;", "select 2;"}},
		{"tagged dollar", "do $body$ begin perform 1; end $body$;", []string{"do $body$ begin perform 1; end $body$;"}},
		{"trailing", "select 1;\n\n", []string{"select 1;"}},
	}
	for _, tc := range cases {
		got := splitStatements(tc.script)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: statement %d: expected %q, got %q", tc.name, i, tc.want[i], got[i])
			}
		}
	}
}
