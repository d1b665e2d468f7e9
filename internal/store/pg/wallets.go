package pg

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/ids"
	"sunshine.org/internal/ledger"
)

// querier is the part of *sql.DB and *sql.Tx the wallet queries need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Wallets keeps external balances in the wallets table with one
// wallet_entries row per movement. A Wallets bound to a step transaction
// moves funds inside it and leaves the commit to the step.
type Wallets struct {
	db *sql.DB
	tx *sql.Tx
}

var _ ledger.Service = (*Wallets)(nil)

func NewWallets(db *sql.DB) *Wallets {
	return &Wallets{db: db}
}

func (w *Wallets) q() querier {
	if w.tx != nil {
		return w.tx
	}
	return w.db
}

func (w *Wallets) Balance(ctx context.Context, account dao.AccountID) (dao.Amount, error) {
	var bal int64
	err := w.q().QueryRowContext(ctx, `select balance from wallets where account=$1`, string(account)).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return dao.Amount(bal), nil
}

func (w *Wallets) Mint(ctx context.Context, account dao.AccountID, amt dao.Amount, idemKey string) (ledger.Entry, error) {
	if err := dao.ValidateAmount(amt); err != nil {
		return ledger.Entry{}, err
	}
	if err := account.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	return w.apply(ctx, account, amt, ledger.KindMint, idemKey)
}

func (w *Wallets) Debit(ctx context.Context, account dao.AccountID, amt dao.Amount) (ledger.Entry, error) {
	if err := dao.ValidateAmount(amt); err != nil {
		return ledger.Entry{}, err
	}
	return w.apply(ctx, account, -amt, ledger.KindDebit, "")
}

func (w *Wallets) Credit(ctx context.Context, account dao.AccountID, amt dao.Amount) (ledger.Entry, error) {
	if err := dao.ValidateAmount(amt); err != nil {
		return ledger.Entry{}, err
	}
	return w.apply(ctx, account, amt, ledger.KindCredit, "")
}

func (w *Wallets) apply(ctx context.Context, account dao.AccountID, delta dao.Amount, kind, idemKey string) (ledger.Entry, error) {
	if w.tx != nil {
		return move(ctx, w.tx, account, delta, kind, idemKey)
	}
	tx, err := w.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	e, err := move(ctx, tx, account, delta, kind, idemKey)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

// move records one movement in tx without committing it.
func move(ctx context.Context, tx *sql.Tx, account dao.AccountID, delta dao.Amount, kind, idemKey string) (ledger.Entry, error) {
	// Idempotency: return the existing entry if idemKey was already recorded
	if idemKey != "" {
		var e ledger.Entry
		var acct string
		err := tx.QueryRowContext(ctx, `
			select id, created_at, account, delta, balance, kind, sequence
			from wallet_entries where idempotency_key=$1
		`, idemKey).Scan(&e.ID, &e.CreatedAt, &acct, &e.Delta, &e.Balance, &e.Kind, &e.Sequence)
		if err == nil {
			e.Account = dao.AccountID(acct)
			e.IdempotencyKey = idemKey
			return e, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return ledger.Entry{}, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		insert into wallets(account, balance) values ($1, 0) on conflict do nothing
	`, string(account)); err != nil {
		return ledger.Entry{}, err
	}
	var cur int64
	if err := tx.QueryRowContext(ctx, `
		select balance from wallets where account=$1 for update
	`, string(account)).Scan(&cur); err != nil {
		return ledger.Entry{}, err
	}
	switch {
	case delta < 0 && cur < int64(-delta):
		return ledger.Entry{}, ledger.ErrInsufficientBalance
	case delta > 0 && cur > math.MaxInt64-int64(delta):
		return ledger.Entry{}, ledger.ErrOverflow
	}
	next := cur + int64(delta)
	if _, err := tx.ExecContext(ctx, `update wallets set balance=$2 where account=$1`, string(account), next); err != nil {
		return ledger.Entry{}, err
	}

	now := time.Now().UTC()
	e := ledger.Entry{
		ID:             ids.NewEntryID(now),
		CreatedAt:      now,
		Account:        account,
		Delta:          delta,
		Balance:        dao.Amount(next),
		Kind:           kind,
		IdempotencyKey: idemKey,
	}
	if err := tx.QueryRowContext(ctx, `
		insert into wallet_entries(id, created_at, account, delta, balance, kind, idempotency_key)
		values ($1,$2,$3,$4,$5,$6,nullif($7,'')) returning sequence
	`, e.ID, e.CreatedAt, string(account), int64(delta), next, kind, idemKey).Scan(&e.Sequence); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (w *Wallets) ListEntries(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Entry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := w.q().QueryContext(ctx, `
		select id, created_at, account, delta, balance, kind, sequence, coalesce(idempotency_key,'')
		from wallet_entries
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []ledger.Entry
	var last uint64
	for rows.Next() {
		var e ledger.Entry
		var acct string
		if err := rows.Scan(&e.ID, &e.CreatedAt, &acct, &e.Delta, &e.Balance, &e.Kind, &e.Sequence, &e.IdempotencyKey); err != nil {
			return nil, 0, err
		}
		e.Account = dao.AccountID(acct)
		res = append(res, e)
		last = e.Sequence
	}
	return res, last, rows.Err()
}

func (w *Wallets) TotalSupply(ctx context.Context) (dao.Amount, error) {
	var total int64
	if err := w.q().QueryRowContext(ctx, `select coalesce(sum(balance),0) from wallets`).Scan(&total); err != nil {
		return 0, err
	}
	return dao.Amount(total), nil
}
