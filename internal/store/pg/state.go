package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/engine"
	"sunshine.org/internal/events"
	"sunshine.org/internal/ledger"
	"sunshine.org/internal/state"
)

// StateStore writes the rows and events of each committed engine step in one
// database transaction, and loads them back on start.
type StateStore struct {
	db *sql.DB
}

func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

var _ engine.StepPersister = (*StateStore)(nil)

// Persist implements engine.Persister.
func (s *StateStore) Persist(ctx context.Context, changes []state.Change, evts []events.Event) error {
	if len(changes) == 0 && len(evts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := writeStep(ctx, tx, changes, evts); err != nil {
		return err
	}
	return tx.Commit()
}

// BeginStep implements engine.StepPersister. Wallet movements made through
// the step's Funds commit together with its rows and events, or not at all.
func (s *StateStore) BeginStep(ctx context.Context) (engine.Step, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return &step{tx: tx, funds: &Wallets{db: s.db, tx: tx}}, nil
}

type step struct {
	tx    *sql.Tx
	funds *Wallets
}

func (st *step) Funds() ledger.Service { return st.funds }

func (st *step) Persist(ctx context.Context, changes []state.Change, evts []events.Event) error {
	if err := writeStep(ctx, st.tx, changes, evts); err != nil {
		return err
	}
	return st.tx.Commit()
}

func (st *step) Rollback() error {
	if err := st.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func writeStep(ctx context.Context, tx *sql.Tx, changes []state.Change, evts []events.Event) error {
	for _, c := range changes {
		if c.Deleted {
			if _, err := tx.ExecContext(ctx, `delete from state_rows where table_name=$1 and key=$2`, c.Table, c.Key); err != nil {
				return fmt.Errorf("delete %s/%s: %w", c.Table, c.Key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			insert into state_rows(table_name, key, value, updated_at)
			values ($1,$2,$3,now())
			on conflict (table_name, key) do update
			set value = excluded.value, updated_at = excluded.updated_at
		`, c.Table, c.Key, []byte(c.Value)); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", c.Table, c.Key, err)
		}
	}
	for _, e := range evts {
		if _, err := tx.ExecContext(ctx, `
			insert into events(seq, id, type, height, caller, created_at, payload)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, int64(e.Seq), e.ID, string(e.Type), int64(e.Height), string(e.Caller), e.Time, []byte(e.Payload)); err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}
	return nil
}

// Load reads every state row and the whole event log in sequence order.
func (s *StateStore) Load(ctx context.Context) (state.Snapshot, []events.Event, error) {
	rows, err := s.db.QueryContext(ctx, `select table_name, key, value from state_rows`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	snap := state.Snapshot{}
	for rows.Next() {
		var table, key string
		var value []byte
		if err := rows.Scan(&table, &key, &value); err != nil {
			return nil, nil, err
		}
		if snap[table] == nil {
			snap[table] = map[string]jsoniter.RawMessage{}
		}
		snap[table][key] = jsoniter.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	evts, err := s.Events(ctx, 0, 0)
	if err != nil {
		return nil, nil, err
	}
	return snap, evts, nil
}

// Events returns events with seq > after, oldest first. A limit of 0 means
// no limit.
func (s *StateStore) Events(ctx context.Context, after uint64, limit int) ([]events.Event, error) {
	query := `select seq, id, type, height, caller, created_at, payload from events where seq > $1 order by seq asc`
	args := []any{int64(after)}
	if limit > 0 {
		query += ` limit $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e       events.Event
			typ     string
			caller  string
			payload []byte
		)
		if err := rows.Scan(&e.Seq, &e.ID, &typ, &e.Height, &caller, &e.Time, &payload); err != nil {
			return nil, err
		}
		e.Type = events.Type(typ)
		e.Caller = dao.AccountID(caller)
		e.Payload = jsoniter.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}
