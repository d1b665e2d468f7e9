// Package state keeps every persisted table of the engine in memory behind an
// undo journal, so that a failed command leaves no partial update behind.
package state

import (
	"errors"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrTxActive   = errors.New("state: transaction already active")
	ErrNoTx       = errors.New("state: no active transaction")
	ErrDupTable   = errors.New("state: duplicate table name")
	ErrUnknownTbl = errors.New("state: unknown table")
)

// Change is the post-transaction value of one dirty row.
type Change struct {
	Table   string              `json:"table"`
	Key     string              `json:"key"`
	Value   jsoniter.RawMessage `json:"value,omitempty"`
	Deleted bool                `json:"deleted,omitempty"`
}

// Snapshot maps table name -> encoded key -> encoded row.
type Snapshot map[string]map[string]jsoniter.RawMessage

type table interface {
	tableName() string
	encodedRow(key string) (jsoniter.RawMessage, bool, error)
	snapshot() (map[string]jsoniter.RawMessage, error)
	restore(rows map[string]jsoniter.RawMessage) error
}

type journal struct {
	undo  []func()
	dirty map[string]map[string]struct{}
}

// Store owns a set of named tables.
type Store struct {
	tables map[string]table
	tx     *journal
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{tables: make(map[string]table)}
}

func (s *Store) register(t table) {
	if _, ok := s.tables[t.tableName()]; ok {
		panic(fmt.Errorf("%w: %s", ErrDupTable, t.tableName()))
	}
	s.tables[t.tableName()] = t
}

// Begin starts journaling writes.
func (s *Store) Begin() error {
	if s.tx != nil {
		return ErrTxActive
	}
	s.tx = &journal{dirty: make(map[string]map[string]struct{})}
	return nil
}

// InTx reports whether a transaction is active.
func (s *Store) InTx() bool { return s.tx != nil }

// Changes returns the current value of every row written in the active
// transaction, ordered by table then key.
func (s *Store) Changes() ([]Change, error) {
	if s.tx == nil {
		return nil, ErrNoTx
	}
	names := make([]string, 0, len(s.tx.dirty))
	for name := range s.tx.dirty {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []Change
	for _, name := range names {
		t := s.tables[name]
		keys := make([]string, 0, len(s.tx.dirty[name]))
		for k := range s.tx.dirty[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			raw, ok, err := t.encodedRow(k)
			if err != nil {
				return nil, err
			}
			if !ok {
				out = append(out, Change{Table: name, Key: k, Deleted: true})
				continue
			}
			out = append(out, Change{Table: name, Key: k, Value: raw})
		}
	}
	return out, nil
}

// Commit keeps every write of the active transaction.
func (s *Store) Commit() error {
	if s.tx == nil {
		return ErrNoTx
	}
	s.tx = nil
	return nil
}

// Rollback undoes every write of the active transaction in reverse order.
func (s *Store) Rollback() {
	if s.tx == nil {
		return
	}
	undo := s.tx.undo
	s.tx = nil
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// Snapshot encodes every table.
func (s *Store) Snapshot() (Snapshot, error) {
	out := make(Snapshot, len(s.tables))
	for name, t := range s.tables {
		rows, err := t.snapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", name, err)
		}
		out[name] = rows
	}
	return out, nil
}

// Restore replaces table contents with snap. Tables missing from snap are
// cleared.
func (s *Store) Restore(snap Snapshot) error {
	if s.tx != nil {
		return ErrTxActive
	}
	for name := range snap {
		if _, ok := s.tables[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTbl, name)
		}
	}
	for name, t := range s.tables {
		if err := t.restore(snap[name]); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
	}
	return nil
}

// Apply writes persisted changes (e.g. replayed from storage) outside any
// transaction.
func (s *Store) Apply(changes []Change) error {
	if s.tx != nil {
		return ErrTxActive
	}
	grouped := make(map[string]map[string]jsoniter.RawMessage)
	for _, c := range changes {
		t, ok := s.tables[c.Table]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTbl, c.Table)
		}
		if _, ok := grouped[c.Table]; !ok {
			rows, err := t.snapshot()
			if err != nil {
				return err
			}
			grouped[c.Table] = rows
		}
		if c.Deleted {
			delete(grouped[c.Table], c.Key)
		} else {
			grouped[c.Table][c.Key] = c.Value
		}
	}
	for name, rows := range grouped {
		if err := s.tables[name].restore(rows); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) markDirty(name, key string, undo func()) {
	if s.tx == nil {
		return
	}
	s.tx.undo = append(s.tx.undo, undo)
	if s.tx.dirty[name] == nil {
		s.tx.dirty[name] = make(map[string]struct{})
	}
	s.tx.dirty[name][key] = struct{}{}
}
