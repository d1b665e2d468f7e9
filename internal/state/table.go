package state

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Table is a keyed set of rows. Values are stored by value; V must not hold
// maps or slices that are mutated after Put.
type Table[K comparable, V any] struct {
	store *Store
	name  string
	rows  map[K]V
	keys  map[string]K
}

// NewTable registers a table named name in s.
func NewTable[K comparable, V any](s *Store, name string) *Table[K, V] {
	t := &Table[K, V]{
		store: s,
		name:  name,
		rows:  make(map[K]V),
		keys:  make(map[string]K),
	}
	s.register(t)
	return t
}

// Get returns the row for k.
func (t *Table[K, V]) Get(k K) (V, bool) {
	v, ok := t.rows[k]
	return v, ok
}

// Has reports whether k exists.
func (t *Table[K, V]) Has(k K) bool {
	_, ok := t.rows[k]
	return ok
}

// Put inserts or replaces the row for k.
func (t *Table[K, V]) Put(k K, v V) {
	enc := t.encodeKey(k)
	prev, existed := t.rows[k]
	t.store.markDirty(t.name, enc, func() {
		if existed {
			t.rows[k] = prev
			return
		}
		delete(t.rows, k)
		delete(t.keys, enc)
	})
	t.rows[k] = v
	t.keys[enc] = k
}

// Delete removes the row for k, if any.
func (t *Table[K, V]) Delete(k K) {
	prev, existed := t.rows[k]
	if !existed {
		return
	}
	enc := t.encodeKey(k)
	t.store.markDirty(t.name, enc, func() {
		t.rows[k] = prev
		t.keys[enc] = k
	})
	delete(t.rows, k)
	delete(t.keys, enc)
}

// Len returns the number of rows.
func (t *Table[K, V]) Len() int { return len(t.rows) }

// Scan calls fn for every row in unspecified order until fn returns false.
func (t *Table[K, V]) Scan(fn func(K, V) bool) {
	for k, v := range t.rows {
		if !fn(k, v) {
			return
		}
	}
}

func (t *Table[K, V]) tableName() string { return t.name }

func (t *Table[K, V]) encodeKey(k K) string {
	b, err := json.Marshal(k)
	if err != nil {
		panic(fmt.Errorf("state: encode key for %s: %w", t.name, err))
	}
	return string(b)
}

func (t *Table[K, V]) encodedRow(key string) (jsoniter.RawMessage, bool, error) {
	k, ok := t.keys[key]
	if !ok {
		return nil, false, nil
	}
	v, ok := t.rows[k]
	if !ok {
		return nil, false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (t *Table[K, V]) snapshot() (map[string]jsoniter.RawMessage, error) {
	out := make(map[string]jsoniter.RawMessage, len(t.rows))
	for enc, k := range t.keys {
		raw, err := json.Marshal(t.rows[k])
		if err != nil {
			return nil, err
		}
		out[enc] = raw
	}
	return out, nil
}

func (t *Table[K, V]) restore(rows map[string]jsoniter.RawMessage) error {
	nextRows := make(map[K]V, len(rows))
	nextKeys := make(map[string]K, len(rows))
	for enc, raw := range rows {
		var k K
		if err := json.Unmarshal([]byte(enc), &k); err != nil {
			return fmt.Errorf("decode key %s: %w", enc, err)
		}
		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode row %s: %w", enc, err)
		}
		nextRows[k] = v
		nextKeys[t.encodeKey(k)] = k
	}
	t.rows = nextRows
	t.keys = nextKeys
	return nil
}
