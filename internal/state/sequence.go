package state

// Sequences allocates journaled, monotonically increasing ids. A rolled back
// transaction gives its ids back.
type Sequences struct {
	t *Table[string, uint64]
}

// NewSequences registers the "sequences" table in s.
func NewSequences(s *Store) *Sequences {
	return &Sequences{t: NewTable[string, uint64](s, "sequences")}
}

// Next returns the next id for name, starting at 1.
func (q *Sequences) Next(name string) uint64 {
	cur, _ := q.t.Get(name)
	cur++
	q.t.Put(name, cur)
	return cur
}

// Peek returns the last id handed out for name.
func (q *Sequences) Peek(name string) uint64 {
	cur, _ := q.t.Get(name)
	return cur
}
