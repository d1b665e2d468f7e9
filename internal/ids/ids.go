// Package ids mints the ULIDs that key events and ledger entries. Ids from
// one process sort in creation order, even within the same millisecond.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func next(at time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy)
}

// NewEventID keys a journaled event. The id is stable across replays and is
// what watchers deduplicate on.
func NewEventID(at time.Time) string {
	return next(at).String()
}

// NewEntryID keys one external ledger movement.
func NewEntryID(at time.Time) string {
	return next(at).String()
}

// RunTag is a short lowercase suffix for names that must not collide
// between runs, such as smoke test accounts.
func RunTag() string {
	id := next(time.Now()).String()
	return strings.ToLower(id[len(id)-6:])
}

// Time returns when id was minted.
func Time(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
