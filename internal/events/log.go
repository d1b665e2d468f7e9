package events

import (
	"sort"
	"sync"
)

// Log keeps every committed event in sequence order.
type Log struct {
	mu     sync.RWMutex
	events []Event
}

func NewLog() *Log {
	return &Log{}
}

// Append adds events. They must continue the sequence.
func (l *Log) Append(evts ...Event) {
	l.mu.Lock()
	l.events = append(l.events, evts...)
	l.mu.Unlock()
}

// Last returns the sequence of the newest event, or 0.
func (l *Log) Last() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return 0
	}
	return l.events[len(l.events)-1].Seq
}

// List returns up to limit events with Seq > after and the cursor to pass
// next time.
func (l *Log) List(limit int, after uint64) ([]Event, uint64) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := sort.Search(len(l.events), func(i int) bool { return l.events[i].Seq > after })
	end := start + limit
	if end > len(l.events) {
		end = len(l.events)
	}
	out := make([]Event, end-start)
	copy(out, l.events[start:end])
	next := after
	if len(out) > 0 {
		next = out[len(out)-1].Seq
	}
	return out, next
}
