package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which event ids a watcher has already handled.
type Deduper interface {
	// Claim returns true the first time id is seen.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets id so a failed delivery can be retried.
	Release(ctx context.Context, id string) error
}

// MemoryDeduper keeps the most recent ids in process memory.
type MemoryDeduper struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	max   int
}

func NewMemoryDeduper(max int) *MemoryDeduper {
	if max <= 0 {
		max = 10_000
	}
	return &MemoryDeduper{seen: make(map[string]struct{}), max: max}
}

func (d *MemoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false, nil
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.max {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; !ok {
		return nil
	}
	delete(d.seen, id)
	// a stale entry would later evict the id's next claim
	if i := slices.Index(d.order, id); i >= 0 {
		d.order = slices.Delete(d.order, i, i+1)
	}
	return nil
}

// KeyValue is the part of *redis.Client used by RedisDeduper.
type KeyValue interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDeduper shares claims between watcher replicas.
type RedisDeduper struct {
	client KeyValue
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client KeyValue, prefix string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	return d.client.Del(ctx, d.prefix+id).Err()
}
