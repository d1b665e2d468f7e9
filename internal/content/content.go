// Package content stores the off-chain bodies that content refs point to:
// constitutions, bounty descriptions, submissions and ballot
// justifications.
package content

import (
	"context"
	"fmt"
	"sync"

	"sunshine.org/internal/dao"
)

// MaxBodySize bounds a single upload.
const MaxBodySize = 1 << 20

var (
	ErrNotFound = dao.NewError(dao.KindNotFound, "ContentNotFound", "content not found")
	ErrTooLarge = dao.NewError(dao.KindInput, "ContentTooLarge", "content body is too large")
	ErrEmpty    = dao.NewError(dao.KindInput, "ContentEmpty", "content body is empty")
)

// Store is content addressed: Put returns the ref of body and storing the
// same body twice is harmless.
type Store interface {
	Put(ctx context.Context, body []byte) (dao.ContentRef, error)
	Get(ctx context.Context, ref dao.ContentRef) ([]byte, error)
}

func checkBody(body []byte) error {
	switch {
	case len(body) == 0:
		return ErrEmpty
	case len(body) > MaxBodySize:
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(body))
	}
	return nil
}

// Memory keeps bodies in process.
type Memory struct {
	mu     sync.RWMutex
	bodies map[dao.ContentRef][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{bodies: make(map[dao.ContentRef][]byte)}
}

func (m *Memory) Put(_ context.Context, body []byte) (dao.ContentRef, error) {
	if err := checkBody(body); err != nil {
		return dao.ContentRef{}, err
	}
	ref := dao.RefFor(body)
	cp := append([]byte(nil), body...)
	m.mu.Lock()
	m.bodies[ref] = cp
	m.mu.Unlock()
	return ref, nil
}

func (m *Memory) Get(_ context.Context, ref dao.ContentRef) ([]byte, error) {
	m.mu.RLock()
	body, ok := m.bodies[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return append([]byte(nil), body...), nil
}
