// Package ledger tracks the external balances of accounts: the funds a caller
// holds outside any treasury. The governance core debits them when money
// enters a bank and credits them when it leaves.
package ledger

import (
	"context"
	"math"
	"sync"
	"time"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/ids"
)

// Service defines external balance operations.
type Service interface {
	Balance(ctx context.Context, account dao.AccountID) (dao.Amount, error)
	Mint(ctx context.Context, account dao.AccountID, amt dao.Amount, idemKey string) (Entry, error)
	Debit(ctx context.Context, account dao.AccountID, amt dao.Amount) (Entry, error)
	Credit(ctx context.Context, account dao.AccountID, amt dao.Amount) (Entry, error)
	ListEntries(ctx context.Context, limit int, afterSeq uint64) ([]Entry, uint64, error)
	TotalSupply(ctx context.Context) (dao.Amount, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	balances map[dao.AccountID]dao.Amount
	seq      uint64
	entries  []Entry
	idem     map[string]Entry // idemKey -> entry
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[dao.AccountID]dao.Amount),
		idem:     make(map[string]Entry),
	}
}

func (s *InMemory) Balance(ctx context.Context, account dao.AccountID) (dao.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[account], nil
}

// Mint creates new supply on account. It is the genesis endowment path and
// is not reachable from the governance command surface.
func (s *InMemory) Mint(ctx context.Context, account dao.AccountID, amt dao.Amount, idemKey string) (Entry, error) {
	if err := dao.ValidateAmount(amt); err != nil {
		return Entry{}, err
	}
	if err := account.Validate(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if idemKey != "" {
		if e, ok := s.idem[idemKey]; ok {
			return e, nil
		}
	}
	e, err := s.apply(account, amt, KindMint, idemKey)
	if err != nil {
		return Entry{}, err
	}
	if idemKey != "" {
		s.idem[idemKey] = e
	}
	return e, nil
}

func (s *InMemory) Debit(ctx context.Context, account dao.AccountID, amt dao.Amount) (Entry, error) {
	if err := dao.ValidateAmount(amt); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[account] < amt {
		return Entry{}, ErrInsufficientBalance
	}
	return s.apply(account, -amt, KindDebit, "")
}

func (s *InMemory) Credit(ctx context.Context, account dao.AccountID, amt dao.Amount) (Entry, error) {
	if err := dao.ValidateAmount(amt); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(account, amt, KindCredit, "")
}

func (s *InMemory) apply(account dao.AccountID, delta dao.Amount, kind, idemKey string) (Entry, error) {
	cur := s.balances[account]
	if delta > 0 && cur > math.MaxInt64-delta {
		return Entry{}, ErrOverflow
	}
	s.balances[account] = cur + delta
	s.seq++
	now := time.Now().UTC()
	e := Entry{
		ID:             ids.NewEntryID(now),
		CreatedAt:      now,
		Account:        account,
		Delta:          delta,
		Balance:        cur + delta,
		Kind:           kind,
		IdempotencyKey: idemKey,
		Sequence:       s.seq,
	}
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *InMemory) ListEntries(ctx context.Context, limit int, afterSeq uint64) ([]Entry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Entry
	var last uint64
	for _, e := range s.entries {
		if e.Sequence <= afterSeq {
			continue
		}
		res = append(res, e)
		last = e.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

func (s *InMemory) TotalSupply(ctx context.Context) (dao.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total dao.Amount
	for _, b := range s.balances {
		total += b
	}
	return total, nil
}
