package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sunshine.org/internal/dao"
)

type op struct {
	account dao.AccountID
	amt     dao.Amount
	debit   bool
}

// Journal applies debits and credits to a Service and remembers them until
// Reset, so a command that fails after moving external funds can be undone
// with Compensate.
type Journal struct {
	svc   Service
	mu    sync.Mutex
	ops   []op
	bound Service
}

func NewJournal(svc Service) *Journal {
	return &Journal{svc: svc}
}

// Bind sends movements to svc, a transactional view of the wrapped Service,
// until unbind is called. Bound movements are undone by rolling svc back, so
// they are not recorded for Compensate.
func (j *Journal) Bind(svc Service) (unbind func()) {
	j.mu.Lock()
	j.bound = svc
	j.mu.Unlock()
	return func() {
		j.mu.Lock()
		j.bound = nil
		j.mu.Unlock()
	}
}

func (j *Journal) target() (Service, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.bound != nil {
		return j.bound, true
	}
	return j.svc, false
}

func (j *Journal) Debit(ctx context.Context, account dao.AccountID, amt dao.Amount) error {
	svc, bound := j.target()
	if _, err := svc.Debit(ctx, account, amt); err != nil {
		return err
	}
	if !bound {
		j.record(op{account: account, amt: amt, debit: true})
	}
	return nil
}

func (j *Journal) Credit(ctx context.Context, account dao.AccountID, amt dao.Amount) error {
	svc, bound := j.target()
	if _, err := svc.Credit(ctx, account, amt); err != nil {
		return err
	}
	if !bound {
		j.record(op{account: account, amt: amt})
	}
	return nil
}

func (j *Journal) record(o op) {
	j.mu.Lock()
	j.ops = append(j.ops, o)
	j.mu.Unlock()
}

// Reset forgets every recorded movement.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.ops = nil
	j.mu.Unlock()
}

// Compensate reverses the recorded movements newest first and resets.
func (j *Journal) Compensate(ctx context.Context) error {
	j.mu.Lock()
	ops := j.ops
	j.ops = nil
	j.mu.Unlock()

	var errs []error
	for i := len(ops) - 1; i >= 0; i-- {
		o := ops[i]
		var err error
		if o.debit {
			_, err = j.svc.Credit(ctx, o.account, o.amt)
		} else {
			_, err = j.svc.Debit(ctx, o.account, o.amt)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("compensate %s %d: %w", o.account, o.amt, err))
		}
	}
	return errors.Join(errs...)
}
