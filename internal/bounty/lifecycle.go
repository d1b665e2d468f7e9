// Package bounty implements treasury-escrowed work requests: post,
// contribute, submit, approve and pay.
package bounty

import (
	"context"
	"fmt"
	"sort"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/org"
	"sunshine.org/internal/state"
	"sunshine.org/internal/treasury"
)

const (
	seqBounties    = "bounties"
	seqSubmissions = "submissions"
)

// Lifecycle owns the bounties, submissions and contributions tables.
type Lifecycle struct {
	bounties      *state.Table[dao.BountyID, Bounty]
	submissions   *state.Table[dao.SubmissionID, Submission]
	contributions *state.Table[contributionKey, Contribution]
	seq           *state.Sequences
	orgs          *org.Registry
	banks         *treasury.Ledger
}

func NewLifecycle(s *state.Store, seq *state.Sequences, orgs *org.Registry, banks *treasury.Ledger) *Lifecycle {
	return &Lifecycle{
		bounties:      state.NewTable[dao.BountyID, Bounty](s, "bounties"),
		submissions:   state.NewTable[dao.SubmissionID, Submission](s, "submissions"),
		contributions: state.NewTable[contributionKey, Contribution](s, "contributions"),
		seq:           seq,
		orgs:          orgs,
		banks:         banks,
	}
}

func (l *Lifecycle) Get(id dao.BountyID) (Bounty, error) {
	b, ok := l.bounties.Get(id)
	if !ok {
		return Bounty{}, fmt.Errorf("%w: %d", ErrBountyNotFound, id)
	}
	return b, nil
}

// List returns the bounties of org (all when org is 0) ordered by id.
func (l *Lifecycle) List(id dao.OrgID) []Bounty {
	var out []Bounty
	l.bounties.Scan(func(_ dao.BountyID, b Bounty) bool {
		if id == 0 || b.Org == id {
			out = append(out, b)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Lifecycle) Submission(id dao.SubmissionID) (Submission, error) {
	s, ok := l.submissions.Get(id)
	if !ok {
		return Submission{}, fmt.Errorf("%w: %d", ErrSubmissionNotFound, id)
	}
	return s, nil
}

// Submissions returns the submissions for a bounty ordered by id.
func (l *Lifecycle) Submissions(id dao.BountyID) []Submission {
	var out []Submission
	l.submissions.Scan(func(_ dao.SubmissionID, s Submission) bool {
		if s.Bounty == id {
			out = append(out, s)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Contributions returns the contributors of a bounty ordered by account.
func (l *Lifecycle) Contributions(id dao.BountyID) []Contribution {
	var out []Contribution
	l.contributions.Scan(func(k contributionKey, c Contribution) bool {
		if k.Bounty == id {
			out = append(out, c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Post escrows amount from caller into a new bank controlled by the bounty's
// escrow account.
func (l *Lifecycle) Post(ctx context.Context, caller dao.AccountID, id dao.OrgID, description dao.ContentRef, amount dao.Amount) (Bounty, error) {
	if err := requireRef(description); err != nil {
		return Bounty{}, err
	}
	if err := dao.ValidateAmount(amount); err != nil {
		return Bounty{}, err
	}
	if _, err := l.orgs.Get(id); err != nil {
		return Bounty{}, err
	}
	bid := dao.BountyID(l.seq.Next(seqBounties))
	bank, err := l.banks.OpenEscrow(ctx, caller, id, amount, dao.EscrowAccount(bid))
	if err != nil {
		return Bounty{}, err
	}
	b := Bounty{
		ID:          bid,
		Org:         id,
		Description: description,
		Depositer:   caller,
		Bank:        bank.ID,
		Total:       bank.Free,
	}
	l.bounties.Put(bid, b)
	l.addContribution(bid, caller, amount)
	return b, nil
}

// Contribute adds amount from caller to the escrow.
func (l *Lifecycle) Contribute(ctx context.Context, caller dao.AccountID, id dao.BountyID, amount dao.Amount) (Bounty, Contribution, error) {
	b, err := l.Get(id)
	if err != nil {
		return Bounty{}, Contribution{}, err
	}
	bank, err := l.banks.DepositFree(ctx, caller, b.Bank, amount)
	if err != nil {
		return Bounty{}, Contribution{}, err
	}
	b.Total = bank.Free
	l.bounties.Put(id, b)
	c := l.addContribution(id, caller, amount)
	return b, c, nil
}

func (l *Lifecycle) addContribution(id dao.BountyID, who dao.AccountID, amount dao.Amount) Contribution {
	k := contributionKey{Bounty: id, Account: who}
	c, ok := l.contributions.Get(k)
	if !ok {
		c = Contribution{Bounty: id, Account: who}
	}
	c.Amount += amount
	l.contributions.Put(k, c)
	return c
}

// Submit records work for review. Nothing is reserved until approval.
func (l *Lifecycle) Submit(caller dao.AccountID, id dao.BountyID, ref dao.ContentRef, requested dao.Amount) (Submission, error) {
	if err := requireRef(ref); err != nil {
		return Submission{}, err
	}
	if err := dao.ValidateAmount(requested); err != nil {
		return Submission{}, err
	}
	if _, err := l.Get(id); err != nil {
		return Submission{}, err
	}
	s := Submission{
		ID:              dao.SubmissionID(l.seq.Next(seqSubmissions)),
		Bounty:          id,
		Submission:      ref,
		Submitter:       caller,
		AmountRequested: requested,
		State:           AwaitingReview,
	}
	l.submissions.Put(s.ID, s)
	return s, nil
}

// Approve pays a submission out of escrow. Only the depositer or the org
// sudo may approve, and only once.
func (l *Lifecycle) Approve(ctx context.Context, caller dao.AccountID, id dao.SubmissionID) (Payment, error) {
	s, err := l.Submission(id)
	if err != nil {
		return Payment{}, err
	}
	b, err := l.Get(s.Bounty)
	if err != nil {
		return Payment{}, err
	}
	caps, err := l.orgs.Capabilities(caller, b.Org)
	if err != nil {
		return Payment{}, err
	}
	caps[dao.RoleDepositer] = caller == b.Depositer
	if err := caps.Require(caller, dao.RoleDepositer, dao.RoleSudo); err != nil {
		return Payment{}, err
	}
	if s.State == Approved {
		return Payment{}, fmt.Errorf("%w: submission %d", ErrAlreadyApproved, id)
	}
	if s.AmountRequested > b.Total {
		return Payment{}, fmt.Errorf("%w: requested %d, bounty %d holds %d", ErrInsufficientBountyFunds, s.AmountRequested, b.ID, b.Total)
	}
	bank, err := l.banks.SpendFromFree(ctx, dao.EscrowAccount(b.ID), b.Bank, s.Submitter, s.AmountRequested)
	if err != nil {
		return Payment{}, err
	}
	b.Total = bank.Free
	s.State = Approved
	l.bounties.Put(b.ID, b)
	l.submissions.Put(s.ID, s)
	return Payment{Bounty: b, Submission: s}, nil
}

// CheckEscrow verifies that the bounty total matches its escrow bank.
func (l *Lifecycle) CheckEscrow(id dao.BountyID) error {
	b, err := l.Get(id)
	if err != nil {
		return err
	}
	bank, err := l.banks.Get(b.Bank)
	if err != nil {
		return err
	}
	if bank.Free != b.Total || bank.Reserved != 0 {
		return fmt.Errorf("bounty %d: total %d != escrow free %d (reserved %d)", id, b.Total, bank.Free, bank.Reserved)
	}
	return nil
}

func requireRef(ref dao.ContentRef) error {
	if ref.IsZero() {
		return ErrMissingContentRef
	}
	return ref.Validate()
}
