package engine

import (
	"context"

	"sunshine.org/internal/bounty"
	"sunshine.org/internal/dao"
	"sunshine.org/internal/events"
	"sunshine.org/internal/org"
	"sunshine.org/internal/spend"
	"sunshine.org/internal/treasury"
	"sunshine.org/internal/vote"
)

// Queries read committed state. They take the command lock, so they never
// observe a step in progress.

func (e *Engine) Org(id dao.OrgID) (org.Org, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orgs.Get(id)
}

func (e *Engine) Orgs() []org.Org {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orgs.List()
}

func (e *Engine) Members(id dao.OrgID) ([]org.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.orgs.Get(id); err != nil {
		return nil, err
	}
	return e.orgs.Members(id), nil
}

func (e *Engine) Profile(id dao.OrgID, who dao.AccountID) (org.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.orgs.Get(id); err != nil {
		return org.Profile{}, err
	}
	p, ok := e.orgs.Profile(id, who)
	if !ok {
		return org.Profile{}, org.ErrMemberNotFound
	}
	return p, nil
}

func (e *Engine) Vote(id dao.VoteID) (vote.Vote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.votes.Get(id)
}

func (e *Engine) Ballots(id dao.VoteID) ([]vote.Ballot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.votes.Get(id); err != nil {
		return nil, err
	}
	return e.votes.Ballots(id), nil
}

func (e *Engine) Bank(id dao.BankID) (treasury.Bank, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.banks.Get(id)
}

// Banks lists the banks of an org, or every bank when id is 0.
func (e *Engine) Banks(id dao.OrgID) []treasury.Bank {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.banks.List(id)
}

func (e *Engine) Spend(bank dao.BankID, id dao.SpendID) (spend.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spends.Get(bank, id)
}

func (e *Engine) Spends(bank dao.BankID) ([]spend.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.banks.Get(bank); err != nil {
		return nil, err
	}
	return e.spends.List(bank), nil
}

func (e *Engine) DefaultThreshold(id dao.OrgID) (vote.Threshold, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.orgs.Get(id); err != nil {
		return vote.Threshold{}, err
	}
	return e.spends.DefaultThreshold(id), nil
}

func (e *Engine) Bounty(id dao.BountyID) (bounty.Bounty, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bounties.Get(id)
}

// Bounties lists the bounties of an org, or all of them when id is 0.
func (e *Engine) Bounties(id dao.OrgID) []bounty.Bounty {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bounties.List(id)
}

func (e *Engine) Submission(id dao.SubmissionID) (bounty.Submission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bounties.Submission(id)
}

func (e *Engine) Submissions(id dao.BountyID) ([]bounty.Submission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.bounties.Get(id); err != nil {
		return nil, err
	}
	return e.bounties.Submissions(id), nil
}

func (e *Engine) Contributions(id dao.BountyID) ([]bounty.Contribution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.bounties.Get(id); err != nil {
		return nil, err
	}
	return e.bounties.Contributions(id), nil
}

func (e *Engine) Height() dao.Height {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height()
}

// TotalHeld is the sum of every bank balance.
func (e *Engine) TotalHeld() dao.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.banks.TotalHeld()
}

// Balance is an account's external balance.
func (e *Engine) Balance(ctx context.Context, account dao.AccountID) (dao.Amount, error) {
	return e.funds.Balance(ctx, account)
}

// Events pages through the committed event log.
func (e *Engine) Events(limit int, after uint64) ([]events.Event, uint64) {
	return e.log.List(limit, after)
}

// LastEvent is the sequence of the newest committed event.
func (e *Engine) LastEvent() uint64 {
	return e.log.Last()
}

// CheckInvariants verifies share totals of every org and the escrow of every
// bounty.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.orgs.List() {
		if err := e.orgs.CheckInvariant(o.ID); err != nil {
			return err
		}
	}
	for _, b := range e.bounties.List(0) {
		if err := e.bounties.CheckEscrow(b.ID); err != nil {
			return err
		}
	}
	return nil
}
