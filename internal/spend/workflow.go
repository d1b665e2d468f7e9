// Package spend gates payouts from a bank behind a vote or a sudo approval.
package spend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/org"
	"sunshine.org/internal/state"
	"sunshine.org/internal/treasury"
	"sunshine.org/internal/vote"
)

// Workflow owns the spends, spend_votes and org_thresholds tables.
type Workflow struct {
	spends     *state.Table[key, Proposal]
	byVote     *state.Table[dao.VoteID, key]
	thresholds *state.Table[dao.OrgID, vote.Threshold]
	seq        *state.Sequences
	orgs       *org.Registry
	banks      *treasury.Ledger
	votes      *vote.Engine
	defaults   Defaults
	listeners  []func(Transition)
}

// NewWorkflow wires the workflow and registers it for vote resolutions.
func NewWorkflow(s *state.Store, seq *state.Sequences, orgs *org.Registry, banks *treasury.Ledger, votes *vote.Engine, defaults Defaults) *Workflow {
	w := &Workflow{
		spends:     state.NewTable[key, Proposal](s, "spends"),
		byVote:     state.NewTable[dao.VoteID, key](s, "spend_votes"),
		thresholds: state.NewTable[dao.OrgID, vote.Threshold](s, "org_thresholds"),
		seq:        seq,
		orgs:       orgs,
		banks:      banks,
		votes:      votes,
		defaults:   defaults,
	}
	votes.Observe(w)
	return w
}

// OnTransition registers fn for every state change after creation.
func (w *Workflow) OnTransition(fn func(Transition)) {
	w.listeners = append(w.listeners, fn)
}

// Get returns a proposal.
func (w *Workflow) Get(bank dao.BankID, id dao.SpendID) (Proposal, error) {
	p, ok := w.spends.Get(key{Bank: bank, Spend: id})
	if !ok {
		return Proposal{}, fmt.Errorf("%w: bank %d spend %d", ErrSpendNotFound, bank, id)
	}
	return p, nil
}

// List returns the proposals of a bank ordered by id.
func (w *Workflow) List(bank dao.BankID) []Proposal {
	var out []Proposal
	w.spends.Scan(func(k key, p Proposal) bool {
		if k.Bank == bank {
			out = append(out, p)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Propose records a spend of amount to dest. The amount must be covered by
// the bank's free funds now and again at execution.
func (w *Workflow) Propose(caller dao.AccountID, bank dao.BankID, amount dao.Amount, dest dao.AccountID) (Proposal, error) {
	b, err := w.authorize(caller, bank, dao.RoleMember, dao.RoleController, dao.RoleSudo)
	if err != nil {
		return Proposal{}, err
	}
	if b.Escrowed() {
		return Proposal{}, fmt.Errorf("%w: bank %d", treasury.ErrEscrowBank, bank)
	}
	if err := dao.ValidateAmount(amount); err != nil {
		return Proposal{}, err
	}
	if err := dest.Validate(); err != nil {
		return Proposal{}, err
	}
	if amount > b.Free {
		return Proposal{}, fmt.Errorf("%w: bank %d free %d < %d", treasury.ErrInsufficientFunds, bank, b.Free, amount)
	}
	p := Proposal{
		Bank:        bank,
		ID:          dao.SpendID(w.seq.Next(fmt.Sprintf("spends/%d", bank))),
		Org:         b.Org,
		Proposer:    caller,
		Amount:      amount,
		Destination: dest,
		State:       WaitingForApproval,
	}
	w.spends.Put(key{Bank: bank, Spend: p.ID}, p)
	return p, nil
}

// TriggerVote opens the vote that gates a waiting proposal. The threshold
// is the one supplied, else the org default, else the configured default.
func (w *Workflow) TriggerVote(caller dao.AccountID, bank dao.BankID, id dao.SpendID, threshold *vote.Threshold, duration dao.Height) (Proposal, vote.Vote, error) {
	b, err := w.authorize(caller, bank, dao.RoleMember, dao.RoleController, dao.RoleSudo)
	if err != nil {
		return Proposal{}, vote.Vote{}, err
	}
	if b.Escrowed() {
		return Proposal{}, vote.Vote{}, fmt.Errorf("%w: bank %d", treasury.ErrEscrowBank, bank)
	}
	p, err := w.Get(bank, id)
	if err != nil {
		return Proposal{}, vote.Vote{}, err
	}
	switch {
	case p.Vote != 0:
		return Proposal{}, vote.Vote{}, fmt.Errorf("%w: spend %d has vote %d", ErrVoteAlreadyTriggered, id, p.Vote)
	case p.State != WaitingForApproval:
		return Proposal{}, vote.Vote{}, fmt.Errorf("%w: spend %d is %s", ErrSpendNotWaiting, id, p.State)
	}

	th := w.DefaultThreshold(p.Org)
	if threshold != nil {
		th = *threshold
	}
	if duration == 0 {
		duration = w.defaults.Duration
	}
	v, err := w.votes.Open(caller, vote.Request{
		Org:       p.Org,
		Threshold: th,
		Topic:     dao.SpendTopic(bank, id),
		Duration:  duration,
	})
	if err != nil {
		return Proposal{}, vote.Vote{}, err
	}
	p.Vote = v.ID
	w.byVote.Put(v.ID, key{Bank: bank, Spend: id})
	p = w.transition(p, Voting, nil)
	return p, v, nil
}

// SudoApprove approves a proposal without a vote.
func (w *Workflow) SudoApprove(caller dao.AccountID, bank dao.BankID, id dao.SpendID) (Proposal, error) {
	if _, err := w.authorize(caller, bank, dao.RoleController, dao.RoleSudo); err != nil {
		return Proposal{}, err
	}
	p, err := w.Get(bank, id)
	if err != nil {
		return Proposal{}, err
	}
	if p.State.Final() {
		return Proposal{}, fmt.Errorf("%w: spend %d is %s", ErrSpendFinalized, id, p.State)
	}
	if p.State == Approved {
		return Proposal{}, fmt.Errorf("%w: spend %d is %s", ErrSpendNotWaiting, id, p.State)
	}
	return w.transition(p, Approved, nil), nil
}

// Execute pays out an approved proposal. A proposal whose vote has failed,
// or whose bank no longer covers it, is marked rejected and the call still
// succeeds.
func (w *Workflow) Execute(ctx context.Context, caller dao.AccountID, bank dao.BankID, id dao.SpendID) (Proposal, error) {
	if _, err := w.authorize(caller, bank, dao.RoleMember, dao.RoleController, dao.RoleSudo); err != nil {
		return Proposal{}, err
	}
	p, err := w.Get(bank, id)
	if err != nil {
		return Proposal{}, err
	}
	if p.State.Final() {
		return Proposal{}, fmt.Errorf("%w: spend %d is %s", ErrSpendFinalized, id, p.State)
	}
	if p.State == Voting {
		v, err := w.votes.Get(p.Vote)
		if err != nil {
			return Proposal{}, err
		}
		switch v.Outcome {
		case vote.Approved:
			p = w.transition(p, Approved, nil)
		case vote.Rejected, vote.Expired:
			return w.transition(p, Rejected, nil), nil
		}
	}
	if p.State != Approved {
		return Proposal{}, fmt.Errorf("%w: spend %d is %s", ErrSpendNotApproved, id, p.State)
	}
	return w.execute(ctx, p)
}

// execute re-checks the bank and pays out. A bank that is gone or no longer
// covers the amount rejects the proposal.
func (w *Workflow) execute(ctx context.Context, p Proposal) (Proposal, error) {
	b, err := w.banks.Get(p.Bank)
	if errors.Is(err, treasury.ErrBankNotFound) {
		return w.transition(p, Rejected, nil), nil
	}
	if err != nil {
		return Proposal{}, err
	}
	if b.Escrowed() || p.Amount > b.Free {
		return w.transition(p, Rejected, nil), nil
	}
	b, err = w.banks.SpendFromFree(ctx, dao.GovernanceAccount(p.Org), p.Bank, p.Destination, p.Amount)
	if err != nil {
		return Proposal{}, err
	}
	return w.transition(p, Executed, &b), nil
}

// VoteResolved approves and executes, or rejects, the proposal a vote
// gates.
func (w *Workflow) VoteResolved(ctx context.Context, v vote.Vote) error {
	k, ok := w.byVote.Get(v.ID)
	if !ok {
		return nil
	}
	p, err := w.Get(k.Bank, k.Spend)
	if err != nil || p.State != Voting {
		return err
	}
	switch v.Outcome {
	case vote.Approved:
		p = w.transition(p, Approved, nil)
		_, err = w.execute(ctx, p)
		return err
	case vote.Rejected, vote.Expired:
		w.transition(p, Rejected, nil)
	}
	return nil
}

// CheckClosable refuses while bank has proposals that may still pay out.
func (w *Workflow) CheckClosable(bank dao.BankID) error {
	for _, p := range w.List(bank) {
		if !p.State.Final() {
			return fmt.Errorf("%w: bank %d spend %d is %s", ErrPendingSpends, bank, p.ID, p.State)
		}
	}
	return nil
}

// SetDefaultThreshold overrides the threshold of votes triggered for org's
// spends. Sudo only.
func (w *Workflow) SetDefaultThreshold(caller dao.AccountID, id dao.OrgID, th vote.Threshold) error {
	caps, err := w.orgs.Capabilities(caller, id)
	if err != nil {
		return err
	}
	if err := caps.Require(caller, dao.RoleSudo); err != nil {
		return err
	}
	if err := th.Validate(); err != nil {
		return err
	}
	w.thresholds.Put(id, th)
	return nil
}

// DefaultThreshold returns the threshold a spend vote of org would use.
func (w *Workflow) DefaultThreshold(id dao.OrgID) vote.Threshold {
	if th, ok := w.thresholds.Get(id); ok {
		return th
	}
	return w.defaults.Threshold
}

func (w *Workflow) authorize(caller dao.AccountID, bank dao.BankID, roles ...dao.Role) (treasury.Bank, error) {
	b, caps, err := w.banks.Capabilities(caller, bank)
	if err != nil {
		return treasury.Bank{}, err
	}
	if err := caps.Require(caller, roles...); err != nil {
		return treasury.Bank{}, err
	}
	return b, nil
}

func (w *Workflow) transition(p Proposal, to State, bank *treasury.Bank) Proposal {
	from := p.State
	p.State = to
	w.spends.Put(key{Bank: p.Bank, Spend: p.ID}, p)
	for _, fn := range w.listeners {
		fn(Transition{Proposal: p, From: from, Bank: bank})
	}
	return p
}
