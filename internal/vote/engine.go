// Package vote implements share-weighted threshold votes scoped to an org.
package vote

import (
	"context"
	"fmt"
	"sort"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/org"
	"sunshine.org/internal/state"
)

const seqVotes = "votes"

// Observer is told about every vote that reaches a terminal outcome, inside
// the same atomic step. A returned error aborts the step.
type Observer interface {
	VoteResolved(ctx context.Context, v Vote) error
}

// Engine owns the votes and ballots tables.
type Engine struct {
	votes     *state.Table[dao.VoteID, Vote]
	ballots   *state.Table[ballotKey, Ballot]
	seq       *state.Sequences
	orgs      *org.Registry
	height    func() dao.Height
	observers []Observer
	onCast    []func(Cast)
}

func NewEngine(s *state.Store, seq *state.Sequences, orgs *org.Registry, height func() dao.Height) *Engine {
	return &Engine{
		votes:   state.NewTable[dao.VoteID, Vote](s, "votes"),
		ballots: state.NewTable[ballotKey, Ballot](s, "ballots"),
		seq:     seq,
		orgs:    orgs,
		height:  height,
	}
}

// Observe registers o for resolution callbacks.
func (e *Engine) Observe(o Observer) {
	e.observers = append(e.observers, o)
}

// OnCast registers fn for every accepted ballot. It runs before observers
// learn about a resolution the ballot caused.
func (e *Engine) OnCast(fn func(Cast)) {
	e.onCast = append(e.onCast, fn)
}

// Create opens a vote on behalf of an org member or its sudo.
func (e *Engine) Create(caller dao.AccountID, req Request) (Vote, error) {
	caps, err := e.orgs.Capabilities(caller, req.Org)
	if err != nil {
		return Vote{}, err
	}
	if !caps[dao.RoleMember] && !caps[dao.RoleSudo] {
		return Vote{}, fmt.Errorf("%w: %s in org %d", ErrNotAuthorizedToCreateVote, caller, req.Org)
	}
	return e.Open(caller, req)
}

// Open creates a vote without checking the caller. Components that gate
// their own authorization (the spend workflow) use it.
func (e *Engine) Open(creator dao.AccountID, req Request) (Vote, error) {
	if _, err := e.orgs.Get(req.Org); err != nil {
		return Vote{}, err
	}
	if err := req.Threshold.Validate(); err != nil {
		return Vote{}, err
	}
	if !req.Topic.IsZero() {
		if err := req.Topic.Validate(); err != nil {
			return Vote{}, err
		}
	}
	now := e.height()
	v := Vote{
		ID:        dao.VoteID(e.seq.Next(seqVotes)),
		Org:       req.Org,
		Creator:   creator,
		Threshold: req.Threshold,
		Topic:     req.Topic,
		Outcome:   Open,
		OpenedAt:  now,
	}
	if req.Duration > 0 {
		v.Expiry = now + req.Duration
	}
	e.votes.Put(v.ID, v)
	return v, nil
}

// Get returns a vote with expiry applied as of the current height. It does
// not write.
func (e *Engine) Get(id dao.VoteID) (Vote, error) {
	v, ok := e.votes.Get(id)
	if !ok {
		return Vote{}, fmt.Errorf("%w: %d", ErrVoteNotFound, id)
	}
	if v.expiredAt(e.height()) {
		v.Outcome = Expired
	}
	return v, nil
}

// Ballots returns the ballots of a vote ordered by account.
func (e *Engine) Ballots(id dao.VoteID) []Ballot {
	var out []Ballot
	e.ballots.Scan(func(k ballotKey, b Ballot) bool {
		if k.Vote == id {
			out = append(out, b)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Submit casts or replaces caller's ballot and resolves the vote eagerly.
// Weight is the caller's share balance at cast time.
func (e *Engine) Submit(ctx context.Context, caller dao.AccountID, id dao.VoteID, dir Direction, justification dao.ContentRef) (Cast, error) {
	if !dir.valid() {
		return Cast{}, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	if !justification.IsZero() {
		if err := justification.Validate(); err != nil {
			return Cast{}, err
		}
	}
	v, err := e.Get(id)
	if err != nil {
		return Cast{}, err
	}
	if v.Outcome.Terminal() {
		return Cast{}, fmt.Errorf("%w: vote %d is %s", ErrVoteClosed, id, v.Outcome)
	}
	weight := e.orgs.VoteWeight(v.Org, caller)
	if weight == 0 {
		return Cast{}, fmt.Errorf("%w: %s in org %d", ErrNotAuthorizedToVote, caller, v.Org)
	}

	key := ballotKey{Vote: id, Account: caller}
	var cast Cast
	if prev, ok := e.ballots.Get(key); ok {
		v.Tally.remove(prev.Direction, prev.Weight)
		cast.Previous = &prev
	}
	b := Ballot{Vote: id, Account: caller, Direction: dir, Weight: weight, Justification: justification}
	v.Tally.add(dir, weight)
	e.ballots.Put(key, b)

	v.Outcome = e.resolve(v)
	e.votes.Put(id, v)

	cast.Vote, cast.Ballot = v, b
	cast.Resolved = v.Outcome.Terminal()
	for _, fn := range e.onCast {
		fn(cast)
	}
	if cast.Resolved {
		if err := e.notify(ctx, v); err != nil {
			return Cast{}, err
		}
	}
	return cast, nil
}

// ExpireDue marks every open vote whose expiry has passed as Expired and
// notifies observers. It returns the votes it closed, ordered by id.
func (e *Engine) ExpireDue(ctx context.Context) ([]Vote, error) {
	now := e.height()
	var due []Vote
	e.votes.Scan(func(_ dao.VoteID, v Vote) bool {
		if v.expiredAt(now) {
			due = append(due, v)
		}
		return true
	})
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	for i := range due {
		due[i].Outcome = Expired
		e.votes.Put(due[i].ID, due[i])
		if err := e.notify(ctx, due[i]); err != nil {
			return nil, err
		}
	}
	return due, nil
}

func (e *Engine) notify(ctx context.Context, v Vote) error {
	for _, o := range e.observers {
		if err := o.VoteResolved(ctx, v); err != nil {
			return fmt.Errorf("vote %d observer: %w", v.ID, err)
		}
	}
	return nil
}

func (e *Engine) resolve(v Vote) Outcome {
	o, err := e.orgs.Get(v.Org)
	if err != nil {
		return v.Outcome
	}
	if v.Threshold.Kind != KindUnanimous {
		return v.Threshold.evaluate(v.Tally, o.TotalShares)
	}
	if v.Tally.Against > 0 {
		return Rejected
	}
	for _, p := range e.orgs.Members(v.Org) {
		if p.Locked {
			continue
		}
		b, ok := e.ballots.Get(ballotKey{Vote: v.ID, Account: p.Account})
		if !ok || b.Direction != InFavor {
			return Open
		}
	}
	return Approved
}
