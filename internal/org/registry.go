// Package org implements the organization registry: membership, share
// balances and the capability lookups other components authorize against.
package org

import (
	"fmt"
	"math"
	"sort"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/state"
)

const seqOrgs = "orgs"

// Registry owns the orgs and member_shares tables.
type Registry struct {
	orgs    *state.Table[dao.OrgID, Org]
	members *state.Table[memberKey, Profile]
	seq     *state.Sequences
}

func NewRegistry(s *state.Store, seq *state.Sequences) *Registry {
	return &Registry{
		orgs:    state.NewTable[dao.OrgID, Org](s, "orgs"),
		members: state.NewTable[memberKey, Profile](s, "member_shares"),
		seq:     seq,
	}
}

// Get returns the org with id.
func (r *Registry) Get(id dao.OrgID) (Org, error) {
	o, ok := r.orgs.Get(id)
	if !ok {
		return Org{}, fmt.Errorf("%w: %d", ErrOrgNotFound, id)
	}
	return o, nil
}

// List returns every org ordered by id.
func (r *Registry) List() []Org {
	out := make([]Org, 0, r.orgs.Len())
	r.orgs.Scan(func(_ dao.OrgID, o Org) bool {
		out = append(out, o)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Capabilities resolves what caller may do in org. A missing org is an error.
func (r *Registry) Capabilities(caller dao.AccountID, id dao.OrgID) (dao.Capabilities, error) {
	o, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return dao.Capabilities{
		dao.RoleSudo:   o.HasSudo() && o.Sudo == caller,
		dao.RoleMember: r.IsMember(id, caller),
		dao.RoleModule: caller == dao.GovernanceAccount(id),
	}, nil
}

// Register creates an org and mints its initial shares.
func (r *Registry) Register(caller dao.AccountID, req RegisterRequest) (Registered, error) {
	members, err := normalizeMembers(req)
	if err != nil {
		return Registered{}, err
	}
	if req.Sudo != "" {
		if err := req.Sudo.Validate(); err != nil {
			return Registered{}, err
		}
	}
	if !req.Constitution.IsZero() {
		if err := req.Constitution.Validate(); err != nil {
			return Registered{}, err
		}
	}
	if req.Parent != 0 {
		parent, err := r.Get(req.Parent)
		if err != nil {
			return Registered{}, err
		}
		// A parent without sudo is governed by its members.
		role := dao.RoleSudo
		if !parent.HasSudo() {
			role = dao.RoleMember
		}
		caps, err := r.Capabilities(caller, req.Parent)
		if err != nil {
			return Registered{}, err
		}
		if err := caps.Require(caller, role); err != nil {
			return Registered{}, err
		}
	}

	var total dao.Shares
	for _, m := range members {
		if total > math.MaxUint64-m.Shares {
			return Registered{}, ErrSharesOverflow
		}
		total += m.Shares
	}

	id := dao.OrgID(r.seq.Next(seqOrgs))
	r.orgs.Put(id, Org{
		ID:           id,
		Parent:       req.Parent,
		Sudo:         req.Sudo,
		TotalShares:  total,
		Constitution: req.Constitution,
	})
	for _, m := range members {
		r.members.Put(memberKey{Org: id, Account: m.Account}, Profile{Org: id, Account: m.Account, Shares: m.Shares})
	}
	return Registered{Org: id, TotalShares: total}, nil
}

func normalizeMembers(req RegisterRequest) ([]Member, error) {
	if len(req.Flat) > 0 && len(req.Weighted) > 0 {
		return nil, ErrAmbiguousMembers
	}
	members := req.Weighted
	if len(req.Flat) > 0 {
		members = make([]Member, 0, len(req.Flat))
		for _, a := range req.Flat {
			members = append(members, Member{Account: a, Shares: 1})
		}
	}
	if len(members) == 0 {
		return nil, ErrEmptyMembership
	}
	seen := make(map[dao.AccountID]struct{}, len(members))
	for _, m := range members {
		if err := m.Account.Validate(); err != nil {
			return nil, err
		}
		if m.Shares == 0 {
			return nil, fmt.Errorf("%w: %s", ErrZeroShares, m.Account)
		}
		if _, dup := seen[m.Account]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, m.Account)
		}
		seen[m.Account] = struct{}{}
	}
	return members, nil
}

// ShareChange reports the result of an issue or burn on one profile.
type ShareChange struct {
	Org         dao.OrgID     `json:"org"`
	Account     dao.AccountID `json:"account"`
	Amount      dao.Shares    `json:"amount"`
	Balance     dao.Shares    `json:"balance"`
	TotalShares dao.Shares    `json:"total_shares"`
}

// Issue mints amount shares to who. Sudo only.
func (r *Registry) Issue(caller dao.AccountID, id dao.OrgID, who dao.AccountID, amount dao.Shares) (ShareChange, error) {
	res, err := r.batch(caller, id, []Member{{Account: who, Shares: amount}}, true)
	if err != nil {
		return ShareChange{}, err
	}
	return res[0], nil
}

// Burn removes amount shares from who. Sudo only.
func (r *Registry) Burn(caller dao.AccountID, id dao.OrgID, who dao.AccountID, amount dao.Shares) (ShareChange, error) {
	res, err := r.batch(caller, id, []Member{{Account: who, Shares: amount}}, false)
	if err != nil {
		return ShareChange{}, err
	}
	return res[0], nil
}

// BatchIssue issues every entry or none. Accounts may repeat.
func (r *Registry) BatchIssue(caller dao.AccountID, id dao.OrgID, entries []Member) ([]ShareChange, error) {
	return r.batch(caller, id, entries, true)
}

// BatchBurn burns every entry or none. Repeated accounts are checked against
// their cumulative amount.
func (r *Registry) BatchBurn(caller dao.AccountID, id dao.OrgID, entries []Member) ([]ShareChange, error) {
	return r.batch(caller, id, entries, false)
}

func (r *Registry) batch(caller dao.AccountID, id dao.OrgID, entries []Member, issue bool) ([]ShareChange, error) {
	if err := r.requireSudo(caller, id); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyBatch
	}
	o, _ := r.orgs.Get(id)

	// Validate the whole batch against a scratch copy before writing.
	scratch := make(map[dao.AccountID]Profile)
	total := o.TotalShares
	for _, e := range entries {
		if err := e.Account.Validate(); err != nil {
			return nil, err
		}
		if e.Shares == 0 {
			return nil, fmt.Errorf("%w: %s", ErrZeroShares, e.Account)
		}
		p, ok := scratch[e.Account]
		if !ok {
			p, _ = r.Profile(id, e.Account)
			p.Org, p.Account = id, e.Account
		}
		if issue {
			if p.Shares > math.MaxUint64-e.Shares || total > math.MaxUint64-e.Shares {
				return nil, ErrSharesOverflow
			}
			p.Shares += e.Shares
			total += e.Shares
		} else {
			if p.Locked {
				return nil, fmt.Errorf("%w: %s", ErrSharesLocked, e.Account)
			}
			if p.Shares < e.Shares {
				return nil, fmt.Errorf("%w: %s holds %d, burning %d", ErrInsufficientShares, e.Account, p.Shares, e.Shares)
			}
			p.Shares -= e.Shares
			total -= e.Shares
		}
		scratch[e.Account] = p
	}

	for acct, p := range scratch {
		key := memberKey{Org: id, Account: acct}
		if p.Shares == 0 {
			r.members.Delete(key)
			continue
		}
		r.members.Put(key, p)
	}
	o.TotalShares = total
	r.orgs.Put(id, o)

	out := make([]ShareChange, 0, len(entries))
	for _, e := range entries {
		out = append(out, ShareChange{
			Org:         id,
			Account:     e.Account,
			Amount:      e.Shares,
			Balance:     scratch[e.Account].Shares,
			TotalShares: total,
		})
	}
	return out, nil
}

// Lock makes a profile unusable as vote weight. Locking twice is a no-op.
func (r *Registry) Lock(caller dao.AccountID, id dao.OrgID, who dao.AccountID) (Profile, error) {
	return r.setLocked(caller, id, who, true)
}

// Unlock reverses Lock. Unlocking twice is a no-op.
func (r *Registry) Unlock(caller dao.AccountID, id dao.OrgID, who dao.AccountID) (Profile, error) {
	return r.setLocked(caller, id, who, false)
}

func (r *Registry) setLocked(caller dao.AccountID, id dao.OrgID, who dao.AccountID, locked bool) (Profile, error) {
	if err := r.requireSudo(caller, id); err != nil {
		return Profile{}, err
	}
	p, err := r.mustProfile(id, who)
	if err != nil {
		return Profile{}, err
	}
	if p.Locked != locked {
		p.Locked = locked
		r.members.Put(memberKey{Org: id, Account: who}, p)
	}
	return p, nil
}

// Reserve increments the reservation counter of an unlocked profile.
func (r *Registry) Reserve(caller dao.AccountID, id dao.OrgID, who dao.AccountID) (Profile, error) {
	if err := r.requireAdmin(caller, id); err != nil {
		return Profile{}, err
	}
	p, err := r.mustProfile(id, who)
	if err != nil {
		return Profile{}, err
	}
	if p.Locked {
		return Profile{}, fmt.Errorf("%w: %s", ErrSharesLocked, who)
	}
	p.TimesReserved++
	r.members.Put(memberKey{Org: id, Account: who}, p)
	return p, nil
}

// Unreserve decrements the reservation counter.
func (r *Registry) Unreserve(caller dao.AccountID, id dao.OrgID, who dao.AccountID) (Profile, error) {
	if err := r.requireAdmin(caller, id); err != nil {
		return Profile{}, err
	}
	p, err := r.mustProfile(id, who)
	if err != nil {
		return Profile{}, err
	}
	if p.TimesReserved == 0 {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotReserved, who)
	}
	p.TimesReserved--
	r.members.Put(memberKey{Org: id, Account: who}, p)
	return p, nil
}

func (r *Registry) requireSudo(caller dao.AccountID, id dao.OrgID) error {
	caps, err := r.Capabilities(caller, id)
	if err != nil {
		return err
	}
	return caps.Require(caller, dao.RoleSudo)
}

func (r *Registry) requireAdmin(caller dao.AccountID, id dao.OrgID) error {
	caps, err := r.Capabilities(caller, id)
	if err != nil {
		return err
	}
	return caps.Require(caller, dao.RoleSudo, dao.RoleModule)
}

func (r *Registry) mustProfile(id dao.OrgID, who dao.AccountID) (Profile, error) {
	p, ok := r.Profile(id, who)
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s in org %d", ErrMemberNotFound, who, id)
	}
	return p, nil
}

// Profile returns who's share profile in org.
func (r *Registry) Profile(id dao.OrgID, who dao.AccountID) (Profile, bool) {
	return r.members.Get(memberKey{Org: id, Account: who})
}

// IsMember reports whether who holds shares in org.
func (r *Registry) IsMember(id dao.OrgID, who dao.AccountID) bool {
	return r.members.Has(memberKey{Org: id, Account: who})
}

// VoteWeight is who's current share balance, or zero when locked.
func (r *Registry) VoteWeight(id dao.OrgID, who dao.AccountID) dao.Shares {
	p, ok := r.Profile(id, who)
	if !ok || p.Locked {
		return 0
	}
	return p.Shares
}

// Members returns the profiles of org ordered by account.
func (r *Registry) Members(id dao.OrgID) []Profile {
	var out []Profile
	r.members.Scan(func(k memberKey, p Profile) bool {
		if k.Org == id {
			out = append(out, p)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// CheckInvariant verifies that total_shares matches the member balances.
func (r *Registry) CheckInvariant(id dao.OrgID) error {
	o, err := r.Get(id)
	if err != nil {
		return err
	}
	var sum dao.Shares
	for _, p := range r.Members(id) {
		sum += p.Shares
	}
	if sum != o.TotalShares {
		return fmt.Errorf("org %d: total_shares %d != member sum %d", id, o.TotalShares, sum)
	}
	return nil
}
