package org

import "sunshine.org/internal/dao"

// Org is a registered organization.
type Org struct {
	ID           dao.OrgID      `json:"id"`
	Parent       dao.OrgID      `json:"parent,omitempty"` // 0: top level
	Sudo         dao.AccountID  `json:"sudo,omitempty"`   // empty: no administrator
	TotalShares  dao.Shares     `json:"total_shares"`
	Constitution dao.ContentRef `json:"constitution"`
}

// HasSudo reports whether the org can be administered after registration.
func (o Org) HasSudo() bool { return o.Sudo != "" }

// Profile is one member's share position in an org.
type Profile struct {
	Org           dao.OrgID     `json:"org"`
	Account       dao.AccountID `json:"account"`
	Shares        dao.Shares    `json:"shares"`
	Locked        bool          `json:"locked"`
	TimesReserved uint32        `json:"times_reserved"`
}

// Member is a weighted membership entry.
type Member struct {
	Account dao.AccountID `json:"account"`
	Shares  dao.Shares    `json:"shares"`
}

// RegisterRequest describes a new org. Exactly one of Flat and Weighted is
// used; Flat members receive one share each.
type RegisterRequest struct {
	Sudo         dao.AccountID   `json:"sudo,omitempty"`
	Parent       dao.OrgID       `json:"parent,omitempty"`
	Constitution dao.ContentRef  `json:"constitution"`
	Flat         []dao.AccountID `json:"flat,omitempty"`
	Weighted     []Member        `json:"weighted,omitempty"`
}

// Registered is the result of a registration.
type Registered struct {
	Org         dao.OrgID  `json:"org"`
	TotalShares dao.Shares `json:"total_shares"`
}

// memberKey is exported field-wise so it encodes as a stable storage key.
type memberKey struct {
	Org     dao.OrgID     `json:"org"`
	Account dao.AccountID `json:"account"`
}
