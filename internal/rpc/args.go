package rpc

import (
	"sunshine.org/internal/dao"
	"sunshine.org/internal/org"
	"sunshine.org/internal/vote"
)

// Args is the argument bag shared by every command and query. Each
// operation reads the fields it needs and ignores the rest.
type Args struct {
	Org     dao.OrgID     `json:"org,omitempty"`
	Account dao.AccountID `json:"account,omitempty"`
	Shares  dao.Shares    `json:"shares,omitempty"`
	Members []org.Member  `json:"members,omitempty"`

	Sudo         dao.AccountID   `json:"sudo,omitempty"`
	Parent       dao.OrgID       `json:"parent,omitempty"`
	Constitution dao.ContentRef  `json:"constitution,omitempty"`
	Flat         []dao.AccountID `json:"flat,omitempty"`

	Vote          dao.VoteID      `json:"vote,omitempty"`
	Threshold     *vote.Threshold `json:"threshold,omitempty"`
	Topic         dao.ContentRef  `json:"topic,omitempty"`
	Duration      dao.Height      `json:"duration,omitempty"`
	Direction     vote.Direction  `json:"direction,omitempty"`
	Justification dao.ContentRef  `json:"justification,omitempty"`

	Bank        dao.BankID    `json:"bank,omitempty"`
	Amount      dao.Amount    `json:"amount,omitempty"`
	Reserved    bool          `json:"reserved,omitempty"`
	Controller  dao.AccountID `json:"controller,omitempty"`
	Destination dao.AccountID `json:"destination,omitempty"`
	Spend       dao.SpendID   `json:"spend,omitempty"`

	Bounty      dao.BountyID     `json:"bounty,omitempty"`
	Description dao.ContentRef   `json:"description,omitempty"`
	Submission  dao.SubmissionID `json:"submission,omitempty"`
	Work        dao.ContentRef   `json:"work,omitempty"`

	Limit int    `json:"limit,omitempty"`
	After uint64 `json:"after,omitempty"`
}
