package engine

import (
	"sunshine.org/internal/dao"
	"sunshine.org/internal/vote"
)

// Event payloads. Every payload carries the ids involved and the totals
// after the transition.

type OrgRegisteredPayload struct {
	Org          dao.OrgID      `json:"org"`
	Parent       dao.OrgID      `json:"parent,omitempty"`
	Sudo         dao.AccountID  `json:"sudo,omitempty"`
	Constitution dao.ContentRef `json:"constitution"`
	Members      int            `json:"members"`
	TotalShares  dao.Shares     `json:"total_shares"`
}

type SharesPayload struct {
	Org         dao.OrgID     `json:"org"`
	Account     dao.AccountID `json:"account"`
	Amount      dao.Shares    `json:"amount"`
	Balance     dao.Shares    `json:"balance"`
	TotalShares dao.Shares    `json:"total_shares"`
}

type ProfilePayload struct {
	Org           dao.OrgID     `json:"org"`
	Account       dao.AccountID `json:"account"`
	Shares        dao.Shares    `json:"shares"`
	Locked        bool          `json:"locked"`
	TimesReserved uint32        `json:"times_reserved"`
}

type VoteStartedPayload struct {
	Vote      dao.VoteID     `json:"vote"`
	Org       dao.OrgID      `json:"org"`
	Threshold vote.Threshold `json:"threshold"`
	Topic     dao.ContentRef `json:"topic"`
	Expiry    dao.Height     `json:"expiry,omitempty"`
}

type VotedPayload struct {
	Vote      dao.VoteID     `json:"vote"`
	Account   dao.AccountID  `json:"account"`
	Direction vote.Direction `json:"direction"`
	Weight    dao.Shares     `json:"weight"`
	Tally     vote.Tally     `json:"tally"`
}

type VoteResolvedPayload struct {
	Vote    dao.VoteID   `json:"vote"`
	Org     dao.OrgID    `json:"org"`
	Outcome vote.Outcome `json:"outcome"`
	Tally   vote.Tally   `json:"tally"`
}

// BankPayload describes a bank after a movement. Account is the funder of
// a deposit or the recipient of a spend.
type BankPayload struct {
	Bank       dao.BankID    `json:"bank"`
	Org        dao.OrgID     `json:"org"`
	Account    dao.AccountID `json:"account,omitempty"`
	Amount     dao.Amount    `json:"amount,omitempty"`
	Reserved   bool          `json:"reserved,omitempty"`
	Free       dao.Amount    `json:"free"`
	Held       dao.Amount    `json:"held_reserved"`
	Controller dao.AccountID `json:"controller,omitempty"`
}

type SpendPayload struct {
	Bank        dao.BankID    `json:"bank"`
	Spend       dao.SpendID   `json:"spend"`
	Org         dao.OrgID     `json:"org"`
	Amount      dao.Amount    `json:"amount"`
	Destination dao.AccountID `json:"destination"`
	State       string        `json:"state"`
	Vote        dao.VoteID    `json:"vote,omitempty"`
	BankFree    *dao.Amount   `json:"bank_free,omitempty"`
}

type ThresholdPayload struct {
	Org       dao.OrgID      `json:"org"`
	Threshold vote.Threshold `json:"threshold"`
}

type BountyPayload struct {
	Bounty      dao.BountyID   `json:"bounty"`
	Org         dao.OrgID      `json:"org"`
	Bank        dao.BankID     `json:"bank"`
	Depositer   dao.AccountID  `json:"depositer"`
	Description dao.ContentRef `json:"description"`
	Total       dao.Amount     `json:"total"`
}

type ContributionPayload struct {
	Bounty      dao.BountyID  `json:"bounty"`
	Account     dao.AccountID `json:"account"`
	Amount      dao.Amount    `json:"amount"`
	Contributed dao.Amount    `json:"contributed"`
	Total       dao.Amount    `json:"total"`
}

type SubmissionPayload struct {
	Submission      dao.SubmissionID `json:"submission"`
	Bounty          dao.BountyID     `json:"bounty"`
	Submitter       dao.AccountID    `json:"submitter"`
	Ref             dao.ContentRef   `json:"ref"`
	AmountRequested dao.Amount       `json:"amount_requested"`
}

type PaymentPayload struct {
	Bounty     dao.BountyID     `json:"bounty"`
	Submission dao.SubmissionID `json:"submission"`
	Submitter  dao.AccountID    `json:"submitter"`
	Amount     dao.Amount       `json:"amount"`
	Total      dao.Amount       `json:"total"`
}
