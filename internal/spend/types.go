package spend

import (
	"sunshine.org/internal/dao"
	"sunshine.org/internal/treasury"
	"sunshine.org/internal/vote"
)

type State string

const (
	WaitingForApproval State = "waiting_for_approval"
	Voting             State = "voting"
	Approved           State = "approved"
	Executed           State = "executed"
	Rejected           State = "rejected"
)

// Final reports whether the proposal can no longer move.
func (s State) Final() bool { return s == Executed || s == Rejected }

// Proposal is a pending request to pay out of a bank's free funds.
type Proposal struct {
	Bank        dao.BankID    `json:"bank"`
	ID          dao.SpendID   `json:"id"`
	Org         dao.OrgID     `json:"org"`
	Proposer    dao.AccountID `json:"proposer"`
	Amount      dao.Amount    `json:"amount"`
	Destination dao.AccountID `json:"destination"`
	State       State         `json:"state"`
	Vote        dao.VoteID    `json:"vote,omitempty"`
}

type key struct {
	Bank  dao.BankID  `json:"bank"`
	Spend dao.SpendID `json:"spend"`
}

// Transition describes one state change of a proposal. Bank is set when
// funds moved.
type Transition struct {
	Proposal Proposal
	From     State
	Bank     *treasury.Bank
}

// Defaults are used when neither the caller nor the org supplies a
// threshold.
type Defaults struct {
	Threshold vote.Threshold
	Duration  dao.Height
}

var (
	ErrSpendNotFound        = dao.NewError(dao.KindNotFound, "SpendNotFound", "spend proposal not found")
	ErrVoteAlreadyTriggered = dao.NewError(dao.KindState, "VoteAlreadyTriggered", "a vote was already triggered for this spend")
	ErrSpendNotWaiting      = dao.NewError(dao.KindState, "SpendNotWaitingForApproval", "spend is not waiting for approval")
	ErrSpendNotApproved     = dao.NewError(dao.KindState, "SpendNotApproved", "spend has not been approved")
	ErrSpendFinalized       = dao.NewError(dao.KindState, "SpendFinalized", "spend was already executed or rejected")
	ErrPendingSpends        = dao.NewError(dao.KindState, "PendingSpends", "bank has spend proposals that are not final")
)
