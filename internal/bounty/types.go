package bounty

import "sunshine.org/internal/dao"

// Bounty is a work request funded from a dedicated escrow bank. Total always
// equals the escrow bank's free balance.
type Bounty struct {
	ID          dao.BountyID   `json:"id"`
	Org         dao.OrgID      `json:"org"`
	Description dao.ContentRef `json:"description"`
	Depositer   dao.AccountID  `json:"depositer"`
	Bank        dao.BankID     `json:"bank"`
	Total       dao.Amount     `json:"total"`
}

type SubmissionState string

const (
	AwaitingReview SubmissionState = "awaiting_review"
	Approved       SubmissionState = "approved"
)

type Submission struct {
	ID              dao.SubmissionID `json:"id"`
	Bounty          dao.BountyID     `json:"bounty"`
	Submission      dao.ContentRef   `json:"submission"`
	Submitter       dao.AccountID    `json:"submitter"`
	AmountRequested dao.Amount       `json:"amount_requested"`
	State           SubmissionState  `json:"state"`
}

// Contribution is the running amount one account put into a bounty.
type Contribution struct {
	Bounty  dao.BountyID  `json:"bounty"`
	Account dao.AccountID `json:"account"`
	Amount  dao.Amount    `json:"amount"`
}

type contributionKey struct {
	Bounty  dao.BountyID  `json:"bounty"`
	Account dao.AccountID `json:"account"`
}

// Payment is the result of an approved submission.
type Payment struct {
	Bounty     Bounty     `json:"bounty"`
	Submission Submission `json:"submission"`
}

var (
	ErrBountyNotFound          = dao.NewError(dao.KindNotFound, "BountyNotFound", "bounty not found")
	ErrSubmissionNotFound      = dao.NewError(dao.KindNotFound, "SubmissionNotFound", "submission not found")
	ErrInsufficientBountyFunds = dao.NewError(dao.KindArithmetic, "InsufficientBountyFunds", "requested amount exceeds the bounty total")
	ErrAlreadyApproved         = dao.NewError(dao.KindState, "AlreadyApproved", "submission was already approved")
	ErrMissingContentRef       = dao.NewError(dao.KindInput, "MissingContentRef", "content reference is required")
)
