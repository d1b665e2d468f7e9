package vote

import "sunshine.org/internal/dao"

type Outcome string

const (
	Open     Outcome = "open"
	Approved Outcome = "approved"
	Rejected Outcome = "rejected"
	Expired  Outcome = "expired"
)

// Terminal reports whether no ballot can change the outcome anymore.
func (o Outcome) Terminal() bool { return o != Open }

type Direction string

const (
	InFavor Direction = "in_favor"
	Against Direction = "against"
	Abstain Direction = "abstain"
)

func (d Direction) valid() bool {
	return d == InFavor || d == Against || d == Abstain
}

// Tally is the weighted count of cast ballots.
type Tally struct {
	Support dao.Shares `json:"support"`
	Against dao.Shares `json:"against"`
	Turnout dao.Shares `json:"turnout"`
}

func (t *Tally) add(d Direction, w dao.Shares) {
	t.Turnout += w
	switch d {
	case InFavor:
		t.Support += w
	case Against:
		t.Against += w
	}
}

func (t *Tally) remove(d Direction, w dao.Shares) {
	t.Turnout -= w
	switch d {
	case InFavor:
		t.Support -= w
	case Against:
		t.Against -= w
	}
}

// Vote is the state of one threshold vote.
type Vote struct {
	ID        dao.VoteID     `json:"id"`
	Org       dao.OrgID      `json:"org"`
	Creator   dao.AccountID  `json:"creator"`
	Threshold Threshold      `json:"threshold"`
	Topic     dao.ContentRef `json:"topic"`
	Tally     Tally          `json:"tally"`
	Outcome   Outcome        `json:"outcome"`
	OpenedAt  dao.Height     `json:"opened_at"`
	Expiry    dao.Height     `json:"expiry,omitempty"` // 0: never
}

func (v Vote) expiredAt(h dao.Height) bool {
	return v.Outcome == Open && v.Expiry != 0 && h >= v.Expiry
}

// Ballot is one account's current ballot on a vote.
type Ballot struct {
	Vote          dao.VoteID     `json:"vote"`
	Account       dao.AccountID  `json:"account"`
	Direction     Direction      `json:"direction"`
	Weight        dao.Shares     `json:"weight"`
	Justification dao.ContentRef `json:"justification"`
}

type ballotKey struct {
	Vote    dao.VoteID    `json:"vote"`
	Account dao.AccountID `json:"account"`
}

// Cast is the result of a submitted ballot.
type Cast struct {
	Vote     Vote    `json:"vote"`
	Ballot   Ballot  `json:"ballot"`
	Previous *Ballot `json:"previous,omitempty"`
	Resolved bool    `json:"resolved"`
}

// Request opens a vote.
type Request struct {
	Org       dao.OrgID
	Threshold Threshold
	Topic     dao.ContentRef
	Duration  dao.Height // 0: no expiry
}
