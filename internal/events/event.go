// Package events carries governance events from the engine to readers: an
// in-process log with cursor pagination, a fan-out stream for SSE clients,
// Redis publication and at-least-once watchers that drop duplicates.
package events

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/ids"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Type string

const (
	OrgRegistered            Type = "OrgRegistered"
	SharesIssued             Type = "SharesIssued"
	SharesBurned             Type = "SharesBurned"
	SharesLocked             Type = "SharesLocked"
	SharesUnlocked           Type = "SharesUnlocked"
	SharesReserved           Type = "SharesReserved"
	SharesUnreserved         Type = "SharesUnreserved"
	VoteStarted              Type = "VoteStarted"
	Voted                    Type = "Voted"
	VoteResolved             Type = "VoteResolved"
	BankOpened               Type = "BankOpened"
	BankDeposit              Type = "BankDeposit"
	FundsReserved            Type = "FundsReserved"
	FundsUnreserved          Type = "FundsUnreserved"
	BankSpend                Type = "BankSpend"
	BankClosed               Type = "BankClosed"
	SpendProposed            Type = "SpendProposed"
	VoteTriggered            Type = "VoteTriggered"
	SpendApproved            Type = "SpendApproved"
	SpendExecuted            Type = "SpendExecuted"
	SpendRejected            Type = "SpendRejected"
	DefaultThresholdSet      Type = "DefaultThresholdSet"
	BountyPosted             Type = "BountyPosted"
	BountyContributionRaised Type = "BountyContributionRaised"
	BountySubmissionPosted   Type = "BountySubmissionPosted"
	BountyPaymentExecuted    Type = "BountyPaymentExecuted"
)

// Event is one applied transition. Seq is assigned by the engine and is
// gapless; ID is unique across restarts.
type Event struct {
	ID      string              `json:"id"`
	Seq     uint64              `json:"seq"`
	Type    Type                `json:"type"`
	Height  dao.Height          `json:"height"`
	Caller  dao.AccountID       `json:"caller"`
	Time    time.Time           `json:"time"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// New encodes payload into an unsequenced event.
func New(typ Type, caller dao.AccountID, height dao.Height, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	now := time.Now().UTC()
	return Event{
		ID:      ids.NewEventID(now),
		Type:    typ,
		Height:  height,
		Caller:  caller,
		Time:    now,
		Payload: raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Marshal encodes the whole event.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an event produced by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
