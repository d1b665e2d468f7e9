// Package dao holds the identifiers, content references, error taxonomy and
// capability helpers shared by every governance component.
package dao

import (
	"fmt"
	"strings"
)

// AccountID is an already-authenticated caller or member identity.
type AccountID string

// Sequenced identifiers are allocated by the engine, starting at 1.
type (
	OrgID        uint64
	VoteID       uint64
	BankID       uint64
	SpendID      uint64
	BountyID     uint64
	SubmissionID uint64
)

// Height is a block height supplied by the sequencing environment.
type Height uint64

// Shares is the unit of voting and ownership weight inside an org.
type Shares uint64

// Amount is a currency quantity in minor units. No floats.
type Amount int64

const modulePrefix = "module/"

// ModuleAccount returns the reserved account a component acts as when it
// moves funds on behalf of governance (e.g. the escrow of a bounty).
func ModuleAccount(kind string, id uint64) AccountID {
	return AccountID(fmt.Sprintf("%s%s/%d", modulePrefix, kind, id))
}

// GovernanceAccount is allowed to spend from any bank owned by org.
func GovernanceAccount(org OrgID) AccountID {
	return ModuleAccount("governance", uint64(org))
}

// EscrowAccount controls the dedicated escrow bank of a bounty.
func EscrowAccount(bounty BountyID) AccountID {
	return ModuleAccount("bounty", uint64(bounty))
}

// IsModule reports whether the account is reserved for internal components.
func (a AccountID) IsModule() bool {
	return strings.HasPrefix(string(a), modulePrefix)
}

// Validate checks that an externally supplied account is usable.
func (a AccountID) Validate() error {
	if strings.TrimSpace(string(a)) == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidAccount)
	}
	if a.IsModule() {
		return fmt.Errorf("%w: %s", ErrReservedAccount, a)
	}
	return nil
}

// ValidateAmount rejects zero and negative quantities.
func ValidateAmount(amt Amount) error {
	if amt <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amt)
	}
	return nil
}
