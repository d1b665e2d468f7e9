package engine

import (
	"context"
	"fmt"

	"sunshine.org/internal/bounty"
	"sunshine.org/internal/dao"
	"sunshine.org/internal/events"
	"sunshine.org/internal/ledger"
	"sunshine.org/internal/obs"
	"sunshine.org/internal/org"
	"sunshine.org/internal/spend"
	"sunshine.org/internal/treasury"
	"sunshine.org/internal/vote"
)

// RegisterOrg creates an organization with its initial membership.
func (e *Engine) RegisterOrg(ctx context.Context, caller dao.AccountID, req org.RegisterRequest) (org.Org, error) {
	var out org.Org
	err := e.apply(ctx, "register_org", caller, func() error {
		reg, err := e.orgs.Register(caller, req)
		if err != nil {
			return err
		}
		if out, err = e.orgs.Get(reg.Org); err != nil {
			return err
		}
		e.emit(events.OrgRegistered, OrgRegisteredPayload{
			Org:          out.ID,
			Parent:       out.Parent,
			Sudo:         out.Sudo,
			Constitution: out.Constitution,
			Members:      len(e.orgs.Members(out.ID)),
			TotalShares:  reg.TotalShares,
		})
		return nil
	})
	return out, err
}

func (e *Engine) emitShares(typ events.Type, changes ...org.ShareChange) {
	for _, c := range changes {
		e.emit(typ, SharesPayload(c))
	}
}

func (e *Engine) IssueShares(ctx context.Context, caller dao.AccountID, id dao.OrgID, who dao.AccountID, amount dao.Shares) (org.ShareChange, error) {
	var out org.ShareChange
	err := e.apply(ctx, "issue_shares", caller, func() error {
		var err error
		if out, err = e.orgs.Issue(caller, id, who, amount); err != nil {
			return err
		}
		e.emitShares(events.SharesIssued, out)
		return nil
	})
	return out, err
}

func (e *Engine) BurnShares(ctx context.Context, caller dao.AccountID, id dao.OrgID, who dao.AccountID, amount dao.Shares) (org.ShareChange, error) {
	var out org.ShareChange
	err := e.apply(ctx, "burn_shares", caller, func() error {
		var err error
		if out, err = e.orgs.Burn(caller, id, who, amount); err != nil {
			return err
		}
		e.emitShares(events.SharesBurned, out)
		return nil
	})
	return out, err
}

// BatchIssueShares applies every entry or none.
func (e *Engine) BatchIssueShares(ctx context.Context, caller dao.AccountID, id dao.OrgID, entries []org.Member) ([]org.ShareChange, error) {
	var out []org.ShareChange
	err := e.apply(ctx, "batch_issue_shares", caller, func() error {
		var err error
		if out, err = e.orgs.BatchIssue(caller, id, entries); err != nil {
			return err
		}
		e.emitShares(events.SharesIssued, out...)
		return nil
	})
	return out, err
}

// BatchBurnShares applies every entry or none.
func (e *Engine) BatchBurnShares(ctx context.Context, caller dao.AccountID, id dao.OrgID, entries []org.Member) ([]org.ShareChange, error) {
	var out []org.ShareChange
	err := e.apply(ctx, "batch_burn_shares", caller, func() error {
		var err error
		if out, err = e.orgs.BatchBurn(caller, id, entries); err != nil {
			return err
		}
		e.emitShares(events.SharesBurned, out...)
		return nil
	})
	return out, err
}

func (e *Engine) profileCommand(ctx context.Context, command string, typ events.Type, caller dao.AccountID, op func() (org.Profile, error)) (org.Profile, error) {
	var out org.Profile
	err := e.apply(ctx, command, caller, func() error {
		var err error
		if out, err = op(); err != nil {
			return err
		}
		e.emit(typ, ProfilePayload(out))
		return nil
	})
	return out, err
}

func (e *Engine) LockShares(ctx context.Context, caller dao.AccountID, id dao.OrgID, who dao.AccountID) (org.Profile, error) {
	return e.profileCommand(ctx, "lock_shares", events.SharesLocked, caller, func() (org.Profile, error) {
		return e.orgs.Lock(caller, id, who)
	})
}

func (e *Engine) UnlockShares(ctx context.Context, caller dao.AccountID, id dao.OrgID, who dao.AccountID) (org.Profile, error) {
	return e.profileCommand(ctx, "unlock_shares", events.SharesUnlocked, caller, func() (org.Profile, error) {
		return e.orgs.Unlock(caller, id, who)
	})
}

func (e *Engine) ReserveShares(ctx context.Context, caller dao.AccountID, id dao.OrgID, who dao.AccountID) (org.Profile, error) {
	return e.profileCommand(ctx, "reserve_shares", events.SharesReserved, caller, func() (org.Profile, error) {
		return e.orgs.Reserve(caller, id, who)
	})
}

func (e *Engine) UnreserveShares(ctx context.Context, caller dao.AccountID, id dao.OrgID, who dao.AccountID) (org.Profile, error) {
	return e.profileCommand(ctx, "unreserve_shares", events.SharesUnreserved, caller, func() (org.Profile, error) {
		return e.orgs.Unreserve(caller, id, who)
	})
}

func (e *Engine) emitVoteStarted(v vote.Vote) {
	e.emit(events.VoteStarted, VoteStartedPayload{
		Vote:      v.ID,
		Org:       v.Org,
		Threshold: v.Threshold,
		Topic:     v.Topic,
		Expiry:    v.Expiry,
	})
}

// CreateVote opens a standalone vote of an org.
func (e *Engine) CreateVote(ctx context.Context, caller dao.AccountID, req vote.Request) (vote.Vote, error) {
	var out vote.Vote
	err := e.apply(ctx, "create_vote", caller, func() error {
		var err error
		if out, err = e.votes.Create(caller, req); err != nil {
			return err
		}
		e.emitVoteStarted(out)
		return nil
	})
	return out, err
}

// SubmitVote casts caller's ballot. A ballot that resolves a spend vote also
// approves and executes (or rejects) the spend in the same step.
func (e *Engine) SubmitVote(ctx context.Context, caller dao.AccountID, id dao.VoteID, dir vote.Direction, justification dao.ContentRef) (vote.Cast, error) {
	var out vote.Cast
	err := e.apply(ctx, "submit_vote", caller, func() error {
		var err error
		out, err = e.votes.Submit(ctx, caller, id, dir, justification)
		return err
	})
	return out, err
}

// OpenBank opens a bank for an org seeded from caller's balance. An empty
// controller leaves the bank to the org sudo and governance.
func (e *Engine) OpenBank(ctx context.Context, caller dao.AccountID, id dao.OrgID, seed dao.Amount, controller dao.AccountID) (treasury.Bank, error) {
	var out treasury.Bank
	err := e.apply(ctx, "open_bank", caller, func() error {
		if controller != "" {
			if err := controller.Validate(); err != nil {
				return err
			}
		}
		var err error
		if out, err = e.banks.Open(ctx, caller, id, seed, controller); err != nil {
			return err
		}
		e.emit(events.BankOpened, bankPayload(out, caller, seed, false))
		return nil
	})
	return out, err
}

// Deposit moves funds from caller into a bank. Escrow banks only take
// bounty contributions.
func (e *Engine) Deposit(ctx context.Context, caller dao.AccountID, id dao.BankID, amount dao.Amount, reserved bool) (treasury.Bank, error) {
	var out treasury.Bank
	err := e.apply(ctx, "deposit", caller, func() error {
		b, err := e.banks.Get(id)
		if err != nil {
			return err
		}
		if b.Escrowed() {
			return fmt.Errorf("%w: bank %d", treasury.ErrEscrowBank, id)
		}
		if reserved {
			out, err = e.banks.DepositReserved(ctx, caller, id, amount)
		} else {
			out, err = e.banks.DepositFree(ctx, caller, id, amount)
		}
		if err != nil {
			return err
		}
		e.emit(events.BankDeposit, bankPayload(out, caller, amount, reserved))
		return nil
	})
	return out, err
}

func (e *Engine) ReserveFunds(ctx context.Context, caller dao.AccountID, id dao.BankID, amount dao.Amount) (treasury.Bank, error) {
	var out treasury.Bank
	err := e.apply(ctx, "reserve_funds", caller, func() error {
		var err error
		if out, err = e.banks.Reserve(caller, id, amount); err != nil {
			return err
		}
		e.emit(events.FundsReserved, bankPayload(out, "", amount, true))
		return nil
	})
	return out, err
}

func (e *Engine) UnreserveFunds(ctx context.Context, caller dao.AccountID, id dao.BankID, amount dao.Amount) (treasury.Bank, error) {
	var out treasury.Bank
	err := e.apply(ctx, "unreserve_funds", caller, func() error {
		var err error
		if out, err = e.banks.Unreserve(caller, id, amount); err != nil {
			return err
		}
		e.emit(events.FundsUnreserved, bankPayload(out, "", amount, false))
		return nil
	})
	return out, err
}

// SpendFromBank pays dest directly, without a proposal.
func (e *Engine) SpendFromBank(ctx context.Context, caller dao.AccountID, id dao.BankID, dest dao.AccountID, amount dao.Amount, reserved bool) (treasury.Bank, error) {
	var out treasury.Bank
	err := e.apply(ctx, "spend_from_bank", caller, func() error {
		var err error
		if reserved {
			out, err = e.banks.SpendFromReserved(ctx, caller, id, dest, amount)
		} else {
			out, err = e.banks.SpendFromFree(ctx, caller, id, dest, amount)
		}
		if err != nil {
			return err
		}
		e.emit(events.BankSpend, bankPayload(out, dest, amount, reserved))
		return nil
	})
	return out, err
}

func (e *Engine) CloseBank(ctx context.Context, caller dao.AccountID, id dao.BankID) (treasury.Bank, error) {
	var out treasury.Bank
	err := e.apply(ctx, "close_bank", caller, func() error {
		var err error
		if out, err = e.banks.Close(caller, id); err != nil {
			return err
		}
		if err := e.spends.CheckClosable(id); err != nil {
			return err
		}
		e.emit(events.BankClosed, bankPayload(out, "", 0, false))
		return nil
	})
	return out, err
}

func (e *Engine) ProposeSpend(ctx context.Context, caller dao.AccountID, bank dao.BankID, amount dao.Amount, dest dao.AccountID) (spend.Proposal, error) {
	var out spend.Proposal
	err := e.apply(ctx, "propose_spend", caller, func() error {
		var err error
		if out, err = e.spends.Propose(caller, bank, amount, dest); err != nil {
			return err
		}
		e.emit(events.SpendProposed, SpendPayload{
			Bank:        out.Bank,
			Spend:       out.ID,
			Org:         out.Org,
			Amount:      out.Amount,
			Destination: out.Destination,
			State:       string(out.State),
		})
		return nil
	})
	return out, err
}

// TriggerVote opens the vote that gates a proposal. A nil threshold falls
// back to the org default; a zero duration to the configured one.
func (e *Engine) TriggerVote(ctx context.Context, caller dao.AccountID, bank dao.BankID, id dao.SpendID, threshold *vote.Threshold, duration dao.Height) (spend.Proposal, vote.Vote, error) {
	var (
		p spend.Proposal
		v vote.Vote
	)
	err := e.apply(ctx, "trigger_vote", caller, func() error {
		var err error
		if p, v, err = e.spends.TriggerVote(caller, bank, id, threshold, duration); err != nil {
			return err
		}
		e.emitVoteStarted(v)
		return nil
	})
	return p, v, err
}

func (e *Engine) SudoApproveSpend(ctx context.Context, caller dao.AccountID, bank dao.BankID, id dao.SpendID) (spend.Proposal, error) {
	var out spend.Proposal
	err := e.apply(ctx, "sudo_approve_spend", caller, func() error {
		var err error
		out, err = e.spends.SudoApprove(caller, bank, id)
		return err
	})
	return out, err
}

// ExecuteSpend pays an approved proposal, or marks it rejected when its vote
// failed or the bank can no longer cover it.
func (e *Engine) ExecuteSpend(ctx context.Context, caller dao.AccountID, bank dao.BankID, id dao.SpendID) (spend.Proposal, error) {
	var out spend.Proposal
	err := e.apply(ctx, "execute_spend", caller, func() error {
		var err error
		out, err = e.spends.Execute(ctx, caller, bank, id)
		return err
	})
	return out, err
}

func (e *Engine) SetDefaultThreshold(ctx context.Context, caller dao.AccountID, id dao.OrgID, th vote.Threshold) error {
	return e.apply(ctx, "set_default_threshold", caller, func() error {
		if err := e.spends.SetDefaultThreshold(caller, id, th); err != nil {
			return err
		}
		e.emit(events.DefaultThresholdSet, ThresholdPayload{Org: id, Threshold: th})
		return nil
	})
}

func (e *Engine) PostBounty(ctx context.Context, caller dao.AccountID, id dao.OrgID, description dao.ContentRef, amount dao.Amount) (bounty.Bounty, error) {
	var out bounty.Bounty
	err := e.apply(ctx, "post_bounty", caller, func() error {
		var err error
		if out, err = e.bounties.Post(ctx, caller, id, description, amount); err != nil {
			return err
		}
		e.emit(events.BountyPosted, BountyPayload{
			Bounty:      out.ID,
			Org:         out.Org,
			Bank:        out.Bank,
			Depositer:   out.Depositer,
			Description: out.Description,
			Total:       out.Total,
		})
		return nil
	})
	return out, err
}

func (e *Engine) ContributeToBounty(ctx context.Context, caller dao.AccountID, id dao.BountyID, amount dao.Amount) (bounty.Bounty, error) {
	var out bounty.Bounty
	err := e.apply(ctx, "contribute_to_bounty", caller, func() error {
		b, c, err := e.bounties.Contribute(ctx, caller, id, amount)
		if err != nil {
			return err
		}
		out = b
		e.emit(events.BountyContributionRaised, ContributionPayload{
			Bounty:      id,
			Account:     caller,
			Amount:      amount,
			Contributed: c.Amount,
			Total:       b.Total,
		})
		return nil
	})
	return out, err
}

func (e *Engine) SubmitForBounty(ctx context.Context, caller dao.AccountID, id dao.BountyID, ref dao.ContentRef, requested dao.Amount) (bounty.Submission, error) {
	var out bounty.Submission
	err := e.apply(ctx, "submit_for_bounty", caller, func() error {
		var err error
		if out, err = e.bounties.Submit(caller, id, ref, requested); err != nil {
			return err
		}
		e.emit(events.BountySubmissionPosted, SubmissionPayload{
			Submission:      out.ID,
			Bounty:          out.Bounty,
			Submitter:       out.Submitter,
			Ref:             out.Submission,
			AmountRequested: out.AmountRequested,
		})
		return nil
	})
	return out, err
}

func (e *Engine) ApproveBountySubmission(ctx context.Context, caller dao.AccountID, id dao.SubmissionID) (bounty.Payment, error) {
	var out bounty.Payment
	err := e.apply(ctx, "approve_bounty_submission", caller, func() error {
		var err error
		if out, err = e.bounties.Approve(ctx, caller, id); err != nil {
			return err
		}
		e.emit(events.BountyPaymentExecuted, PaymentPayload{
			Bounty:     out.Bounty.ID,
			Submission: out.Submission.ID,
			Submitter:  out.Submission.Submitter,
			Amount:     out.Submission.AmountRequested,
			Total:      out.Bounty.Total,
		})
		return nil
	})
	return out, err
}

// AdvanceHeight moves the chain height forward and expires due votes. Spend
// proposals gated by an expired vote are rejected in the same step.
func (e *Engine) AdvanceHeight(ctx context.Context, to dao.Height) ([]vote.Vote, error) {
	var out []vote.Vote
	err := e.apply(ctx, "advance_height", ChainAccount, func() error {
		if cur := e.height(); to < cur {
			return fmt.Errorf("%w: height %d is behind %d", ErrHeightRegression, to, cur)
		}
		e.chain.Put("height", to)
		var err error
		out, err = e.votes.ExpireDue(ctx)
		return err
	})
	return out, err
}

// Endow credits an account's external balance outside governance, for
// genesis allocations and the development faucet. The idempotency key makes
// retries safe.
func (e *Engine) Endow(ctx context.Context, account dao.AccountID, amount dao.Amount, idemKey string) (ledger.Entry, error) {
	if err := account.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	entry, err := e.funds.Mint(ctx, account, amount, idemKey)
	kind := ""
	if err != nil {
		kind = dao.KindOf(err).String()
	}
	obs.ObserveCommand("endow", kind)
	return entry, err
}
