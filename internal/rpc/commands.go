package rpc

import (
	"context"
	"fmt"
	"sort"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/engine"
	"sunshine.org/internal/org"
	"sunshine.org/internal/vote"
)

var ErrUnknownOperation = dao.NewError(dao.KindInput, "UnknownOperation", "unknown operation")

type commandFunc func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error)

type queryFunc func(ctx context.Context, eng *engine.Engine, a Args) (any, error)

var commands = map[string]commandFunc{
	"RegisterOrg": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.RegisterOrg(ctx, caller, org.RegisterRequest{
			Sudo:         a.Sudo,
			Parent:       a.Parent,
			Constitution: a.Constitution,
			Flat:         a.Flat,
			Weighted:     a.Members,
		})
	},
	"IssueShares": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.IssueShares(ctx, caller, a.Org, a.Account, a.Shares)
	},
	"BurnShares": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.BurnShares(ctx, caller, a.Org, a.Account, a.Shares)
	},
	"BatchIssueShares": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.BatchIssueShares(ctx, caller, a.Org, a.Members)
	},
	"BatchBurnShares": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.BatchBurnShares(ctx, caller, a.Org, a.Members)
	},
	"LockShares": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.LockShares(ctx, caller, a.Org, a.Account)
	},
	"UnlockShares": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.UnlockShares(ctx, caller, a.Org, a.Account)
	},
	"ReserveShares": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.ReserveShares(ctx, caller, a.Org, a.Account)
	},
	"UnreserveShares": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.UnreserveShares(ctx, caller, a.Org, a.Account)
	},
	"CreateVote": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		req := vote.Request{Org: a.Org, Topic: a.Topic, Duration: a.Duration}
		if a.Threshold != nil {
			req.Threshold = *a.Threshold
		}
		return eng.CreateVote(ctx, caller, req)
	},
	"SubmitVote": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.SubmitVote(ctx, caller, a.Vote, a.Direction, a.Justification)
	},
	"OpenBank": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.OpenBank(ctx, caller, a.Org, a.Amount, a.Controller)
	},
	"Deposit": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.Deposit(ctx, caller, a.Bank, a.Amount, a.Reserved)
	},
	"ReserveFunds": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.ReserveFunds(ctx, caller, a.Bank, a.Amount)
	},
	"UnreserveFunds": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.UnreserveFunds(ctx, caller, a.Bank, a.Amount)
	},
	"SpendFromBank": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.SpendFromBank(ctx, caller, a.Bank, a.Destination, a.Amount, a.Reserved)
	},
	"CloseBank": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.CloseBank(ctx, caller, a.Bank)
	},
	"ProposeSpend": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.ProposeSpend(ctx, caller, a.Bank, a.Amount, a.Destination)
	},
	"TriggerVote": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		p, v, err := eng.TriggerVote(ctx, caller, a.Bank, a.Spend, a.Threshold, a.Duration)
		if err != nil {
			return nil, err
		}
		return map[string]any{"spend": p, "vote": v}, nil
	},
	"SudoApproveSpend": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.SudoApproveSpend(ctx, caller, a.Bank, a.Spend)
	},
	"ExecuteSpend": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.ExecuteSpend(ctx, caller, a.Bank, a.Spend)
	},
	"SetDefaultThreshold": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		if a.Threshold == nil {
			return nil, fmt.Errorf("%w: threshold is required", vote.ErrInvalidThreshold)
		}
		if err := eng.SetDefaultThreshold(ctx, caller, a.Org, *a.Threshold); err != nil {
			return nil, err
		}
		return a.Threshold, nil
	},
	"PostBounty": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.PostBounty(ctx, caller, a.Org, a.Description, a.Amount)
	},
	"ContributeToBounty": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.ContributeToBounty(ctx, caller, a.Bounty, a.Amount)
	},
	"SubmitForBounty": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.SubmitForBounty(ctx, caller, a.Bounty, a.Work, a.Amount)
	},
	"ApproveBountySubmission": func(ctx context.Context, eng *engine.Engine, caller dao.AccountID, a Args) (any, error) {
		return eng.ApproveBountySubmission(ctx, caller, a.Submission)
	},
}

var queries = map[string]queryFunc{
	"Org": func(_ context.Context, eng *engine.Engine, a Args) (any, error) { return eng.Org(a.Org) },
	"Orgs": func(_ context.Context, eng *engine.Engine, _ Args) (any, error) {
		return eng.Orgs(), nil
	},
	"Members": func(_ context.Context, eng *engine.Engine, a Args) (any, error) { return eng.Members(a.Org) },
	"Profile": func(_ context.Context, eng *engine.Engine, a Args) (any, error) {
		return eng.Profile(a.Org, a.Account)
	},
	"Vote":    func(_ context.Context, eng *engine.Engine, a Args) (any, error) { return eng.Vote(a.Vote) },
	"Ballots": func(_ context.Context, eng *engine.Engine, a Args) (any, error) { return eng.Ballots(a.Vote) },
	"Bank":    func(_ context.Context, eng *engine.Engine, a Args) (any, error) { return eng.Bank(a.Bank) },
	"Banks": func(_ context.Context, eng *engine.Engine, a Args) (any, error) {
		return eng.Banks(a.Org), nil
	},
	"Spend":  func(_ context.Context, eng *engine.Engine, a Args) (any, error) { return eng.Spend(a.Bank, a.Spend) },
	"Spends": func(_ context.Context, eng *engine.Engine, a Args) (any, error) { return eng.Spends(a.Bank) },
	"DefaultThreshold": func(_ context.Context, eng *engine.Engine, a Args) (any, error) {
		return eng.DefaultThreshold(a.Org)
	},
	"Bounty": func(_ context.Context, eng *engine.Engine, a Args) (any, error) { return eng.Bounty(a.Bounty) },
	"Bounties": func(_ context.Context, eng *engine.Engine, a Args) (any, error) {
		return eng.Bounties(a.Org), nil
	},
	"Submission": func(_ context.Context, eng *engine.Engine, a Args) (any, error) {
		return eng.Submission(a.Submission)
	},
	"Submissions": func(_ context.Context, eng *engine.Engine, a Args) (any, error) {
		return eng.Submissions(a.Bounty)
	},
	"Contributions": func(_ context.Context, eng *engine.Engine, a Args) (any, error) {
		return eng.Contributions(a.Bounty)
	},
	"Balance": func(ctx context.Context, eng *engine.Engine, a Args) (any, error) {
		if err := a.Account.Validate(); err != nil {
			return nil, err
		}
		bal, err := eng.Balance(ctx, a.Account)
		if err != nil {
			return nil, err
		}
		return map[string]any{"account": a.Account, "balance": bal}, nil
	},
	"Chain": func(_ context.Context, eng *engine.Engine, _ Args) (any, error) {
		return map[string]any{
			"height":     eng.Height(),
			"last_event": eng.LastEvent(),
			"total_held": eng.TotalHeld(),
		}, nil
	},
	"Events": func(_ context.Context, eng *engine.Engine, a Args) (any, error) {
		items, next := eng.Events(a.Limit, a.After)
		return map[string]any{"items": items, "next_after": next}, nil
	},
}

// Operations lists the command and query names the service accepts.
func Operations() (cmds, qs []string) {
	for name := range commands {
		cmds = append(cmds, name)
	}
	for name := range queries {
		qs = append(qs, name)
	}
	sort.Strings(cmds)
	sort.Strings(qs)
	return cmds, qs
}
