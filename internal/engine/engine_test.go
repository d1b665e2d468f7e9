package engine

import (
	"context"
	"errors"
	"io"
	"testing"

	"sunshine.org/internal/bounty"
	"sunshine.org/internal/dao"
	"sunshine.org/internal/events"
	"sunshine.org/internal/ledger"
	"sunshine.org/internal/obs"
	"sunshine.org/internal/org"
	"sunshine.org/internal/spend"
	"sunshine.org/internal/state"
	"sunshine.org/internal/treasury"
	"sunshine.org/internal/vote"
)

type recordingPersister struct {
	fail    error
	changes [][]state.Change
	events  [][]events.Event
}

func (p *recordingPersister) Persist(_ context.Context, changes []state.Change, evts []events.Event) error {
	if p.fail != nil {
		return p.fail
	}
	p.changes = append(p.changes, changes)
	p.events = append(p.events, evts)
	return nil
}

type harness struct {
	ctx     context.Context
	funds   *ledger.InMemory
	persist *recordingPersister
	eng     *Engine
	sunk    []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Cleanup(obs.SetOutput(io.Discard))
	h := &harness{
		ctx:     context.Background(),
		funds:   ledger.NewInMemory(),
		persist: &recordingPersister{},
	}
	h.eng = New(h.funds, DefaultConfig(),
		WithPersister(h.persist),
		WithSink(func(evts []events.Event) { h.sunk = append(h.sunk, evts...) }),
	)
	for _, acct := range []dao.AccountID{"alice", "bob", "root"} {
		if _, err := h.eng.Endow(h.ctx, acct, 1000, "genesis-"+string(acct)); err != nil {
			t.Fatal(err)
		}
	}
	return h
}

// registerPair creates an org where alice and bob hold one share each and
// root is sudo.
func (h *harness) registerPair(t *testing.T) dao.OrgID {
	t.Helper()
	o, err := h.eng.RegisterOrg(h.ctx, "root", org.RegisterRequest{
		Sudo:         "root",
		Constitution: dao.RefFor([]byte("constitution")),
		Flat:         []dao.AccountID{"alice", "bob"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return o.ID
}

func (h *harness) balance(a dao.AccountID) dao.Amount {
	b, _ := h.eng.Balance(h.ctx, a)
	return b
}

func types(evts []events.Event) []events.Type {
	out := make([]events.Type, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}

func sameTypes(got []events.Type, want ...events.Type) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestUnanimousVoteApprovesOnLastBallot(t *testing.T) {
	h := newHarness(t)
	members := []dao.AccountID{"m1", "m2", "m3", "m4", "m5", "m6"}
	o, err := h.eng.RegisterOrg(h.ctx, "m1", org.RegisterRequest{Flat: members})
	if err != nil {
		t.Fatal(err)
	}
	if o.TotalShares != 6 {
		t.Fatalf("expected 6 shares, got %d", o.TotalShares)
	}
	v, err := h.eng.CreateVote(h.ctx, "m1", vote.Request{Org: o.ID, Threshold: vote.UnanimousThreshold()})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members[:5] {
		c, err := h.eng.SubmitVote(h.ctx, m, v.ID, vote.InFavor, dao.ContentRef{})
		if err != nil {
			t.Fatal(err)
		}
		if c.Vote.Outcome != vote.Open {
			t.Fatalf("expected open after %s, got %s", m, c.Vote.Outcome)
		}
	}
	c, err := h.eng.SubmitVote(h.ctx, "m6", v.ID, vote.InFavor, dao.ContentRef{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Vote.Outcome != vote.Approved {
		t.Fatalf("expected approved, got %s", c.Vote.Outcome)
	}
	if _, err := h.eng.SubmitVote(h.ctx, "m1", v.ID, vote.Against, dao.ContentRef{}); !errors.Is(err, vote.ErrVoteClosed) {
		t.Fatalf("expected ErrVoteClosed, got %v", err)
	}
	last := h.persist.events[len(h.persist.events)-1]
	if !sameTypes(types(last), events.Voted, events.VoteResolved) {
		t.Fatalf("unexpected events %v", types(last))
	}
}

func TestProposalAboveFreeFundsLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	b, err := h.eng.OpenBank(h.ctx, "alice", id, 100, "")
	if err != nil {
		t.Fatal(err)
	}
	before := h.eng.LastEvent()
	if _, err := h.eng.ProposeSpend(h.ctx, "alice", b.ID, 150, "dave"); !errors.Is(err, treasury.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if h.eng.LastEvent() != before {
		t.Fatalf("failed command emitted events")
	}
	if spends, _ := h.eng.Spends(b.ID); len(spends) != 0 {
		t.Fatalf("failed command stored %d proposals", len(spends))
	}
	p, err := h.eng.ProposeSpend(h.ctx, "alice", b.ID, 100, "dave")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != 1 {
		t.Fatalf("expected the first spend id after a rollback, got %d", p.ID)
	}
}

func TestBountyLifecycle(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	b, err := h.eng.PostBounty(h.ctx, "alice", id, dao.RefFor([]byte("fix the parser")), 50)
	if err != nil {
		t.Fatal(err)
	}
	if b.Total != 50 {
		t.Fatalf("expected 50, got %d", b.Total)
	}
	if b, err = h.eng.ContributeToBounty(h.ctx, "bob", b.ID, 20); err != nil {
		t.Fatal(err)
	}
	if b.Total != 70 {
		t.Fatalf("expected 70, got %d", b.Total)
	}
	if _, err := h.eng.Deposit(h.ctx, "bob", b.Bank, 5, false); !errors.Is(err, treasury.ErrEscrowBank) {
		t.Fatalf("expected ErrEscrowBank, got %v", err)
	}
	s, err := h.eng.SubmitForBounty(h.ctx, "carol", b.ID, dao.RefFor([]byte("patch")), 70)
	if err != nil {
		t.Fatal(err)
	}
	pay, err := h.eng.ApproveBountySubmission(h.ctx, "alice", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if pay.Bounty.Total != 0 || pay.Submission.State != bounty.Approved {
		t.Fatalf("unexpected payment %+v", pay)
	}
	if _, err := h.eng.ApproveBountySubmission(h.ctx, "alice", s.ID); !errors.Is(err, bounty.ErrAlreadyApproved) {
		t.Fatalf("expected ErrAlreadyApproved, got %v", err)
	}
	if h.balance("carol") != 70 || h.balance("alice") != 950 || h.balance("bob") != 980 {
		t.Fatalf("unexpected balances carol=%d alice=%d bob=%d", h.balance("carol"), h.balance("alice"), h.balance("bob"))
	}
	if err := h.eng.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestPercentVoteApprovesOnSingleLargeBallot(t *testing.T) {
	h := newHarness(t)
	o, err := h.eng.RegisterOrg(h.ctx, "root", org.RegisterRequest{
		Sudo:     "root",
		Weighted: []org.Member{{Account: "whale", Shares: 150}, {Account: "crowd", Shares: 850}},
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := h.eng.CreateVote(h.ctx, "root", vote.Request{
		Org:       o.ID,
		Threshold: vote.PercentThreshold(vote.Pct(10), vote.Pct(5)),
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := h.eng.SubmitVote(h.ctx, "whale", v.ID, vote.InFavor, dao.ContentRef{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Vote.Outcome != vote.Approved || c.Vote.Tally.Support != 150 {
		t.Fatalf("unexpected cast %+v", c.Vote)
	}
}

func TestSpendVoteEventsAreOrdered(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	b, _ := h.eng.OpenBank(h.ctx, "alice", id, 100, "")
	p, err := h.eng.ProposeSpend(h.ctx, "bob", b.ID, 40, "dave")
	if err != nil {
		t.Fatal(err)
	}
	p, v, err := h.eng.TriggerVote(h.ctx, "bob", b.ID, p.ID, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.State != spend.Voting {
		t.Fatalf("expected voting, got %s", p.State)
	}
	if !sameTypes(types(h.persist.events[len(h.persist.events)-1]), events.VoteTriggered, events.VoteStarted) {
		t.Fatalf("unexpected trigger events %v", types(h.persist.events[len(h.persist.events)-1]))
	}

	// alice alone holds half the shares, which meets the 50% default.
	if _, err := h.eng.SubmitVote(h.ctx, "alice", v.ID, vote.InFavor, dao.ContentRef{}); err != nil {
		t.Fatal(err)
	}
	got := types(h.persist.events[len(h.persist.events)-1])
	if !sameTypes(got, events.Voted, events.VoteResolved, events.SpendApproved, events.BankSpend, events.SpendExecuted) {
		t.Fatalf("unexpected events %v", got)
	}
	if h.balance("dave") != 40 {
		t.Fatalf("expected payout of 40, got %d", h.balance("dave"))
	}
	if p, _ = h.eng.Spend(b.ID, p.ID); p.State != spend.Executed {
		t.Fatalf("expected executed, got %s", p.State)
	}

	all, _ := h.eng.Events(1000, 0)
	for i, e := range all {
		if e.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
	}
	if len(h.sunk) != len(all) {
		t.Fatalf("sink saw %d events, log has %d", len(h.sunk), len(all))
	}
}

func TestPersistFailureCompensatesExternalFunds(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	h.persist.fail = errors.New("disk full")

	if _, err := h.eng.OpenBank(h.ctx, "alice", id, 300, ""); err == nil {
		t.Fatalf("expected persist failure")
	}
	if h.balance("alice") != 1000 {
		t.Fatalf("expected the seed to be returned, got %d", h.balance("alice"))
	}
	if banks := h.eng.Banks(0); len(banks) != 0 {
		t.Fatalf("expected no banks, got %+v", banks)
	}

	h.persist.fail = nil
	b, err := h.eng.OpenBank(h.ctx, "alice", id, 300, "")
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != 1 || h.eng.TotalHeld() != 300 || h.balance("alice") != 700 {
		t.Fatalf("unexpected state after retry: bank %d held %d balance %d", b.ID, h.eng.TotalHeld(), h.balance("alice"))
	}
}

func TestFailedSpendRestoresBalances(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	b, _ := h.eng.OpenBank(h.ctx, "alice", id, 100, "alice")
	if _, err := h.eng.SpendFromBank(h.ctx, "alice", b.ID, "module/bounty/1", 10, false); !errors.Is(err, dao.ErrReservedAccount) {
		t.Fatalf("expected ErrReservedAccount, got %v", err)
	}
	if _, err := h.eng.SpendFromBank(h.ctx, "bob", b.ID, "bob", 10, false); !errors.Is(err, dao.ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	got, _ := h.eng.Bank(b.ID)
	if got.Free != 100 || h.balance("bob") != 1000 {
		t.Fatalf("failed spends moved funds: bank %d bob %d", got.Free, h.balance("bob"))
	}
}

func TestAdvanceHeightExpiresSpendVotes(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	b, _ := h.eng.OpenBank(h.ctx, "alice", id, 100, "")
	p, _ := h.eng.ProposeSpend(h.ctx, "alice", b.ID, 10, "dave")
	th := vote.UnanimousThreshold()
	if _, _, err := h.eng.TriggerVote(h.ctx, "alice", b.ID, p.ID, &th, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.AdvanceHeight(h.ctx, 3); err != nil {
		t.Fatal(err)
	}
	if p, _ = h.eng.Spend(b.ID, p.ID); p.State != spend.Voting {
		t.Fatalf("expected voting at height 3, got %s", p.State)
	}
	expired, err := h.eng.AdvanceHeight(h.ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].Outcome != vote.Expired {
		t.Fatalf("unexpected expired votes %+v", expired)
	}
	if p, _ = h.eng.Spend(b.ID, p.ID); p.State != spend.Rejected {
		t.Fatalf("expected rejected, got %s", p.State)
	}
	if _, err := h.eng.AdvanceHeight(h.ctx, 9); !errors.Is(err, ErrHeightRegression) {
		t.Fatalf("expected ErrHeightRegression, got %v", err)
	}
	if h.eng.Height() != 10 {
		t.Fatalf("expected height 10, got %d", h.eng.Height())
	}
}

func TestModuleCallersAreRejected(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	if _, err := h.eng.OpenBank(h.ctx, dao.GovernanceAccount(id), id, 10, ""); !errors.Is(err, dao.ErrReservedAccount) {
		t.Fatalf("expected ErrReservedAccount, got %v", err)
	}
	if _, err := h.eng.Endow(h.ctx, dao.EscrowAccount(1), 10, ""); !errors.Is(err, dao.ErrReservedAccount) {
		t.Fatalf("expected ErrReservedAccount, got %v", err)
	}
}

func TestRestoreFromSnapshot(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	if _, err := h.eng.IssueShares(h.ctx, "root", id, "carol", 3); err != nil {
		t.Fatal(err)
	}
	snap, err := h.eng.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	history, _ := h.eng.Events(1000, 0)

	restored := New(h.funds, DefaultConfig())
	if err := restored.Restore(snap, history); err != nil {
		t.Fatal(err)
	}
	o, err := restored.Org(id)
	if err != nil {
		t.Fatal(err)
	}
	if o.TotalShares != 5 || restored.LastEvent() != h.eng.LastEvent() {
		t.Fatalf("unexpected restored org %+v at seq %d", o, restored.LastEvent())
	}
	if _, err := restored.IssueShares(h.ctx, "root", id, "dave", 1); err != nil {
		t.Fatal(err)
	}
	all, _ := restored.Events(1000, 0)
	if all[len(all)-1].Seq != h.eng.LastEvent()+1 {
		t.Fatalf("sequence did not continue after restore")
	}
}

func TestEscrowBankRefusesSpendProposals(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	b, err := h.eng.PostBounty(h.ctx, "alice", id, dao.RefFor([]byte("audit")), 50)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.ProposeSpend(h.ctx, "bob", b.Bank, 50, "bob"); !errors.Is(err, treasury.ErrEscrowBank) {
		t.Fatalf("expected ErrEscrowBank, got %v", err)
	}
	if got, _ := h.eng.Spends(b.Bank); len(got) != 0 {
		t.Fatalf("expected no proposals, got %+v", got)
	}
	if err := h.eng.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestCloseBankWaitsForPendingSpends(t *testing.T) {
	h := newHarness(t)
	id := h.registerPair(t)
	b, _ := h.eng.OpenBank(h.ctx, "alice", id, 100, "")
	p, err := h.eng.ProposeSpend(h.ctx, "alice", b.ID, 50, "dave")
	if err != nil {
		t.Fatal(err)
	}
	_, v, err := h.eng.TriggerVote(h.ctx, "alice", b.ID, p.ID, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.SpendFromBank(h.ctx, "root", b.ID, "root", 100, false); err != nil {
		t.Fatal(err)
	}
	if _, err := h.eng.CloseBank(h.ctx, "root", b.ID); !errors.Is(err, spend.ErrPendingSpends) {
		t.Fatalf("expected ErrPendingSpends, got %v", err)
	}
	if _, err := h.eng.Bank(b.ID); err != nil {
		t.Fatalf("refused close must leave the bank: %v", err)
	}

	c, err := h.eng.SubmitVote(h.ctx, "alice", v.ID, vote.InFavor, dao.ContentRef{})
	if err != nil {
		t.Fatalf("deciding ballot failed: %v", err)
	}
	if c.Vote.Outcome != vote.Approved {
		t.Fatalf("expected approved, got %s", c.Vote.Outcome)
	}
	if p, _ = h.eng.Spend(b.ID, p.ID); p.State != spend.Rejected || h.balance("dave") != 0 {
		t.Fatalf("expected rejection without payout, got %s / %d", p.State, h.balance("dave"))
	}
	if _, err := h.eng.CloseBank(h.ctx, "root", b.ID); err != nil {
		t.Fatalf("close after the spend is final: %v", err)
	}
}

// txPersister stages each step's external moves and applies them to funds
// only when the step persists.
type txPersister struct {
	funds     *ledger.InMemory
	fail      error
	commits   int
	rollbacks int
}

func (p *txPersister) Persist(context.Context, []state.Change, []events.Event) error {
	return errors.New("steps persist through BeginStep")
}

func (p *txPersister) BeginStep(context.Context) (Step, error) {
	return &txStep{p: p, staged: stagedFunds{InMemory: p.funds, delta: map[dao.AccountID]dao.Amount{}}}, nil
}

type txStep struct {
	p      *txPersister
	staged stagedFunds
	done   bool
}

func (s *txStep) Funds() ledger.Service { return &s.staged }

func (s *txStep) Persist(ctx context.Context, _ []state.Change, _ []events.Event) error {
	if s.p.fail != nil {
		return s.p.fail
	}
	for acct, d := range s.staged.delta {
		var err error
		switch {
		case d > 0:
			_, err = s.p.funds.Credit(ctx, acct, d)
		case d < 0:
			_, err = s.p.funds.Debit(ctx, acct, -d)
		}
		if err != nil {
			return err
		}
	}
	s.done = true
	s.p.commits++
	return nil
}

func (s *txStep) Rollback() error {
	if !s.done {
		s.done = true
		s.p.rollbacks++
	}
	return nil
}

// stagedFunds reads through to the committed balances and keeps its own
// moves aside.
type stagedFunds struct {
	*ledger.InMemory
	delta map[dao.AccountID]dao.Amount
}

func (f *stagedFunds) Debit(ctx context.Context, acct dao.AccountID, amt dao.Amount) (ledger.Entry, error) {
	bal, _ := f.InMemory.Balance(ctx, acct)
	if bal+f.delta[acct] < amt {
		return ledger.Entry{}, ledger.ErrInsufficientBalance
	}
	f.delta[acct] -= amt
	return ledger.Entry{Account: acct, Delta: -amt, Kind: ledger.KindDebit}, nil
}

func (f *stagedFunds) Credit(_ context.Context, acct dao.AccountID, amt dao.Amount) (ledger.Entry, error) {
	f.delta[acct] += amt
	return ledger.Entry{Account: acct, Delta: amt, Kind: ledger.KindCredit}, nil
}

func TestStepPersisterCommitsFundsWithState(t *testing.T) {
	t.Cleanup(obs.SetOutput(io.Discard))
	ctx := context.Background()
	funds := ledger.NewInMemory()
	p := &txPersister{funds: funds}
	eng := New(funds, DefaultConfig(), WithPersister(p))
	for _, acct := range []dao.AccountID{"alice", "bob"} {
		if _, err := eng.Endow(ctx, acct, 1000, "genesis-"+string(acct)); err != nil {
			t.Fatal(err)
		}
	}
	o, err := eng.RegisterOrg(ctx, "root", org.RegisterRequest{
		Sudo:         "root",
		Constitution: dao.RefFor([]byte("constitution")),
		Flat:         []dao.AccountID{"alice", "bob"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eng.OpenBank(ctx, "alice", o.ID, 100, ""); err != nil {
		t.Fatal(err)
	}
	if bal, _ := funds.Balance(ctx, "alice"); bal != 900 {
		t.Fatalf("expected the seed to leave alice's wallet at commit, got %d", bal)
	}
	if p.commits != 2 {
		t.Fatalf("expected 2 committed steps, got %d", p.commits)
	}

	p.fail = errors.New("connection reset")
	if _, err := eng.OpenBank(ctx, "bob", o.ID, 100, ""); err == nil {
		t.Fatalf("expected the persist failure to abort the step")
	}
	if bal, _ := funds.Balance(ctx, "bob"); bal != 1000 {
		t.Fatalf("aborted step moved bob's funds: %d", bal)
	}
	if p.rollbacks != 1 {
		t.Fatalf("expected 1 rolled back step, got %d", p.rollbacks)
	}
	if len(eng.Banks(o.ID)) != 1 {
		t.Fatalf("aborted bank must not exist: %+v", eng.Banks(o.ID))
	}
}
