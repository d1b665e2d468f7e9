// Package engine is the ledger context: it owns the state store and every
// governance component, serializes commands and turns each one into a
// single atomic step that either commits with its events or leaves no trace.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"sunshine.org/internal/audit"
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

// ChainAccount is the caller recorded for height changes.
var ChainAccount = dao.ModuleAccount("chain", 0)

const seqEvents = "events"

var ErrHeightRegression = dao.NewError(dao.KindInput, "HeightRegression", "height may not move backwards")

// Config carries the tunables of the core.
type Config struct {
	MinSeed          dao.Amount
	DefaultThreshold vote.Threshold
	DefaultDuration  dao.Height
}

// DefaultConfig is a majority vote with a 10% turnout floor.
func DefaultConfig() Config {
	return Config{
		MinSeed:          1,
		DefaultThreshold: vote.PercentThreshold(vote.Pct(50), vote.Pct(10)),
	}
}

// Persister stores the rows and events of a step before it commits. An
// error aborts the step.
type Persister interface {
	Persist(ctx context.Context, changes []state.Change, evts []events.Event) error
}

// StepPersister is a Persister that opens a transaction for each step. The
// step's external balance moves go through the returned Step and commit with
// its rows and events.
type StepPersister interface {
	Persister
	BeginStep(ctx context.Context) (Step, error)
}

// Step is one open step transaction. Persist writes and commits; Rollback
// after a successful Persist is a no-op.
type Step interface {
	Funds() ledger.Service
	Persist(ctx context.Context, changes []state.Change, evts []events.Event) error
	Rollback() error
}

// Sink receives the events of each committed step, in order. Sinks must not
// block.
type Sink func([]events.Event)

// Option customises an Engine.
type Option func(*Engine)

func WithPersister(p Persister) Option { return func(e *Engine) { e.persister = p } }

func WithSink(s Sink) Option { return func(e *Engine) { e.sinks = append(e.sinks, s) } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// Engine is the single entry point for commands and queries.
type Engine struct {
	mu deadlock.Mutex

	store   *state.Store
	seq     *state.Sequences
	chain   *state.Table[string, dao.Height]
	funds   ledger.Service
	wallets *ledger.Journal

	orgs     *org.Registry
	votes    *vote.Engine
	banks    *treasury.Ledger
	spends   *spend.Workflow
	bounties *bounty.Lifecycle

	log       *events.Log
	persister Persister
	sinks     []Sink
	logger    *zap.Logger

	// per-step scratch, guarded by mu
	caller  dao.AccountID
	pending []events.Event
	emitErr error
}

// New wires a fresh, empty engine around funds, the external balances.
func New(funds ledger.Service, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:   state.NewStore(),
		funds:   funds,
		wallets: ledger.NewJournal(funds),
		log:     events.NewLog(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = obs.Logger()
	}
	e.seq = state.NewSequences(e.store)
	e.chain = state.NewTable[string, dao.Height](e.store, "chain")
	e.orgs = org.NewRegistry(e.store, e.seq)
	e.votes = vote.NewEngine(e.store, e.seq, e.orgs, e.height)
	e.banks = treasury.NewLedger(e.store, e.seq, e.orgs, e.wallets, cfg.MinSeed)

	// Ballot and resolution events precede the spend transitions they cause,
	// so the engine observes votes before the spend workflow does.
	e.votes.OnCast(e.onCast)
	e.votes.Observe(resolutionObserver{e})
	e.spends = spend.NewWorkflow(e.store, e.seq, e.orgs, e.banks, e.votes, spend.Defaults{
		Threshold: cfg.DefaultThreshold,
		Duration:  cfg.DefaultDuration,
	})
	e.spends.OnTransition(e.onSpendTransition)
	e.bounties = bounty.NewLifecycle(e.store, e.seq, e.orgs, e.banks)
	return e
}

func (e *Engine) height() dao.Height {
	h, _ := e.chain.Get("height")
	return h
}

// apply runs fn as one atomic step for caller.
func (e *Engine) apply(ctx context.Context, command string, caller dao.AccountID, fn func() error) error {
	if caller != ChainAccount {
		if err := caller.Validate(); err != nil {
			obs.ObserveCommand(command, dao.KindOf(err).String())
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	persist := e.persister
	if sp, ok := e.persister.(StepPersister); ok {
		step, err := sp.BeginStep(ctx)
		if err != nil {
			obs.ObserveCommand(command, dao.KindOf(err).String())
			return fmt.Errorf("begin step: %w", err)
		}
		defer func() { _ = step.Rollback() }()
		defer e.wallets.Bind(step.Funds())()
		persist = step
	}
	if err := e.store.Begin(); err != nil {
		return err
	}
	e.caller, e.pending, e.emitErr = caller, nil, nil

	err := fn()
	if err == nil {
		err = e.emitErr
	}
	if err == nil && persist != nil {
		var changes []state.Change
		if changes, err = e.store.Changes(); err == nil {
			if perr := persist.Persist(ctx, changes, e.pending); perr != nil {
				err = fmt.Errorf("persist: %w", perr)
			}
		}
	}
	evts := e.pending
	e.caller, e.pending, e.emitErr = "", nil, nil

	if err != nil {
		e.store.Rollback()
		if cerr := e.wallets.Compensate(ctx); cerr != nil {
			e.logger.Error("external balance compensation failed",
				zap.String("command", command), zap.String("caller", string(caller)), zap.Error(cerr))
			err = errors.Join(err, cerr)
		}
		kind := dao.KindOf(err)
		obs.ObserveCommand(command, kind.String())
		e.logger.Info("command rejected",
			zap.String("command", command),
			zap.String("caller", string(caller)),
			zap.String("kind", kind.String()),
			zap.String("code", dao.CodeOf(err)),
			zap.Error(err),
		)
		return err
	}
	if err := e.store.Commit(); err != nil {
		return err
	}
	e.wallets.Reset()

	e.log.Append(evts...)
	obs.ObserveCommand(command, "")
	obs.SetTreasuryHeld(int64(e.banks.TotalHeld()))
	for _, ev := range evts {
		obs.ObserveEvent(string(ev.Type))
	}
	for _, sink := range e.sinks {
		sink(evts)
	}
	e.logger.Info("command applied",
		zap.String("command", command),
		zap.String("caller", string(caller)),
		zap.Int("events", len(evts)),
		zap.Uint64("height", uint64(e.height())),
		zap.Duration("duration", time.Since(start)),
	)
	if len(evts) > 0 {
		_ = audit.LogEvent(ctx, "command."+command, caller, map[string]any{
			"first_seq": evts[0].Seq,
			"last_seq":  evts[len(evts)-1].Seq,
		})
	}
	return nil
}

// emit records an event of the running step.
func (e *Engine) emit(typ events.Type, payload any) {
	if e.emitErr != nil {
		return
	}
	ev, err := events.New(typ, e.caller, e.height(), payload)
	if err != nil {
		e.emitErr = fmt.Errorf("encode %s: %w", typ, err)
		return
	}
	ev.Seq = e.seq.Next(seqEvents)
	e.pending = append(e.pending, ev)
}

func (e *Engine) onCast(c vote.Cast) {
	e.emit(events.Voted, VotedPayload{
		Vote:      c.Vote.ID,
		Account:   c.Ballot.Account,
		Direction: c.Ballot.Direction,
		Weight:    c.Ballot.Weight,
		Tally:     c.Vote.Tally,
	})
}

type resolutionObserver struct{ e *Engine }

func (o resolutionObserver) VoteResolved(_ context.Context, v vote.Vote) error {
	o.e.emit(events.VoteResolved, VoteResolvedPayload{Vote: v.ID, Org: v.Org, Outcome: v.Outcome, Tally: v.Tally})
	return nil
}

func (e *Engine) onSpendTransition(tr spend.Transition) {
	p := tr.Proposal
	payload := SpendPayload{
		Bank:        p.Bank,
		Spend:       p.ID,
		Org:         p.Org,
		Amount:      p.Amount,
		Destination: p.Destination,
		State:       string(p.State),
		Vote:        p.Vote,
	}
	switch p.State {
	case spend.Voting:
		e.emit(events.VoteTriggered, payload)
	case spend.Approved:
		e.emit(events.SpendApproved, payload)
	case spend.Executed:
		if tr.Bank != nil {
			free := tr.Bank.Free
			payload.BankFree = &free
			e.emit(events.BankSpend, bankPayload(*tr.Bank, p.Destination, p.Amount, false))
		}
		e.emit(events.SpendExecuted, payload)
	case spend.Rejected:
		e.emit(events.SpendRejected, payload)
	}
}

func bankPayload(b treasury.Bank, account dao.AccountID, amount dao.Amount, reserved bool) BankPayload {
	return BankPayload{
		Bank:       b.ID,
		Org:        b.Org,
		Account:    account,
		Amount:     amount,
		Reserved:   reserved,
		Free:       b.Free,
		Held:       b.Reserved,
		Controller: b.Controller,
	}
}

// Restore replaces the whole state with a persisted snapshot and event
// history. It must run before the engine serves commands.
func (e *Engine) Restore(snap state.Snapshot, history []events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Restore(snap); err != nil {
		return err
	}
	e.log = events.NewLog()
	e.log.Append(history...)
	obs.SetTreasuryHeld(int64(e.banks.TotalHeld()))
	return nil
}

// Snapshot encodes every table.
func (e *Engine) Snapshot() (state.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Snapshot()
}
