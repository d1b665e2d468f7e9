package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"sunshine.org/internal/auth"
	"sunshine.org/internal/dao"
	"sunshine.org/internal/engine"
	"sunshine.org/internal/events"
	"sunshine.org/internal/ledger"
	"sunshine.org/internal/obs"
	"sunshine.org/internal/spend"
	"sunshine.org/internal/treasury"
	"sunshine.org/internal/vote"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(srv.ServerOptions()...)
	srv.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
		_ = listener.Close()
	})
	return conn
}

func newEngine(t *testing.T) (*engine.Engine, *events.Stream) {
	t.Helper()
	t.Cleanup(obs.SetOutput(io.Discard))
	stream := events.NewStream()
	eng := engine.New(ledger.NewInMemory(), engine.DefaultConfig(),
		engine.WithSink(func(evts []events.Event) { stream.Publish(evts...) }))
	for _, acct := range []dao.AccountID{"alice", "bob", "root"} {
		if _, err := eng.Endow(context.Background(), acct, 1000, "genesis-"+string(acct)); err != nil {
			t.Fatal(err)
		}
	}
	return eng, stream
}

func TestCommandFlowOverGRPC(t *testing.T) {
	eng, stream := newEngine(t)
	conn := startBufGRPC(t, NewServer(eng, stream, nil, "1.2.3"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	root := NewClient(conn, "", "root")
	info, err := root.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info["version"] != "1.2.3" || info["service"] != ServiceName {
		t.Fatalf("unexpected info %v", info)
	}

	var o struct {
		ID dao.OrgID `json:"id"`
	}
	if err := root.Command(ctx, "RegisterOrg", Args{Sudo: "root", Flat: []dao.AccountID{"alice", "bob"}}, &o); err != nil {
		t.Fatalf("RegisterOrg: %v", err)
	}

	alice, bob := root.As("alice"), root.As("bob")
	b, err := alice.OpenBank(ctx, o.ID, 100, "")
	if err != nil {
		t.Fatalf("OpenBank: %v", err)
	}
	p, err := alice.ProposeSpend(ctx, b.ID, 40, "carol")
	if err != nil {
		t.Fatalf("ProposeSpend: %v", err)
	}
	th := vote.UnanimousThreshold()
	p, v, err := bob.TriggerVote(ctx, b.ID, p.ID, &th)
	if err != nil {
		t.Fatalf("TriggerVote: %v", err)
	}
	if p.State != spend.Voting || v.Threshold.Kind != vote.KindUnanimous {
		t.Fatalf("unexpected trigger result %+v %+v", p, v)
	}
	if _, err := alice.SubmitVote(ctx, v.ID, vote.InFavor); err != nil {
		t.Fatalf("SubmitVote alice: %v", err)
	}
	cast, err := bob.SubmitVote(ctx, v.ID, vote.InFavor)
	if err != nil {
		t.Fatalf("SubmitVote bob: %v", err)
	}
	if !cast.Resolved || cast.Vote.Outcome != vote.Approved {
		t.Fatalf("unexpected cast %+v", cast)
	}

	p, err = root.Spend(ctx, b.ID, p.ID)
	if err != nil || p.State != spend.Executed {
		t.Fatalf("expected executed spend, got %+v %v", p, err)
	}
	bal, err := root.Balance(ctx, "carol")
	if err != nil || bal != 40 {
		t.Fatalf("expected carol to hold 40, got %d %v", bal, err)
	}
}

func TestErrorsKeepKindAndCode(t *testing.T) {
	eng, stream := newEngine(t)
	conn := startBufGRPC(t, NewServer(eng, stream, nil, "test"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	root := NewClient(conn, "", "root")
	var o struct {
		ID dao.OrgID `json:"id"`
	}
	if err := root.Command(ctx, "RegisterOrg", Args{Sudo: "root", Flat: []dao.AccountID{"alice"}}, &o); err != nil {
		t.Fatal(err)
	}

	_, err := root.As("mallory").OpenBank(ctx, o.ID, 1000000, "")
	if dao.KindOf(err) != dao.KindArithmetic && dao.KindOf(err) != dao.KindState {
		t.Fatalf("expected an insufficient funds kind, got %v (%v)", dao.KindOf(err), err)
	}

	_, err = root.As("alice").ProposeSpend(ctx, 99, 10, "x")
	if dao.KindOf(err) != dao.KindNotFound || dao.CodeOf(err) != dao.CodeOf(treasury.ErrBankNotFound) {
		t.Fatalf("expected BankNotFound, got %v (%s)", err, dao.CodeOf(err))
	}

	err = root.Command(ctx, "Teleport", Args{}, nil)
	if dao.KindOf(err) != dao.KindInput || dao.CodeOf(err) != "UnknownOperation" {
		t.Fatalf("expected UnknownOperation, got %v", err)
	}

	err = NewClient(conn, "", "").Command(ctx, "RegisterOrg", Args{Flat: []dao.AccountID{"x"}}, nil)
	if dao.KindOf(err) != dao.KindAuthorization {
		t.Fatalf("expected an authorization error without a caller, got %v", err)
	}
}

func TestTokensRequiredWhenConfigured(t *testing.T) {
	eng, stream := newEngine(t)
	tokens, err := auth.NewTokens("test-secret", "")
	if err != nil {
		t.Fatal(err)
	}
	conn := startBufGRPC(t, NewServer(eng, stream, tokens, "test"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := NewClient(conn, "", "").Info(ctx); err != nil {
		t.Fatalf("Info must be public: %v", err)
	}
	err = NewClient(conn, "", "alice").Command(ctx, "RegisterOrg", Args{Flat: []dao.AccountID{"alice"}}, nil)
	if dao.KindOf(err) != dao.KindAuthorization {
		t.Fatalf("expected unauthenticated, got %v", err)
	}

	token, _, err := tokens.Issue("alice", nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	var o struct {
		Sudo dao.AccountID `json:"sudo"`
	}
	// x-account is ignored once a token is present
	c := &Client{conn: conn, token: token, account: "root"}
	if err := c.Command(ctx, "RegisterOrg", Args{Sudo: "alice", Flat: []dao.AccountID{"alice"}}, &o); err != nil {
		t.Fatalf("RegisterOrg: %v", err)
	}
	if o.Sudo != "alice" {
		t.Fatalf("unexpected org %+v", o)
	}
}

func TestEventsStreamReplaysBacklog(t *testing.T) {
	eng, stream := newEngine(t)
	conn := startBufGRPC(t, NewServer(eng, stream, nil, "test"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	root := NewClient(conn, "", "root")
	if err := root.Command(ctx, "RegisterOrg", Args{Sudo: "root", Flat: []dao.AccountID{"alice"}}, nil); err != nil {
		t.Fatal(err)
	}

	errDone := errors.New("done")
	var seen []events.Event
	err := root.Events(ctx, 0, func(e events.Event) error {
		seen = append(seen, e)
		if len(seen) == 1 {
			go func() {
				_, _ = root.As("alice").OpenBank(ctx, 1, 10, "")
			}()
		}
		if e.Type == events.BankOpened {
			return errDone
		}
		return nil
	})
	if !errors.Is(err, errDone) {
		t.Fatalf("expected to stop on BankOpened, got %v", err)
	}
	if seen[0].Type != events.OrgRegistered || seen[0].Seq != 1 {
		t.Fatalf("expected the backlog first, got %+v", seen[0])
	}
	for i := 1; i < len(seen); i++ {
		if seen[i].Seq != seen[i-1].Seq+1 {
			t.Fatalf("gap in streamed sequence: %d after %d", seen[i].Seq, seen[i-1].Seq)
		}
	}
}

func TestOperationsCoverEngineCommands(t *testing.T) {
	cmds, qs := Operations()
	if len(cmds) != 26 {
		t.Fatalf("expected 26 commands, got %d: %v", len(cmds), cmds)
	}
	if len(qs) == 0 {
		t.Fatalf("expected queries")
	}
}
