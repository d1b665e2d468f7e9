package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"sunshine.org/internal/dao"
	"sunshine.org/internal/events"
	"sunshine.org/internal/spend"
	"sunshine.org/internal/treasury"
	"sunshine.org/internal/vote"
)

// Client calls a Governance service.
type Client struct {
	conn    grpc.ClientConnInterface
	token   string
	account dao.AccountID
}

// Dial connects without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return grpc.NewClient(addr, opts...)
}

// NewClient wraps conn. Exactly one of token and account is normally set:
// token for nodes with authentication, account for nodes without.
func NewClient(conn grpc.ClientConnInterface, token string, account dao.AccountID) *Client {
	return &Client{conn: conn, token: token, account: account}
}

// As returns a client acting for another account on the same connection.
func (c *Client) As(account dao.AccountID) *Client {
	return &Client{conn: c.conn, account: account}
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, mdAuthorization, "Bearer "+c.token)
	}
	if c.account != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, mdAccount, string(c.account))
	}
	return ctx
}

// Command runs a named engine command and decodes the result into out.
func (c *Client) Command(ctx context.Context, op string, args Args, out any) error {
	return c.call(ctx, "Command", op, args, out)
}

// Query runs a named engine query and decodes the result into out.
func (c *Client) Query(ctx context.Context, op string, args Args, out any) error {
	return c.call(ctx, "Query", op, args, out)
}

// Info returns the service description.
func (c *Client) Info(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.call(ctx, "Info", "", Args{}, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method, op string, args Args, out any) error {
	req, err := encodeRequest(op, args)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), fullMethod(method), req, resp); err != nil {
		return fromStatus(err)
	}
	return decodeResult(resp, out)
}

// Events subscribes to committed events after seq and calls fn for each
// until ctx ends, the stream fails or fn returns an error.
func (c *Client) Events(ctx context.Context, after uint64, fn func(events.Event) error) error {
	req, err := encodeRequest("", Args{After: after})
	if err != nil {
		return err
	}
	stream, err := c.conn.NewStream(c.outgoing(ctx), &serviceDesc.Streams[0], fullMethod("Events"))
	if err != nil {
		return fromStatus(err)
	}
	if err := stream.SendMsg(req); err != nil {
		return fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return fromStatus(err)
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fromStatus(err)
		}
		var e events.Event
		if err := decodeResult(msg, &e); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func (c *Client) OpenBank(ctx context.Context, id dao.OrgID, seed dao.Amount, controller dao.AccountID) (treasury.Bank, error) {
	var b treasury.Bank
	err := c.Command(ctx, "OpenBank", Args{Org: id, Amount: seed, Controller: controller}, &b)
	return b, err
}

func (c *Client) ProposeSpend(ctx context.Context, bank dao.BankID, amount dao.Amount, dest dao.AccountID) (spend.Proposal, error) {
	var p spend.Proposal
	err := c.Command(ctx, "ProposeSpend", Args{Bank: bank, Amount: amount, Destination: dest}, &p)
	return p, err
}

func (c *Client) TriggerVote(ctx context.Context, bank dao.BankID, id dao.SpendID, th *vote.Threshold) (spend.Proposal, vote.Vote, error) {
	var out struct {
		Spend spend.Proposal `json:"spend"`
		Vote  vote.Vote      `json:"vote"`
	}
	err := c.Command(ctx, "TriggerVote", Args{Bank: bank, Spend: id, Threshold: th}, &out)
	return out.Spend, out.Vote, err
}

func (c *Client) SubmitVote(ctx context.Context, id dao.VoteID, dir vote.Direction) (vote.Cast, error) {
	var cast vote.Cast
	err := c.Command(ctx, "SubmitVote", Args{Vote: id, Direction: dir}, &cast)
	return cast, err
}

func (c *Client) Spend(ctx context.Context, bank dao.BankID, id dao.SpendID) (spend.Proposal, error) {
	var p spend.Proposal
	err := c.Query(ctx, "Spend", Args{Bank: bank, Spend: id}, &p)
	return p, err
}

func (c *Client) Balance(ctx context.Context, account dao.AccountID) (dao.Amount, error) {
	var out struct {
		Balance dao.Amount `json:"balance"`
	}
	err := c.Query(ctx, "Balance", Args{Account: account}, &out)
	return out.Balance, err
}

func encodeRequest(op string, args Args) (*structpb.Struct, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"op": op, "args": generic})
}

func decodeResult(resp *structpb.Struct, out any) error {
	if out == nil {
		return nil
	}
	val, ok := resp.GetFields()["result"]
	if !ok {
		return fmt.Errorf("rpc: response has no result")
	}
	raw, err := json.Marshal(val.AsInterface())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// fromStatus turns a status carrying a kind detail back into a *dao.Error.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		detail, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		fields := detail.AsMap()
		code, _ := fields["code"].(string)
		kind, _ := fields["kind"].(string)
		return dao.NewError(kindFromString(kind), code, st.Message())
	}
	if st.Code() == codes.Unauthenticated || st.Code() == codes.PermissionDenied {
		return dao.NewError(dao.KindAuthorization, st.Code().String(), st.Message())
	}
	return err
}

func kindFromString(s string) dao.Kind {
	for _, k := range []dao.Kind{dao.KindAuthorization, dao.KindArithmetic, dao.KindState, dao.KindInput, dao.KindNotFound} {
		if k.String() == s {
			return k
		}
	}
	return dao.KindInternal
}
