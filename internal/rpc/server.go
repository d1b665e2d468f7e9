// Package rpc exposes the engine's commands and queries over gRPC. Messages
// are google.protobuf.Struct values so the service needs no generated code:
// a request is {"op": name, "args": {...}} and a response is
// {"result": value}.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"sunshine.org/internal/auth"
	"sunshine.org/internal/dao"
	"sunshine.org/internal/engine"
	"sunshine.org/internal/events"
	"sunshine.org/internal/obs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ServiceName = "sunshine.dao.v1.Governance"

	mdAuthorization = "authorization"
	mdAccount       = "x-account"
	mdRequestID     = "x-request-id"
)

// GovernanceServer is the service contract registered with grpc.
type GovernanceServer interface {
	Command(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Info(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Events(*structpb.Struct, grpc.ServerStream) error
}

// Server implements GovernanceServer over an engine.
type Server struct {
	eng     *engine.Engine
	stream  *events.Stream
	tokens  *auth.Tokens
	version string
}

var _ GovernanceServer = (*Server)(nil)

// NewServer wraps eng. Without tokens the caller is read from the
// x-account metadata key; stream may be nil to disable Events.
func NewServer(eng *engine.Engine, stream *events.Stream, tokens *auth.Tokens, version string) *Server {
	return &Server{eng: eng, stream: stream, tokens: tokens, version: version}
}

// Register attaches the service to gs. gs should be built with
// ServerOptions.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// ServerOptions returns the interceptors the service relies on.
func (s *Server) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(requestIDUnary, loggingUnary, s.authUnary),
		grpc.ChainStreamInterceptor(s.authStream),
	}
}

func (s *Server) Command(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, args, err := decodeRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	fn, ok := commands[name]
	if !ok {
		return nil, toStatus(fmt.Errorf("%w: command %q", ErrUnknownOperation, name))
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := fn(ctx, s.eng, caller, args)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResult(out)
}

func (s *Server) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, args, err := decodeRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	fn, ok := queries[name]
	if !ok {
		return nil, toStatus(fmt.Errorf("%w: query %q", ErrUnknownOperation, name))
	}
	out, err := fn(ctx, s.eng, args)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResult(out)
}

func (s *Server) Info(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	cmds, qs := Operations()
	return encodeResult(map[string]any{
		"service":  ServiceName,
		"version":  s.version,
		"height":   s.eng.Height(),
		"commands": cmds,
		"queries":  qs,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// Events streams committed events with a sequence greater than args.after,
// replaying the backlog first.
func (s *Server) Events(req *structpb.Struct, ss grpc.ServerStream) error {
	if s.stream == nil {
		return status.Error(codes.Unavailable, "streaming disabled")
	}
	_, args, err := decodeRequest(req)
	if err != nil {
		return toStatus(err)
	}
	ctx := ss.Context()
	live := s.stream.Subscribe(ctx)
	after := args.After
	for {
		backlog, next := s.eng.Events(500, after)
		for _, e := range backlog {
			if err := sendEvent(ss, e); err != nil {
				return err
			}
		}
		after = next
		if len(backlog) < 500 {
			break
		}
	}
	for e := range live {
		if e.Seq <= after {
			continue
		}
		if err := sendEvent(ss, e); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func sendEvent(ss grpc.ServerStream, e events.Event) error {
	msg, err := encodeResult(e)
	if err != nil {
		return err
	}
	return ss.SendMsg(msg)
}

func (s *Server) caller(ctx context.Context) (dao.AccountID, error) {
	if acct, ok := auth.AccountFromContext(ctx); ok {
		return acct, nil
	}
	if s.tokens != nil {
		return "", errUnauthenticated
	}
	acct := dao.AccountID(firstMD(ctx, mdAccount))
	if acct == "" {
		return "", fmt.Errorf("%w: %s metadata is required", errUnauthenticated, mdAccount)
	}
	if err := acct.Validate(); err != nil {
		return "", err
	}
	return acct, nil
}

var errUnauthenticated = dao.NewError(dao.KindAuthorization, "Unauthenticated", "caller is not authenticated")

func decodeRequest(req *structpb.Struct) (string, Args, error) {
	var env struct {
		Op   string `json:"op"`
		Args Args   `json:"args"`
	}
	if req == nil {
		return "", Args{}, fmt.Errorf("%w: empty request", ErrUnknownOperation)
	}
	raw, err := json.Marshal(req.AsMap())
	if err != nil {
		return "", Args{}, err
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", Args{}, fmt.Errorf("%w: %v", errBadArgs, err)
	}
	return env.Op, env.Args, nil
}

var errBadArgs = dao.NewError(dao.KindInput, "BadArguments", "malformed arguments")

func encodeResult(v any) (*structpb.Struct, error) {
	val, err := toValue(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"result": val}}, nil
}

// toValue converts through JSON so every result type uses its json tags.
func toValue(v any) (*structpb.Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

// codeFor maps an error kind to its gRPC code.
func codeFor(kind dao.Kind) codes.Code {
	switch kind {
	case dao.KindAuthorization:
		return codes.PermissionDenied
	case dao.KindInput:
		return codes.InvalidArgument
	case dao.KindState, dao.KindArithmetic:
		return codes.FailedPrecondition
	case dao.KindNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

// toStatus keeps the kind and stable code in a Struct detail so clients can
// rebuild the error.
func toStatus(err error) error {
	var de *dao.Error
	if !errors.As(err, &de) {
		if _, ok := status.FromError(err); ok {
			return err
		}
	}
	kind := dao.KindOf(err)
	msg := err.Error()
	if kind == dao.KindInternal {
		obs.Logger().Error("rpc_failed", zap.Error(err))
		msg = "internal error"
	}
	st := status.New(codeFor(kind), msg)
	detail, derr := structpb.NewStruct(map[string]any{
		"code": dao.CodeOf(err),
		"kind": kind.String(),
	})
	if derr != nil {
		return st.Err()
	}
	if withDetail, derr := st.WithDetails(detail); derr == nil {
		st = withDetail
	}
	return st.Err()
}

func firstMD(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
