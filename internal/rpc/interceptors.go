package rpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sunshine.org/internal/audit"
	"sunshine.org/internal/auth"
	"sunshine.org/internal/obs"
)

func requestIDUnary(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	rid := firstMD(ctx, mdRequestID)
	if rid == "" || len(rid) > 128 {
		rid = uuid.NewString()
	}
	return next(audit.WithRequestID(ctx, rid), req)
}

func loggingUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	obs.Logger().Info("rpc_complete",
		zap.String("request_id", audit.RequestIDFromContext(ctx)),
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return resp, err
}

// authenticate attaches token claims when a token service is configured.
func (s *Server) authenticate(ctx context.Context) (context.Context, error) {
	if s.tokens == nil {
		return ctx, nil
	}
	token, err := auth.BearerToken(firstMD(ctx, mdAuthorization))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	ctx = auth.ContextWithClaims(ctx, claims)
	return auth.ContextWithToken(ctx, token), nil
}

func (s *Server) authUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	if info.FullMethod == fullMethod("Info") {
		return next(ctx, req)
	}
	ctx, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return next(ctx, req)
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s authedStream) Context() context.Context { return s.ctx }

func (s *Server) authStream(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, next grpc.StreamHandler) error {
	ctx, err := s.authenticate(ss.Context())
	if err != nil {
		return err
	}
	return next(srv, authedStream{ServerStream: ss, ctx: ctx})
}
