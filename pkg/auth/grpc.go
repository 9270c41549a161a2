package auth

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

// metadataAuthorization is the gRPC metadata key for the bearer token.
// Metadata keys are lower case.
const metadataAuthorization = "authorization"

// UnaryServerInterceptor returns a unary interceptor that validates the
// bearer token in the "authorization" metadata and stores the [Claims] in
// the handler's context.
//
// Rejections become codes.Unauthenticated carrying the reason's message.
// Infrastructure failures are logged with a reference id and become
// codes.Unavailable, codes.DeadlineExceeded or codes.Internal.
func UnaryServerInterceptor(validator Validator, logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, validator, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(validator Validator, logger *slog.Logger) grpc.StreamServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), validator, logger, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticateGRPC(ctx context.Context, validator Validator, logger *slog.Logger, method string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, notAuthenticated)
	}
	values := md.Get(metadataAuthorization)
	if len(values) == 0 {
		return ctx, status.Error(codes.Unauthenticated, notAuthenticated)
	}
	token := ExtractBearerToken(values[0])
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, notAuthenticated)
	}

	claims, err := validator.Validate(ctx, token)
	if err != nil {
		if reason, ok := ReasonOf(err); ok {
			return ctx, status.Error(codes.Unauthenticated, reason.Message())
		}

		ref := uuid.NewString()
		ssErr := sserr.FromError(err)
		logger.ErrorContext(ctx, "auth: token validation failed",
			"error", err,
			"code", ssErr.Code.String(),
			"reference", ref,
			"method", method,
		)
		return ctx, status.Errorf(grpcCode(ssErr), "%s (reference %s)", unavailableDetail, ref)
	}

	return ContextWithClaims(ctx, claims), nil
}

// grpcCode maps an infrastructure error onto a gRPC status code.
func grpcCode(err *sserr.Error) codes.Code {
	switch err.Code.Category() {
	case "TIMEOUT":
		return codes.DeadlineExceeded
	case "UNAVAIL":
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// wrappedServerStream overrides Context so handlers see the claims.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
