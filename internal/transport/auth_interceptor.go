package transport

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/rs/xid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/zde37/chordring/pkg"
)

const (
	// AuthTokenHeader is the metadata key for authentication tokens
	AuthTokenHeader = "x-auth-token"

	// RequestIDHeader is the metadata key carrying the request ID across hops
	RequestIDHeader = "x-request-id"
)

// AuthInterceptor creates a gRPC unary interceptor that validates auth tokens.
// If expectedToken is empty, authentication is disabled (allows anyone to join).
func AuthInterceptor(expectedToken string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if expectedToken == "" {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		tokens := md.Get(AuthTokenHeader)
		if len(tokens) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing auth token")
		}

		if subtle.ConstantTimeCompare([]byte(tokens[0]), []byte(expectedToken)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid auth token")
		}

		return handler(ctx, req)
	}
}

// RequestLogInterceptor puts the caller's request ID into the context and
// logs every call at debug level.
func RequestLogInterceptor(logger *pkg.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(RequestIDHeader); len(ids) > 0 {
				requestID = ids[0]
			}
		}
		if requestID == "" {
			requestID = xid.New().String()
		}
		ctx = pkg.ContextWithRequestID(ctx, requestID)

		start := time.Now()
		resp, err := handler(ctx, req)

		fields := pkg.Fields{
			"method":   info.FullMethod,
			"duration": time.Since(start).String(),
		}
		if err != nil {
			fields["error"] = err
		}
		logger.WithContext(ctx).Debug("RPC handled", fields)
		return resp, err
	}
}

// outgoingMetadataInterceptor attaches the auth token and request ID to
// every outgoing call. The request ID of an incoming call is forwarded so a
// lookup keeps one ID across all its hops.
func outgoingMetadataInterceptor(authToken string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		requestID := pkg.RequestIDFromContext(ctx)
		if requestID == "" {
			requestID = xid.New().String()
		}

		pairs := []string{RequestIDHeader, requestID}
		if authToken != "" {
			pairs = append(pairs, AuthTokenHeader, authToken)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
