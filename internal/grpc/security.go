package grpc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"arenaclash/server/internal/logging"
)

// SharedSecretMetadataKey carries the shared secret when no bearer token is used.
const SharedSecretMetadataKey = "x-arena-shared-secret"

// ServerOptions returns the interceptors guarding the service. An empty secret leaves the
// service open, which only makes sense on a loopback listener.
func ServerOptions(secret string, logger *logging.Logger) []grpc.ServerOption {
	if logger == nil {
		logger = logging.L()
	}
	normalized := strings.TrimSpace(secret)
	if normalized == "" {
		logger.Warn("gRPC authentication disabled")
		return nil
	}
	logger.Info("gRPC shared-secret authentication enabled")
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			if err := checkSharedSecret(ctx, normalized); err != nil {
				return nil, err
			}
			return handler(ctx, req)
		}),
		grpc.ChainStreamInterceptor(func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			if err := checkSharedSecret(ss.Context(), normalized); err != nil {
				return err
			}
			return handler(srv, ss)
		}),
	}
}

func checkSharedSecret(ctx context.Context, secret string) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if strings.HasPrefix(strings.ToLower(value), "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}
