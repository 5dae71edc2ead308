package grpc

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/parsascontentcorner/grokgate/internal/auth"
	"github.com/parsascontentcorner/grokgate/internal/models"
)

// SessionVerifier checks admin session tokens.
type SessionVerifier interface {
	Parse(token string) (*auth.Claims, error)
}

type identityKey struct{}

func identityFrom(ctx context.Context) (models.AdminIdentity, bool) {
	identity, ok := ctx.Value(identityKey{}).(models.AdminIdentity)
	return identity, ok
}

// loggingInterceptor logs all gRPC requests
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		logger.Debug("gRPC request",
			zap.String("method", info.FullMethod),
		)

		resp, err := handler(ctx, req)

		if err != nil {
			logger.Warn("gRPC request failed",
				zap.String("method", info.FullMethod),
				zap.String("code", status.Code(err).String()),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
		} else {
			logger.Debug("gRPC request completed",
				zap.String("method", info.FullMethod),
				zap.Duration("duration", time.Since(start)),
			)
		}

		return resp, err
	}
}

// authInterceptor requires a Bearer session token in the "authorization"
// metadata for admin methods. Health and reflection stay open.
func authInterceptor(sessions SessionVerifier, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+AdminServiceName+"/") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}
		token := strings.TrimSpace(strings.TrimPrefix(values[0], "Bearer "))

		claims, err := sessions.Parse(token)
		if err != nil {
			logger.Warn("gRPC session validation failed", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}

		return handler(context.WithValue(ctx, identityKey{}, claims.Identity()), req)
	}
}
