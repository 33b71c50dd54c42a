package middleware

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"healthcare-portal/internal/auth"
	"healthcare-portal/internal/model"
)

type ctxKey string

const (
	UserIDKey ctxKey = "uid"
	RoleKey   ctxKey = "role"
)

func UserID(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func Role(ctx context.Context) model.Role {
	r, _ := ctx.Value(RoleKey).(model.Role)
	return r
}

// WithIdentity is what the interceptors do after a token checks out.
func WithIdentity(ctx context.Context, uid string, role model.Role) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, uid)
	return context.WithValue(ctx, RoleKey, role)
}

func authenticate(ctx context.Context, secret string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	// token from Authorization: Bearer <jwt>
	raw := ""
	if vals := md.Get("authorization"); len(vals) > 0 {
		raw = strings.TrimPrefix(vals[0], "Bearer ")
	}
	if raw == "" {
		return nil, status.Error(codes.Unauthenticated, "no token")
	}

	claims, err := auth.ParseToken(raw, secret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "bad token")
	}
	return WithIdentity(ctx, claims.UserID, claims.Role), nil
}

func set(methods []string) map[string]bool {
	m := make(map[string]bool, len(methods))
	for _, name := range methods {
		m[name] = true
	}
	return m
}

// Auth verifies the bearer token of every unary call except the public
// methods (full method names).
func Auth(secret string, public ...string) grpc.UnaryServerInterceptor {
	open := set(public)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return next(ctx, req)
		}
		ctx, err := authenticate(ctx, secret)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// StreamAuth is Auth for streaming calls; streams are never public.
func StreamAuth(secret string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), secret)
		if err != nil {
			return err
		}
		return next(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}
