package middleware

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"healthcare-portal/internal/auth"
	"healthcare-portal/internal/model"
)

const secret = "test-secret"

func echoIdentity(ctx context.Context, _ any) (any, error) {
	return UserID(ctx) + "/" + string(Role(ctx)), nil
}

func withToken(t *testing.T, uid string, role model.Role) context.Context {
	t.Helper()
	tok, err := auth.MakeToken(uid, role, secret)
	require.NoError(t, err)
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+tok))
}

func TestAuth(t *testing.T) {
	ic := Auth(secret, "/svc/SignIn")

	got, err := ic(withToken(t, "u1", model.RoleDoctor), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Get"}, echoIdentity)
	require.NoError(t, err)
	assert.Equal(t, "u1/doctor", got)

	_, err = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Get"}, echoIdentity)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer nope"))
	_, err = ic(bad, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Get"}, echoIdentity)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	got, err = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/SignIn"}, echoIdentity)
	require.NoError(t, err)
	assert.Equal(t, "/", got)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestStreamAuth(t *testing.T) {
	ic := StreamAuth(secret)
	var seen string
	handler := func(_ any, ss grpc.ServerStream) error {
		seen = UserID(ss.Context())
		return nil
	}

	require.NoError(t, ic(nil, fakeStream{ctx: withToken(t, "u7", model.RolePatient)}, &grpc.StreamServerInfo{}, handler))
	assert.Equal(t, "u7", seen)

	err := ic(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Close()
	ic := RateLimit(rl, "/svc/SignIn")

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}})
	other := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4001}})
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/SignIn"}

	for i := 0; i < 2; i++ {
		_, err := ic(ctx, nil, info, echoIdentity)
		require.NoError(t, err)
	}
	// same host, new port: still throttled
	_, err := ic(other, nil, info, echoIdentity)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	_, err = ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Get"}, echoIdentity)
	assert.NoError(t, err)
}
