package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/identity"
)

var errStreamClosed = errors.New("rpc: watch stream closed by server")

// Client is the device's view of the portal server: a docstore.Store and an
// identity.Authenticator over one connection. A successful sign-in or
// sign-up makes later calls carry that token.
type Client struct {
	conn  *grpc.ClientConn
	owned bool

	mu    sync.RWMutex
	token string
}

// Dial connects to addr (e.g. "localhost:50051") without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("rpc dial: %w", err)
	}
	return &Client{conn: conn, owned: true}, nil
}

// NewClient uses an existing connection; Close leaves it open.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	if c.owned {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) SetToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, out any) error {
	return fromStatus(c.conn.Invoke(c.outgoing(ctx), method, in, out))
}

// fromStatus turns a gRPC status back into the error the store or identity
// layer would have returned in-process.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return docstore.ErrNotFound
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.AlreadyExists, codes.Unauthenticated, codes.InvalidArgument:
		for _, sentinel := range identityErrors {
			if st.Message() == sentinel.Error() {
				return sentinel
			}
		}
	}
	return err
}

func (c *Client) signedIn(op string, out *structpb.Struct, err error) (identity.Identity, error) {
	if err != nil {
		for _, sentinel := range identityErrors {
			if errors.Is(err, sentinel) {
				return identity.Identity{}, errs.E(errs.Auth, op, err)
			}
		}
		return identity.Identity{}, errs.Remote(errs.Auth, op, err)
	}
	id := decodeIdentity(out)
	c.SetToken(id.Token)
	return id, nil
}

func (c *Client) SignUp(ctx context.Context, req identity.SignUpRequest) (identity.Identity, error) {
	out := new(structpb.Struct)
	err := c.invoke(ctx, MethodSignUp, encodeSignUp(req), out)
	return c.signedIn("rpc.SignUp", out, err)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (identity.Identity, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"email":    structpb.NewStringValue(email),
		"password": structpb.NewStringValue(password),
	}}
	out := new(structpb.Struct)
	err := c.invoke(ctx, MethodSignIn, in, out)
	return c.signedIn("rpc.SignIn", out, err)
}

func (c *Client) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	in, err := docRequest(collection, "", data)
	if err != nil {
		return "", err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, MethodAdd, in, out); err != nil {
		return "", err
	}
	return field(out, "id"), nil
}

func (c *Client) Set(ctx context.Context, collection, id string, data map[string]any) error {
	in, err := docRequest(collection, id, data)
	if err != nil {
		return err
	}
	return c.invoke(ctx, MethodSet, in, new(emptypb.Empty))
}

func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	in, err := docRequest(collection, id, fields)
	if err != nil {
		return err
	}
	return c.invoke(ctx, MethodUpdate, in, new(emptypb.Empty))
}

func (c *Client) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"collection": structpb.NewStringValue(collection),
		"id":         structpb.NewStringValue(id),
	}}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, MethodGet, in, out); err != nil {
		return nil, err
	}
	return &docstore.Document{ID: field(out, "id"), Data: decodeData(child(out, "data"))}, nil
}

func (c *Client) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	in, err := encodeQuery(q)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, MethodQuery, in, out); err != nil {
		return nil, err
	}
	return decodeDocs(out), nil
}

// Watch opens a server stream. The server ending the stream for any reason
// other than our own cancellation is reported through onErr.
func (c *Client) Watch(ctx context.Context, q docstore.Query, onSnap func([]docstore.Document), onErr func(error)) (docstore.Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	in, err := encodeQuery(q)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(c.outgoing(ctx))
	stream, err := c.conn.NewStream(wctx, &ServiceDesc.Streams[0], MethodWatch)
	if err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(in); err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fromStatus(err)
	}

	var once sync.Once
	unsub := func() { once.Do(cancel) }

	go func() {
		defer unsub()
		for {
			out := new(structpb.Struct)
			err := stream.RecvMsg(out)
			if err != nil {
				if wctx.Err() != nil || onErr == nil {
					return
				}
				if errors.Is(err, io.EOF) {
					err = errStreamClosed
				}
				onErr(fromStatus(err))
				return
			}
			if wctx.Err() != nil {
				return
			}
			onSnap(decodeDocs(out))
		}
	}()
	return unsub, nil
}
