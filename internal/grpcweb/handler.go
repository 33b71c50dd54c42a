// Package grpcweb lets browser clients (the admin console) call the portal
// service: gRPC-Web over HTTP/1.1 in, native gRPC out. Both the binary
// (application/grpc-web) and base64 (application/grpc-web-text) encodings
// are accepted; the response uses the request's encoding.
package grpcweb

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	maxBody = 4 << 20

	ctBinary = "application/grpc-web"
	ctText   = "application/grpc-web-text"

	flagData    byte = 0x00
	flagTrailer byte = 0x80
)

var (
	errShortFrame      = errors.New("body too short")
	errIncompleteFrame = errors.New("incomplete frame")
)

// Options select what the bridge exposes.
type Options struct {
	// Service is the full gRPC service name, e.g. "portal.v1.Portal".
	Service string
	// Streams are the service's streaming method names; they are refused.
	Streams []string
	// Origins allowed for CORS. Empty allows any origin.
	Origins []string
}

type Bridge struct {
	conn     *grpc.ClientConn
	owned    bool
	prefix   string
	streamed map[string]bool
	origins  map[string]bool
	log      *zap.Logger
}

// New dials the gRPC server at addr (e.g. "localhost:50051").
func New(addr string, opts Options, log *zap.Logger) (*Bridge, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpcweb dial: %w", err)
	}
	b := NewWithConn(conn, opts, log)
	b.owned = true
	return b, nil
}

func NewWithConn(conn *grpc.ClientConn, opts Options, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bridge{
		conn:     conn,
		prefix:   "/" + opts.Service + "/",
		streamed: make(map[string]bool, len(opts.Streams)),
		origins:  make(map[string]bool, len(opts.Origins)),
		log:      log.Named("grpcweb"),
	}
	for _, s := range opts.Streams {
		b.streamed[b.prefix+s] = true
	}
	for _, o := range opts.Origins {
		b.origins[o] = true
	}
	return b
}

func (b *Bridge) Close() {
	if b.owned {
		b.conn.Close()
	}
}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Methods":  "POST, OPTIONS",
	"Access-Control-Allow-Headers":  "Authorization, Content-Type, X-Grpc-Web, X-User-Agent, Grpc-Timeout",
	"Access-Control-Expose-Headers": "Grpc-Status, Grpc-Message, Grpc-Status-Details-Bin",
	"Access-Control-Max-Age":        "86400",
}

// cors reports whether the request's origin may call the bridge.
func (b *Bridge) cors(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	switch {
	case len(b.origins) == 0 && origin == "":
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case len(b.origins) == 0 || b.origins[origin]:
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	case origin != "":
		return false
	}
	for k, v := range corsHeaders {
		w.Header().Set(k, v)
	}
	return true
}

// Handler returns an http.Handler that translates gRPC-Web → gRPC.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.cors(w, r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ct := r.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, ctBinary) {
			http.Error(w, "not grpc-web", http.StatusUnsupportedMediaType)
			return
		}
		resp := &responder{w: w, text: strings.HasPrefix(ct, ctText)}

		switch {
		case !strings.HasPrefix(r.URL.Path, b.prefix):
			resp.fail(codes.Unimplemented, "unknown service")
		case b.streamed[r.URL.Path]:
			resp.fail(codes.Unimplemented, "streaming is not available over grpc-web")
		default:
			b.forward(resp, r)
		}
	})
}

func (b *Bridge) forward(resp *responder, r *http.Request) {
	var body io.Reader = io.LimitReader(r.Body, maxBody)
	if resp.text {
		body = base64.NewDecoder(base64.StdEncoding, body)
	}
	payload, err := readFrame(body)
	if err != nil {
		resp.fail(codes.InvalidArgument, err.Error())
		return
	}

	md := metadata.MD{}
	if vals := r.Header.Values("Authorization"); len(vals) > 0 {
		md.Set("authorization", vals...)
	}
	ctx := metadata.NewOutgoingContext(r.Context(), md)

	out := &rawMsg{}
	err = b.conn.Invoke(ctx, r.URL.Path, &rawMsg{data: payload}, out, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		st := status.Convert(err)
		if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
			b.log.Warn("bridged call failed", zap.String("method", r.URL.Path), zap.Error(err))
		} else {
			b.log.Debug("bridged call rejected", zap.String("method", r.URL.Path), zap.Stringer("code", st.Code()))
		}
		resp.fail(st.Code(), st.Message())
		return
	}
	resp.ok(out.data)
}

// readFrame reads the single data frame of a unary request:
// flag(1) | length(4, big-endian) | message.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errShortFrame
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxBody {
		return nil, errIncompleteFrame
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, errIncompleteFrame
	}
	return msg, nil
}

func frame(flag byte, data []byte) []byte {
	f := make([]byte, 5+len(data))
	f[0] = flag
	binary.BigEndian.PutUint32(f[1:5], uint32(len(data)))
	copy(f[5:], data)
	return f
}

type responder struct {
	w    http.ResponseWriter
	text bool
}

func (r *responder) write(frames ...[]byte) {
	ct := ctBinary + "+proto"
	body := bytes.Join(frames, nil)
	if r.text {
		ct = ctText + "+proto"
		body = []byte(base64.StdEncoding.EncodeToString(body))
	}
	r.w.Header().Set("Content-Type", ct)
	r.w.WriteHeader(http.StatusOK)
	r.w.Write(body)
}

func (r *responder) ok(data []byte) {
	r.write(frame(flagData, data), frame(flagTrailer, trailer(codes.OK, "")))
}

func (r *responder) fail(code codes.Code, msg string) {
	r.write(frame(flagTrailer, trailer(code, msg)))
}

func trailer(code codes.Code, msg string) []byte {
	t := fmt.Sprintf("grpc-status:%d\r\n", code)
	if msg != "" {
		t += "grpc-message:" + percentEncode(msg) + "\r\n"
	}
	return []byte(t)
}

// percentEncode escapes grpc-message the way gRPC does: everything outside
// printable ASCII, plus '%'.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e || c == '%' {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// rawMsg carries already-encoded protobuf bytes through the client.
type rawMsg struct{ data []byte }

type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(*rawMsg)
	if !ok {
		return nil, fmt.Errorf("grpcweb: unexpected message %T", v)
	}
	return m.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*rawMsg)
	if !ok {
		return fmt.Errorf("grpcweb: unexpected message %T", v)
	}
	m.data = append([]byte(nil), data...)
	return nil
}

// Name is "proto" so the server decodes the bytes with its default codec.
func (rawCodec) Name() string { return "proto" }
