package rpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"healthcare-portal/internal/compliance"
	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/identity"
	"healthcare-portal/internal/middleware"
	"healthcare-portal/internal/model"
)

// Trigger observes successful writes, the way database triggers would.
// Triggers run after the response is sent and must not block for long.
type Trigger interface {
	DocumentCreated(ctx context.Context, collection, id string, data map[string]any)
	DocumentUpdated(ctx context.Context, collection, id string, before, after map[string]any)
}

const triggerTimeout = 15 * time.Second

var collections = map[string]bool{
	model.CollectionAppointments: true,
	model.CollectionAuditLogs:    true,
	model.CollectionUsers:        true,
}

type Server struct {
	auth     identity.Authenticator
	docs     docstore.Store
	audit    *compliance.Logger
	log      *zap.Logger
	triggers []Trigger
}

// NewServer wires the handlers. audit may be nil.
func NewServer(a identity.Authenticator, docs docstore.Store, audit *compliance.Logger, log *zap.Logger, triggers ...Trigger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: a, docs: docs, audit: audit, log: log.Named("rpc"), triggers: triggers}
}

var identityErrors = []error{
	identity.ErrEmailInUse,
	identity.ErrNoUser,
	identity.ErrInvalidCredentials,
	identity.ErrInvalidEmail,
	identity.ErrWeakPassword,
	identity.ErrMissingFields,
	identity.ErrInvalidRole,
}

// toStatus maps domain errors onto gRPC codes. Identity failures keep their
// sentinel text so the client can map them back.
func (s *Server) toStatus(op string, err error) error {
	for _, sentinel := range identityErrors {
		if !errors.Is(err, sentinel) {
			continue
		}
		switch sentinel {
		case identity.ErrEmailInUse:
			return status.Error(codes.AlreadyExists, sentinel.Error())
		case identity.ErrInvalidCredentials, identity.ErrNoUser:
			return status.Error(codes.Unauthenticated, sentinel.Error())
		}
		return status.Error(codes.InvalidArgument, sentinel.Error())
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, context.DeadlineExceeded), errs.KindOf(err) == errs.Timeout:
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	}
	s.log.Error("call failed", zap.String("op", op), zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

func (s *Server) logAccess(ctx context.Context, action, collection string) {
	if s.audit != nil {
		s.audit.LogAccess(ctx, middleware.UserID(ctx), action, collection)
	}
}

func (s *Server) SignUp(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.auth.SignUp(ctx, decodeSignUp(in))
	if err != nil {
		return nil, s.toStatus("SignUp", err)
	}
	return encodeIdentity(id), nil
}

func (s *Server) SignIn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.auth.SignIn(ctx, field(in, "email"), field(in, "password"))
	if err != nil {
		return nil, s.toStatus("SignIn", err)
	}
	return encodeIdentity(id), nil
}

func (s *Server) collection(in *structpb.Struct) (string, error) {
	c, err := mustCollection(in)
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	if !collections[c] {
		return "", status.Errorf(codes.InvalidArgument, "unknown collection %q", c)
	}
	return c, nil
}

func denied() error {
	return status.Error(codes.PermissionDenied, "access denied")
}

// owner is the user a document belongs to for access checks.
func owner(collection, id string, data map[string]any) string {
	switch collection {
	case model.CollectionAppointments:
		uid, _ := data["patientId"].(string)
		return uid
	case model.CollectionUsers:
		return id
	}
	return ""
}

func (s *Server) canWrite(ctx context.Context, collection, id string, data map[string]any) bool {
	role, uid := middleware.Role(ctx), middleware.UserID(ctx)
	if collection == model.CollectionAuditLogs {
		return uid != ""
	}
	if collection == model.CollectionUsers && role != model.RoleAdmin {
		return id == uid
	}
	return compliance.CanAccess(role, owner(collection, id, data), uid)
}

// guarded fields decide ownership and role; only admins may change them.
var guarded = map[string][]string{
	model.CollectionAppointments: {"patientId"},
	model.CollectionUsers:        {"id", "email", "role"},
}

// rewritesGuarded reports whether a non-admin write changes a guarded field
// of cur. A field written with its current value is not a change.
func rewritesGuarded(ctx context.Context, collection string, cur, fields map[string]any) bool {
	if middleware.Role(ctx) == model.RoleAdmin {
		return false
	}
	for _, k := range guarded[collection] {
		v, ok := fields[k]
		if !ok {
			continue
		}
		old, had := cur[k]
		if !had || docstore.Compare(docstore.Normalize(old), docstore.Normalize(v)) != 0 {
			return true
		}
	}
	return false
}

func (s *Server) canRead(ctx context.Context, collection, id string, data map[string]any) bool {
	role, uid := middleware.Role(ctx), middleware.UserID(ctx)
	if collection == model.CollectionAuditLogs {
		return role == model.RoleAdmin
	}
	return compliance.CanAccess(role, owner(collection, id, data), uid)
}

// canQuery lets patients query only their own appointments.
func (s *Server) canQuery(ctx context.Context, q docstore.Query) bool {
	role, uid := middleware.Role(ctx), middleware.UserID(ctx)
	switch q.Collection {
	case model.CollectionAuditLogs:
		return role == model.RoleAdmin
	case model.CollectionUsers:
		return role == model.RoleAdmin || role == model.RoleDoctor
	}
	if role != model.RolePatient {
		return role.Valid()
	}
	f, ok := q.FilterOn("patientId")
	return ok && f.Op == docstore.OpEq && f.Value == uid
}

func (s *Server) fire(fn func(ctx context.Context, t Trigger)) {
	if len(s.triggers) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()
		for _, t := range s.triggers {
			fn(ctx, t)
		}
	}()
}

func (s *Server) Add(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	coll, err := s.collection(in)
	if err != nil {
		return nil, err
	}
	data := decodeData(child(in, "data"))
	if !s.canWrite(ctx, coll, "", data) {
		return nil, denied()
	}
	id, err := s.docs.Add(ctx, coll, data)
	if err != nil {
		return nil, s.toStatus("Add", err)
	}
	s.logAccess(ctx, "CREATE", coll)
	s.fire(func(ctx context.Context, t Trigger) { t.DocumentCreated(ctx, coll, id, data) })
	return &structpb.Struct{Fields: map[string]*structpb.Value{"id": structpb.NewStringValue(id)}}, nil
}

func (s *Server) Set(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	coll, err := s.collection(in)
	if err != nil {
		return nil, err
	}
	id := field(in, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id required")
	}
	data := decodeData(child(in, "data"))
	cur, err := s.docs.Get(ctx, coll, id)
	switch {
	case err == nil:
		if !s.canWrite(ctx, coll, id, cur.Data) || rewritesGuarded(ctx, coll, cur.Data, data) {
			return nil, denied()
		}
	case errors.Is(err, docstore.ErrNotFound):
		// profiles are created by sign-up, not by their owners
		if coll == model.CollectionUsers && rewritesGuarded(ctx, coll, nil, data) {
			return nil, denied()
		}
	default:
		return nil, s.toStatus("Set", err)
	}
	if !s.canWrite(ctx, coll, id, data) {
		return nil, denied()
	}
	if err := s.docs.Set(ctx, coll, id, data); err != nil {
		return nil, s.toStatus("Set", err)
	}
	s.logAccess(ctx, "WRITE", coll)
	return &emptypb.Empty{}, nil
}

func (s *Server) Update(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	coll, err := s.collection(in)
	if err != nil {
		return nil, err
	}
	id := field(in, "id")
	cur, err := s.docs.Get(ctx, coll, id)
	if err != nil {
		return nil, s.toStatus("Update", err)
	}
	fields := decodeData(child(in, "data"))
	if !s.canWrite(ctx, coll, id, cur.Data) || rewritesGuarded(ctx, coll, cur.Data, fields) {
		return nil, denied()
	}
	if err := s.docs.Update(ctx, coll, id, fields); err != nil {
		return nil, s.toStatus("Update", err)
	}
	s.logAccess(ctx, "UPDATE", coll)

	after := make(map[string]any, len(cur.Data)+len(fields))
	for k, v := range cur.Data {
		after[k] = v
	}
	for k, v := range fields {
		after[k] = v
	}
	s.fire(func(ctx context.Context, t Trigger) { t.DocumentUpdated(ctx, coll, id, cur.Data, after) })
	return &emptypb.Empty{}, nil
}

func (s *Server) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	coll, err := s.collection(in)
	if err != nil {
		return nil, err
	}
	id := field(in, "id")
	d, err := s.docs.Get(ctx, coll, id)
	if err != nil {
		return nil, s.toStatus("Get", err)
	}
	if !s.canRead(ctx, coll, id, d.Data) {
		return nil, denied()
	}
	s.logAccess(ctx, "READ", coll)
	body, err := encodeData(d.Data)
	if err != nil {
		return nil, s.toStatus("Get", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":   structpb.NewStringValue(d.ID),
		"data": structpb.NewStructValue(body),
	}}, nil
}

func (s *Server) query(ctx context.Context, in *structpb.Struct) (docstore.Query, error) {
	if _, err := s.collection(in); err != nil {
		return docstore.Query{}, err
	}
	q, err := decodeQuery(in)
	if err != nil {
		return docstore.Query{}, status.Error(codes.InvalidArgument, err.Error())
	}
	if !s.canQuery(ctx, q) {
		return docstore.Query{}, denied()
	}
	return q, nil
}

func (s *Server) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	q, err := s.query(ctx, in)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.Query(ctx, q)
	if err != nil {
		return nil, s.toStatus("Query", err)
	}
	s.logAccess(ctx, "QUERY", q.Collection)
	out, err := encodeDocs(docs)
	if err != nil {
		return nil, s.toStatus("Query", err)
	}
	return out, nil
}

// Watch streams full snapshots. A snapshot that arrives while the previous
// one is still being sent replaces any older unsent one.
func (s *Server) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	q, err := s.query(ctx, in)
	if err != nil {
		return err
	}

	snaps := make(chan []docstore.Document, 1)
	failed := make(chan error, 1)
	unsub, err := s.docs.Watch(ctx, q,
		func(docs []docstore.Document) {
			select {
			case <-snaps:
			default:
			}
			snaps <- docs
		},
		func(err error) { failed <- err },
	)
	if err != nil {
		return s.toStatus("Watch", err)
	}
	defer unsub()
	s.logAccess(ctx, "WATCH", q.Collection)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return s.toStatus("Watch", err)
		case docs := <-snaps:
			out, err := encodeDocs(docs)
			if err != nil {
				return s.toStatus("Watch", err)
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}
