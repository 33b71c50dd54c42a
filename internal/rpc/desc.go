// Package rpc exposes the document store and the identity provider over
// gRPC. Messages are structpb.Struct so the service needs no generated code.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "portal.v1.Portal"

const (
	MethodSignUp = "/" + ServiceName + "/SignUp"
	MethodSignIn = "/" + ServiceName + "/SignIn"
	MethodAdd    = "/" + ServiceName + "/Add"
	MethodSet    = "/" + ServiceName + "/Set"
	MethodUpdate = "/" + ServiceName + "/Update"
	MethodGet    = "/" + ServiceName + "/Get"
	MethodQuery  = "/" + ServiceName + "/Query"
	MethodWatch  = "/" + ServiceName + "/Watch"
)

// PublicMethods need no bearer token.
var PublicMethods = []string{MethodSignUp, MethodSignIn}

// PortalServer is the handler set behind ServiceDesc.
type PortalServer interface {
	SignUp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Add(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Set(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Update(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

func unary[T any](name string, call func(PortalServer, context.Context, *structpb.Struct) (T, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PortalServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(PortalServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PortalServer).Watch(in, stream)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PortalServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SignUp", PortalServer.SignUp),
		unary("SignIn", PortalServer.SignIn),
		unary("Add", PortalServer.Add),
		unary("Set", PortalServer.Set),
		unary("Update", PortalServer.Update),
		unary("Get", PortalServer.Get),
		unary("Query", PortalServer.Query),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "portal/v1/portal.proto",
}

func Register(gs *grpc.Server, srv PortalServer) {
	gs.RegisterService(&ServiceDesc, srv)
}
