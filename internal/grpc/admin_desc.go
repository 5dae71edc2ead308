package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminServiceName is the fully qualified gRPC service name.
const AdminServiceName = "grokgate.admin.v1.AdminService"

const (
	methodResolveApproval = "/" + AdminServiceName + "/ResolveApproval"
	methodGetPermissions  = "/" + AdminServiceName + "/GetPermissions"
	methodGetUsage        = "/" + AdminServiceName + "/GetUsage"
)

// AdminServiceServer is the server API for AdminService. Requests and
// responses are google.protobuf.Struct documents.
type AdminServiceServer interface {
	ResolveApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetPermissions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetUsage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAdminServiceServer registers srv on s.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

type adminMethod func(srv AdminServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

type methodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

func unaryHandler(fullMethod string, call adminMethod) methodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AdminServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ResolveApproval",
			Handler: unaryHandler(methodResolveApproval, func(srv AdminServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.ResolveApproval(ctx, req)
			}),
		},
		{
			MethodName: "GetPermissions",
			Handler: unaryHandler(methodGetPermissions, func(srv AdminServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetPermissions(ctx, req)
			}),
		},
		{
			MethodName: "GetUsage",
			Handler: unaryHandler(methodGetUsage, func(srv AdminServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetUsage(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grokgate/admin/v1/admin.proto",
}

// AdminServiceClient calls AdminService.
type AdminServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminServiceClient creates a client over cc.
func NewAdminServiceClient(cc grpc.ClientConnInterface) *AdminServiceClient {
	return &AdminServiceClient{cc: cc}
}

func (c *AdminServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveApproval applies a decision to a pending request.
func (c *AdminServiceClient) ResolveApproval(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodResolveApproval, in, opts...)
}

// GetPermissions resolves the bot's permissions in a guild.
func (c *AdminServiceClient) GetPermissions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetPermissions, in, opts...)
}

// GetUsage returns today's usage counters.
func (c *AdminServiceClient) GetUsage(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetUsage, in, opts...)
}
