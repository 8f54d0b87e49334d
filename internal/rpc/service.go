// Package rpc exposes the liveness engine as a gRPC service.
//
// The service uses well-known protobuf types so no generated code is needed:
// the request is a BytesValue holding the encoded image and the response is
// a Struct mirroring the HTTP check response.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name
	ServiceName = "faceattend.v1.Liveness"

	checkMethod = "/" + ServiceName + "/Check"

	// SourceMetadataKey names the calling kiosk in request metadata
	SourceMetadataKey = "x-faceattend-source"
)

// LivenessServer is the server API for the Liveness service
type LivenessServer interface {
	Check(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// RegisterLivenessServer registers srv with a gRPC server
func RegisterLivenessServer(s grpc.ServiceRegistrar, srv LivenessServer) {
	s.RegisterService(&livenessServiceDesc, srv)
}

func checkHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LivenessServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: checkMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LivenessServer).Check(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var livenessServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LivenessServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Check",
			Handler:    checkHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faceattend/v1/liveness.proto",
}
