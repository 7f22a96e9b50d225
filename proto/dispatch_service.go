package proto

import (
	"context"

	"google.golang.org/grpc"
)

// Stub types for DispatchService gRPC service
// TODO: Replace with generated protobuf code

// SubmitRequest carries an envelope for dispatch
type SubmitRequest struct {
	Envelope *Envelope
}

// SubmitResponse carries the dispatch outcome
type SubmitResponse struct {
	Reply *DispatchReply
}

// StateRequest asks for the host's lifecycle state
type StateRequest struct{}

// StateResponse reports the host's lifecycle state
type StateResponse struct {
	State    string
	InFlight int32
	Bindings int32
}

// DispatchServiceClient is the client interface for the dispatch service
type DispatchServiceClient interface {
	Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error)
	GetState(ctx context.Context, in *StateRequest, opts ...grpc.CallOption) (*StateResponse, error)
}

// dispatchServiceClient implements DispatchServiceClient
type dispatchServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewDispatchServiceClient creates a new DispatchServiceClient
func NewDispatchServiceClient(cc grpc.ClientConnInterface) DispatchServiceClient {
	return &dispatchServiceClient{cc}
}

func (c *dispatchServiceClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	err := c.cc.Invoke(ctx, "/courier.DispatchService/Submit", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *dispatchServiceClient) GetState(ctx context.Context, in *StateRequest, opts ...grpc.CallOption) (*StateResponse, error) {
	out := new(StateResponse)
	err := c.cc.Invoke(ctx, "/courier.DispatchService/GetState", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DispatchServiceServer is the server interface for the dispatch service
type DispatchServiceServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetState(context.Context, *StateRequest) (*StateResponse, error)
}

// UnimplementedDispatchServiceServer provides default implementations
type UnimplementedDispatchServiceServer struct{}

func (UnimplementedDispatchServiceServer) Submit(context.Context, *SubmitRequest) (*SubmitResponse, error) {
	return nil, nil
}

func (UnimplementedDispatchServiceServer) GetState(context.Context, *StateRequest) (*StateResponse, error) {
	return nil, nil
}

// _DispatchService_Submit_Handler is the handler for the Submit RPC method
func _DispatchService_Submit_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/courier.DispatchService/Submit",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServiceServer).Submit(ctx, req.(*SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// _DispatchService_GetState_Handler is the handler for the GetState RPC method
func _DispatchService_GetState_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).GetState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/courier.DispatchService/GetState",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DispatchServiceServer).GetState(ctx, req.(*StateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterDispatchServiceServer registers the dispatch service with gRPC
func RegisterDispatchServiceServer(s grpc.ServiceRegistrar, srv DispatchServiceServer) {
	// Stub implementation - would be generated by protoc
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "courier.DispatchService",
		HandlerType: (*DispatchServiceServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Submit",
				Handler:    _DispatchService_Submit_Handler,
			},
			{
				MethodName: "GetState",
				Handler:    _DispatchService_GetState_Handler,
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "dispatch_service.proto",
	}, srv)
}
