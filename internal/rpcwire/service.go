package rpcwire

import (
	"context"

	"google.golang.org/grpc"
)

// StatementServer is the interface internal/dispatcher implements. Method
// names mirror spec.md §6's StatementService operations; FetchNext streams
// (it is registered as a server-streaming RPC below).
type StatementServer interface {
	OpenSession(context.Context, *OpenSessionRequest) (*OpenSessionResponse, error)
	CloseSession(context.Context, *CloseSessionRequest) (*CloseSessionResponse, error)
	Execute(context.Context, *ExecuteRequest) (*ExecuteResponse, error)
	FetchNext(*FetchRequest, StatementFetchNextServer) error
	XAControl(context.Context, *XARequest) (*XAResponse, error)
	LOBRead(context.Context, *LOBReadRequest) (*LOBReadResponse, error)
	LOBWrite(context.Context, *LOBWriteRequest) (*LOBWriteResponse, error)
}

// HealthServer is the interface implemented for HealthService (spec.md §6).
type HealthServer interface {
	Check(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
}

// StatementFetchNextServer is the server-side stream handle FetchNext
// writes batches to — yielding between batches so client cancellation is
// observable mid-stream (spec.md §5).
type StatementFetchNextServer interface {
	Send(*FetchResponse) error
	grpc.ServerStream
}

type statementFetchNextServer struct {
	grpc.ServerStream
}

func (s *statementFetchNextServer) Send(m *FetchResponse) error {
	return s.ServerStream.SendMsg(m)
}

func fetchNextHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(FetchRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(StatementServer).FetchNext(m, &statementFetchNextServer{stream})
}

func openSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(OpenSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatementServer).OpenSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatementService_ServiceDesc.ServiceName + "/OpenSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatementServer).OpenSession(ctx, req.(*OpenSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func closeSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CloseSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatementServer).CloseSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatementService_ServiceDesc.ServiceName + "/CloseSession"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatementServer).CloseSession(ctx, req.(*CloseSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatementServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatementService_ServiceDesc.ServiceName + "/Execute"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatementServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func xaControlHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(XARequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatementServer).XAControl(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatementService_ServiceDesc.ServiceName + "/XAControl"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatementServer).XAControl(ctx, req.(*XARequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lobReadHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LOBReadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatementServer).LOBRead(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatementService_ServiceDesc.ServiceName + "/LOBRead"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatementServer).LOBRead(ctx, req.(*LOBReadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func lobWriteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LOBWriteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatementServer).LOBWrite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatementService_ServiceDesc.ServiceName + "/LOBWrite"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatementServer).LOBWrite(ctx, req.(*LOBWriteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// StatementService_ServiceDesc is the hand-written grpc.ServiceDesc for
// spec.md §6's StatementService (see the package doc comment in codec.go
// for why this is hand-written instead of protoc-generated).
var StatementService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "ojp.StatementService",
	HandlerType: (*StatementServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenSession", Handler: openSessionHandler},
		{MethodName: "CloseSession", Handler: closeSessionHandler},
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "XAControl", Handler: xaControlHandler},
		{MethodName: "LOBRead", Handler: lobReadHandler},
		{MethodName: "LOBWrite", Handler: lobWriteHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "FetchNext", Handler: fetchNextHandler, ServerStreams: true},
	},
	Metadata: "ojp/statement_service.ojp",
}

func RegisterStatementServer(s grpc.ServiceRegistrar, srv StatementServer) {
	s.RegisterService(&StatementService_ServiceDesc, srv)
}

func checkHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HealthCheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HealthServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthService_ServiceDesc.ServiceName + "/Check"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HealthServer).Check(ctx, req.(*HealthCheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var HealthService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "ojp.HealthService",
	HandlerType: (*HealthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: checkHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ojp/health_service.ojp",
}

func RegisterHealthServer(s grpc.ServiceRegistrar, srv HealthServer) {
	s.RegisterService(&HealthService_ServiceDesc, srv)
}
