package controlapi

import (
	"context"

	"google.golang.org/grpc"
)

// ControlAPIServer is implemented by *Server. Declared separately from the
// concrete type so the hand-written ServiceDesc below can dispatch through
// it the same way protoc-gen-go-grpc's generated interface would.
type ControlAPIServer interface {
	ListWorkers(context.Context, *ListWorkersRequest) (*ListWorkersResponse, error)
	StartWorker(context.Context, *DeviceRequest) (*DeviceResponse, error)
	StopWorker(context.Context, *DeviceRequest) (*DeviceResponse, error)
	PauseWorker(context.Context, *DeviceRequest) (*DeviceResponse, error)
	ResumeWorker(context.Context, *DeviceRequest) (*DeviceResponse, error)
	RestartWorker(context.Context, *DeviceRequest) (*DeviceResponse, error)
	WritePoint(context.Context, *WritePointRequest) (*WritePointResponse, error)
	AcknowledgeAlarm(context.Context, *AlarmActionRequest) (*AlarmActionResponse, error)
	ClearAlarm(context.Context, *AlarmActionRequest) (*AlarmActionResponse, error)
	SuppressAlarm(context.Context, *AlarmActionRequest) (*AlarmActionResponse, error)
	ListActiveAlarms(context.Context, *ListActiveAlarmsRequest) (*ListActiveAlarmsResponse, error)
}

// ServiceDesc is the method table grpc.Server.RegisterService needs; it
// plays the role a .proto-generated *_grpc.pb.go file would, mapping each
// RPC name onto a handler that decodes the request through whatever codec
// the transport negotiated (codec.go's jsonCodec here) and dispatches to
// ControlAPIServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "controlapi.ControlAPI",
	HandlerType: (*ControlAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListWorkers", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *ListWorkersRequest) (any, error) {
			return s.ListWorkers(ctx, req)
		})},
		{MethodName: "StartWorker", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *DeviceRequest) (any, error) {
			return s.StartWorker(ctx, req)
		})},
		{MethodName: "StopWorker", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *DeviceRequest) (any, error) {
			return s.StopWorker(ctx, req)
		})},
		{MethodName: "PauseWorker", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *DeviceRequest) (any, error) {
			return s.PauseWorker(ctx, req)
		})},
		{MethodName: "ResumeWorker", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *DeviceRequest) (any, error) {
			return s.ResumeWorker(ctx, req)
		})},
		{MethodName: "RestartWorker", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *DeviceRequest) (any, error) {
			return s.RestartWorker(ctx, req)
		})},
		{MethodName: "WritePoint", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *WritePointRequest) (any, error) {
			return s.WritePoint(ctx, req)
		})},
		{MethodName: "AcknowledgeAlarm", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *AlarmActionRequest) (any, error) {
			return s.AcknowledgeAlarm(ctx, req)
		})},
		{MethodName: "ClearAlarm", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *AlarmActionRequest) (any, error) {
			return s.ClearAlarm(ctx, req)
		})},
		{MethodName: "SuppressAlarm", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *AlarmActionRequest) (any, error) {
			return s.SuppressAlarm(ctx, req)
		})},
		{MethodName: "ListActiveAlarms", Handler: unaryHandler(func(s ControlAPIServer, ctx context.Context, req *ListActiveAlarmsRequest) (any, error) {
			return s.ListActiveAlarms(ctx, req)
		})},
	},
	Metadata: "controlapi.proto",
}

// unaryHandler builds a grpc.methodHandler-shaped func for one RPC, generic
// over its request type. call receives the already-type-asserted server
// and decoded request.
func unaryHandler[Req any](call func(ControlAPIServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(ControlAPIServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/controlapi.ControlAPI/" + methodNameOf(in)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// methodNameOf derives a human-readable method name from the request type
// for interceptor logging; exact FullMethod accuracy doesn't affect
// dispatch, which grpc.Server already resolves via ServiceDesc+stream path.
func methodNameOf(req any) string {
	switch req.(type) {
	case *ListWorkersRequest:
		return "ListWorkers"
	case *DeviceRequest:
		return "DeviceOp"
	case *WritePointRequest:
		return "WritePoint"
	case *AlarmActionRequest:
		return "AlarmAction"
	case *ListActiveAlarmsRequest:
		return "ListActiveAlarms"
	default:
		return "Unknown"
	}
}
