package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mirador.triage.v1.TriageEngine"

// Full method names.
const (
	MethodRunPipeline   = "/" + ServiceName + "/RunPipeline"
	MethodSubmitBulkJob = "/" + ServiceName + "/SubmitBulkJob"
	MethodGetJobStatus  = "/" + ServiceName + "/GetJobStatus"
	MethodCancelJob     = "/" + ServiceName + "/CancelJob"
	MethodGetJobReport  = "/" + ServiceName + "/GetJobReport"
)

// TriageEngineServer is the server API of the triage engine. Messages are JSON-shaped
// google.protobuf.Struct values; see handlers.go for their layouts.
type TriageEngineServer interface {
	RunPipeline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitBulkJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJobStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetJobReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterTriageEngineServer attaches srv to the gRPC registrar.
func RegisterTriageEngineServer(s grpc.ServiceRegistrar, srv TriageEngineServer) {
	s.RegisterService(&TriageEngineServiceDesc, srv)
}

type unaryMethod func(TriageEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TriageEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TriageEngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// TriageEngineServiceDesc describes the TriageEngine service for grpc.Server.
var TriageEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TriageEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunPipeline", Handler: unaryHandler(MethodRunPipeline, TriageEngineServer.RunPipeline)},
		{MethodName: "SubmitBulkJob", Handler: unaryHandler(MethodSubmitBulkJob, TriageEngineServer.SubmitBulkJob)},
		{MethodName: "GetJobStatus", Handler: unaryHandler(MethodGetJobStatus, TriageEngineServer.GetJobStatus)},
		{MethodName: "CancelJob", Handler: unaryHandler(MethodCancelJob, TriageEngineServer.CancelJob)},
		{MethodName: "GetJobReport", Handler: unaryHandler(MethodGetJobReport, TriageEngineServer.GetJobReport)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/triage/v1/triage.proto",
}

// TriageEngineClient calls a remote TriageEngine.
type TriageEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewTriageEngineClient wraps a client connection.
func NewTriageEngineClient(cc grpc.ClientConnInterface) *TriageEngineClient {
	return &TriageEngineClient{cc: cc}
}

func (c *TriageEngineClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RunPipeline analyses one ticket or inline conversation.
func (c *TriageEngineClient) RunPipeline(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRunPipeline, in, opts...)
}

// SubmitBulkJob submits ticket ids for asynchronous processing.
func (c *TriageEngineClient) SubmitBulkJob(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSubmitBulkJob, in, opts...)
}

// GetJobStatus returns a job snapshot.
func (c *TriageEngineClient) GetJobStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetJobStatus, in, opts...)
}

// CancelJob requests cancellation of a running job.
func (c *TriageEngineClient) CancelJob(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCancelJob, in, opts...)
}

// GetJobReport returns the theme report of a finished job.
func (c *TriageEngineClient) GetJobReport(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetJobReport, in, opts...)
}
