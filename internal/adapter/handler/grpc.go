package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/core/pipeline"
	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

// EngineServiceName is the fully qualified gRPC service name.
//
// The service uses well-known protobuf types only, so no generated code is needed:
//
//	rpc ScanIOCs(google.protobuf.StringValue) returns (google.protobuf.Struct);
//	rpc Transform(google.protobuf.Struct) returns (google.protobuf.StringValue);
//	rpc Deobfuscate(google.protobuf.Struct) returns (google.protobuf.Struct);
const EngineServiceName = "dfir.v1.Engine"

// EngineServer is the server API for the dfir.v1.Engine service
type EngineServer interface {
	ScanIOCs(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Transform(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	Deobfuscate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var EngineServiceDesc = grpc.ServiceDesc{
	ServiceName: EngineServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ScanIOCs", Handler: scanIOCsHandler},
		{MethodName: "Transform", Handler: transformHandler},
		{MethodName: "Deobfuscate", Handler: deobfuscateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dfir/v1/engine.proto",
}

// RegisterEngineServer registers srv on s
func RegisterEngineServer(s grpc.ServiceRegistrar, srv EngineServer) {
	s.RegisterService(&EngineServiceDesc, srv)
}

func scanIOCsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngineServer).ScanIOCs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + EngineServiceName + "/ScanIOCs"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(EngineServer).ScanIOCs(ctx, req.(*wrapperspb.StringValue))
	})
}

func transformHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngineServer).Transform(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + EngineServiceName + "/Transform"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(EngineServer).Transform(ctx, req.(*structpb.Struct))
	})
}

func deobfuscateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngineServer).Deobfuscate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + EngineServiceName + "/Deobfuscate"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(EngineServer).Deobfuscate(ctx, req.(*structpb.Struct))
	})
}

type GrpcServer struct {
	engine *pipeline.Orchestrator
	logger *log.Logger
}

var _ EngineServer = (*GrpcServer)(nil)

func NewGrpcServer(engine *pipeline.Orchestrator, logger *log.Logger) *GrpcServer {
	if logger == nil {
		logger = log.Default()
	}
	return &GrpcServer{engine: engine, logger: logger}
}

func (s *GrpcServer) ScanIOCs(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "code cannot be empty")
	}

	iocs := domain.ScanStaticIOCs(req.GetValue())
	return toStruct(map[string]any{"iocs": iocs})
}

func (s *GrpcServer) Transform(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	fields := req.GetFields()
	step := domain.Step(strings.ToUpper(fields["step"].GetStringValue()))
	if !step.IsDeterministic() {
		return nil, status.Errorf(codes.InvalidArgument, "step %q cannot run standalone", step)
	}

	outcome, err := pipeline.NewDispatcher(nil).Execute(ctx, step, fields["code"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.String(outcome.Content), nil
}

// Deobfuscate runs the pipeline and blocks until the run finishes. An aborted run
// is returned with an "error" field rather than as an RPC error.
func (s *GrpcServer) Deobfuscate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	runReq := pipeline.RunRequest{
		Input:    fields["input"].GetStringValue(),
		Provider: fields["provider"].GetStringValue(),
	}
	if fields["offline"].GetBoolValue() {
		runReq.Steps = domain.OfflineSteps()
	}

	rec, err := s.engine.Run(ctx, runReq)
	var stepErr *pipeline.StepError
	switch {
	case err == nil:
		return toStruct(map[string]any{"run": rec})
	case errors.As(err, &stepErr):
		s.logger.Warn("⚠️ Remote run aborted", "run", rec.ID, "step", stepErr.Step)
		return toStruct(map[string]any{"run": rec, "error": stepErr.Error()})
	default:
		return nil, grpcError(err)
	}
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrEmptyInput),
		errors.Is(err, pipeline.ErrUnknownStep),
		errors.Is(err, pipeline.ErrInvalidStepOrder),
		errors.Is(err, pipeline.ErrNoCollaborator),
		errors.Is(err, ports.ErrUnknownProvider):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, pipeline.ErrRunSuperseded):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// EngineClient is the client API for the dfir.v1.Engine service
type EngineClient struct {
	cc grpc.ClientConnInterface
}

func NewEngineClient(cc grpc.ClientConnInterface) *EngineClient {
	return &EngineClient{cc: cc}
}

func (c *EngineClient) ScanIOCs(ctx context.Context, code string, opts ...grpc.CallOption) ([]domain.Indicator, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+EngineServiceName+"/ScanIOCs", wrapperspb.String(code), out, opts...); err != nil {
		return nil, err
	}

	var resp struct {
		IOCs []domain.Indicator `json:"iocs"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.IOCs, nil
}

func (c *EngineClient) Transform(ctx context.Context, step domain.Step, code string, opts ...grpc.CallOption) (string, error) {
	in, err := structpb.NewStruct(map[string]any{"step": string(step), "code": code})
	if err != nil {
		return "", err
	}

	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+EngineServiceName+"/Transform", in, out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Deobfuscate runs a remote pipeline. A run aborted by a failing step is returned
// together with a non-nil error.
func (c *EngineClient) Deobfuscate(ctx context.Context, input, provider string, offline bool, opts ...grpc.CallOption) (domain.RunRecord, error) {
	in, err := structpb.NewStruct(map[string]any{"input": input, "provider": provider, "offline": offline})
	if err != nil {
		return domain.RunRecord{}, err
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+EngineServiceName+"/Deobfuscate", in, out, opts...); err != nil {
		return domain.RunRecord{}, err
	}

	var resp struct {
		Run   domain.RunRecord `json:"run"`
		Error string           `json:"error"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return domain.RunRecord{}, err
	}
	if resp.Error != "" {
		return resp.Run, errors.New(resp.Error)
	}
	return resp.Run, nil
}

// toStruct converts v to a Struct through its JSON form
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
