// Package rpc exposes playback control over gRPC. Messages are protobuf
// well-known types so no generated code is needed.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"arenareplay/engine/internal/logging"
	"arenareplay/engine/internal/playback"
	"arenareplay/engine/internal/world"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "arenareplay.v1.Timeline"

// PayloadEncodingHeader names the compressor used for a Bodies payload.
const PayloadEncodingHeader = "x-payload-encoding"

// Controller is the playback surface the service drives.
type Controller interface {
	Seek(ctx context.Context, match int, round int32) (int32, error)
	SetPaused(ctx context.Context, paused bool) error
	Summary(ctx context.Context) (playback.Summary, error)
	Bodies(ctx context.Context, match int, round int32) ([]world.Body, int32, error)
}

// TimelineServer is the handler type registered with ServiceDesc.
type TimelineServer interface {
	Seek(context.Context, *structpb.Struct) (*wrapperspb.Int32Value, error)
	Pause(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	Summary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Bodies(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
}

// BodiesPayload is the JSON document carried by a Bodies response.
type BodiesPayload struct {
	Match  int          `json:"match"`
	Round  int32        `json:"round"`
	Bodies []world.Body `json:"bodies"`
}

// Option customises the behaviour of the timeline service.
type Option func(*Service)

// WithCompressor overrides the default payload compressor.
func WithCompressor(compressor Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressor = compressor
		}
	}
}

// Service implements TimelineServer on top of a Controller.
type Service struct {
	controller Controller
	compressor Compressor
}

// NewService wires the service to the playback controller.
func NewService(controller Controller, opts ...Option) *Service {
	service := &Service{controller: controller, compressor: NewGZIPCompressor()}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// NewServer builds a gRPC server with trace logging and the service registered.
func NewServer(service *Service, logger *logging.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = logging.L()
	}
	//1.- Tracing runs first so rejected calls are logged too.
	all := append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logging.UnaryTraceInterceptor(logger))}, opts...)
	server := grpc.NewServer(all...)
	server.RegisterService(&ServiceDesc, service)
	return server
}

// Seek selects a match and moves its target round. The request carries
// numeric "match" and "round" fields; the reply is the clamped target.
func (s *Service) Seek(ctx context.Context, req *structpb.Struct) (*wrapperspb.Int32Value, error) {
	if s == nil || s.controller == nil {
		return nil, status.Error(codes.FailedPrecondition, "playback unavailable")
	}
	matchIndex, round, err := position(req)
	if err != nil {
		return nil, err
	}
	target, err := s.controller.Seek(ctx, matchIndex, round)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Int32(target), nil
}

// Pause stops or resumes auto-play.
func (s *Service) Pause(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	if s == nil || s.controller == nil {
		return nil, status.Error(codes.FailedPrecondition, "playback unavailable")
	}
	if err := s.controller.SetPaused(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Summary reports the session and playback position as a JSON-shaped struct.
func (s *Service) Summary(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s == nil || s.controller == nil {
		return nil, status.Error(codes.FailedPrecondition, "playback unavailable")
	}
	summary, err := s.controller.Summary(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	//1.- Round-trip through JSON so the struct mirrors the documented field names.
	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode summary: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, status.Errorf(codes.Internal, "decode summary: %v", err)
	}
	out, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "summary struct: %v", err)
	}
	return out, nil
}

// Bodies reconstructs a match at a round and returns its bodies as
// compressed JSON. The encoding is announced in PayloadEncodingHeader.
func (s *Service) Bodies(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	if s == nil || s.controller == nil {
		return nil, status.Error(codes.FailedPrecondition, "playback unavailable")
	}
	matchIndex, round, err := position(req)
	if err != nil {
		return nil, err
	}
	bodies, turn, err := s.controller.Bodies(ctx, matchIndex, round)
	if err != nil {
		return nil, toStatus(err)
	}
	raw, err := json.Marshal(BodiesPayload{Match: matchIndex, Round: turn, Bodies: bodies})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode bodies: %v", err)
	}
	compressed, err := s.compressor.Compress(raw)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "compress bodies: %v", err)
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(PayloadEncodingHeader, s.compressor.Name()))
	return wrapperspb.Bytes(compressed), nil
}

// position extracts the match index and round from a request struct.
func position(req *structpb.Struct) (int, int32, error) {
	fields := req.GetFields()
	matchIndex, err := integerField(fields, "match")
	if err != nil {
		return 0, 0, err
	}
	round, err := integerField(fields, "round")
	if err != nil {
		return 0, 0, err
	}
	if round > math.MaxInt32 {
		round = math.MaxInt32
	}
	if round < math.MinInt32 {
		round = math.MinInt32
	}
	return int(matchIndex), int32(round), nil
}

func integerField(fields map[string]*structpb.Value, name string) (int64, error) {
	value, ok := fields[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok || number.NumberValue != math.Trunc(number.NumberValue) || math.IsInf(number.NumberValue, 0) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int64(number.NumberValue), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, playback.ErrNoMatch):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, playback.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ServiceDesc describes the timeline service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TimelineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Seek", Handler: unaryHandler("Seek", newStruct, TimelineServer.Seek)},
		{MethodName: "Pause", Handler: unaryHandler("Pause", newBool, TimelineServer.Pause)},
		{MethodName: "Summary", Handler: unaryHandler("Summary", newEmpty, TimelineServer.Summary)},
		{MethodName: "Bodies", Handler: unaryHandler("Bodies", newStruct, TimelineServer.Bodies)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "arenareplay/v1/timeline",
}

func newStruct() *structpb.Struct     { return new(structpb.Struct) }
func newBool() *wrapperspb.BoolValue  { return new(wrapperspb.BoolValue) }
func newEmpty() *emptypb.Empty        { return new(emptypb.Empty) }
func fullMethod(method string) string { return fmt.Sprintf("/%s/%s", ServiceName, method) }

// unaryHandler adapts a typed TimelineServer method to grpc.MethodHandler.
func unaryHandler[Req, Resp any](method string, newReq func() Req, call func(TimelineServer, context.Context, Req) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(TimelineServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(Req))
		})
	}
}
