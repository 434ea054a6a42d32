package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls a remote timeline service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Seek moves the target round of a match and returns the clamped target.
func (c *Client) Seek(ctx context.Context, match int, round int32, opts ...grpc.CallOption) (int32, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.cc.Invoke(ctx, fullMethod("Seek"), positionRequest(match, round), out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Pause stops or resumes auto-play.
func (c *Client) Pause(ctx context.Context, paused bool, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod("Pause"), wrapperspb.Bool(paused), new(emptypb.Empty), opts...)
}

// Summary fetches the playback summary as decoded JSON.
func (c *Client) Summary(ctx context.Context, opts ...grpc.CallOption) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("Summary"), new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Bodies fetches the bodies of a match at a round.
func (c *Client) Bodies(ctx context.Context, match int, round int32, opts ...grpc.CallOption) (BodiesPayload, error) {
	var header metadata.MD
	out := new(wrapperspb.BytesValue)
	opts = append(opts, grpc.Header(&header))
	if err := c.cc.Invoke(ctx, fullMethod("Bodies"), positionRequest(match, round), out, opts...); err != nil {
		return BodiesPayload{}, err
	}
	encoding := ""
	if values := header.Get(PayloadEncodingHeader); len(values) > 0 {
		encoding = values[0]
	}
	compressor, err := compressorFor(encoding)
	if err != nil {
		return BodiesPayload{}, err
	}
	raw, err := compressor.Decompress(out.GetValue())
	if err != nil {
		return BodiesPayload{}, err
	}
	var payload BodiesPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return BodiesPayload{}, fmt.Errorf("decode bodies: %w", err)
	}
	return payload, nil
}

func positionRequest(match int, round int32) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"match": structpb.NewNumberValue(float64(match)),
		"round": structpb.NewNumberValue(float64(round)),
	}}
}
