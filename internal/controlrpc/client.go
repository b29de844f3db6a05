package controlrpc

import (
	"context"
	"encoding/json"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/xrdesk/xrbridge/internal/effect"
	"github.com/xrdesk/xrbridge/internal/screens"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

// Client calls the Control service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to the Control service on a unix socket.
func Dial(socketPath string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	target := "unix:" + socketPath
	if filepath.IsAbs(socketPath) {
		target = "unix://" + socketPath
	}
	return grpc.NewClient(target, opts...)
}

func decodeDisplays(s *structpb.Struct) ([]vdisplay.Info, error) {
	var body struct {
		Displays []vdisplay.Info `json:"displays"`
	}
	if err := decodeStruct(s, &body); err != nil {
		return nil, err
	}
	return body.Displays, nil
}

func (c *Client) AddVirtualDisplay(ctx context.Context, width, height uint32) ([]vdisplay.Info, error) {
	in, err := structpb.NewStruct(map[string]any{"width": width, "height": height})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodAddVirtualDisplay, in, out); err != nil {
		return nil, err
	}
	return decodeDisplays(out)
}

func (c *Client) ListVirtualDisplays(ctx context.Context) ([]vdisplay.Info, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodListVirtualDisplays, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return decodeDisplays(out)
}

func (c *Client) RemoveVirtualDisplay(ctx context.Context, id string) ([]vdisplay.Info, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodRemoveVirtualDisplay, wrapperspb.String(id), out); err != nil {
		return nil, err
	}
	return decodeDisplays(out)
}

// ReportCursor sends a pointer sample and returns whether the cursor
// should be hidden.
func (c *Client) ReportCursor(ctx context.Context, pos screens.Point) (bool, error) {
	in, err := structpb.NewStruct(map[string]any{"x": pos.X, "y": pos.Y})
	if err != nil {
		return false, err
	}
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, MethodReportCursor, in, out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *Client) ReportScreens(ctx context.Context, list []screens.Screen, target int) error {
	in, err := toStruct(map[string]any{"screens": list, "target": target})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, MethodReportScreens, in, new(emptypb.Empty))
}

func (c *Client) SetCursorImage(ctx context.Context, size screens.Size) error {
	in, err := structpb.NewStruct(map[string]any{"width": size.Width, "height": size.Height})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, MethodSetCursorImage, in, new(emptypb.Empty))
}

// EventStream receives events from StreamEvents.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (effect.Event, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return effect.Event{}, err
	}
	var ev effect.Event
	b, err := msg.MarshalJSON()
	if err != nil {
		return ev, err
	}
	err = json.Unmarshal(b, &ev)
	return ev, err
}

// StreamEvents opens an event stream that lasts until ctx is done.
func (c *Client) StreamEvents(ctx context.Context) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &Control_ServiceDesc.Streams[0], MethodStreamEvents)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
