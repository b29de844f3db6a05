package controlrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/xrdesk/xrbridge/internal/effect"
	"github.com/xrdesk/xrbridge/internal/monitoring"
	"github.com/xrdesk/xrbridge/internal/screens"
	"github.com/xrdesk/xrbridge/internal/vdisplay"
)

// Ensure Server implements the gRPC interface.
var _ ControlServer = (*Server)(nil)

// Server implements ControlServer on top of an effect engine.
type Server struct {
	engine *effect.Engine

	streams atomic.Int32

	mu       sync.Mutex
	grpc     *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
}

func NewServer(engine *effect.Engine) *Server {
	return &Server{engine: engine}
}

// Streams returns the number of connected event streams.
func (s *Server) Streams() int { return int(s.streams.Load()) }

func (s *Server) registry() (*vdisplay.Registry, error) {
	if reg := s.engine.Displays(); reg != nil {
		return reg, nil
	}
	return nil, status.Error(codes.Unavailable, "virtual displays are not available")
}

func (s *Server) AddVirtualDisplay(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}
	w, okW := uintField(req, "width")
	h, okH := uintField(req, "height")
	if !okW || !okH {
		return nil, status.Error(codes.InvalidArgument, "width and height must be positive integers")
	}
	if _, err := reg.Add(ctx, w, h); err != nil {
		if errors.Is(err, vdisplay.ErrInvalidSize) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		monitoring.Logf("[gRPC] add display: %v", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	return displayStruct(reg.List())
}

func (s *Server) ListVirtualDisplays(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}
	return displayStruct(reg.List())
}

func (s *Server) RemoveVirtualDisplay(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}
	reg.Remove(ctx, req.GetValue())
	return displayStruct(reg.List())
}

func (s *Server) ReportCursor(_ context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	x, okX := numberField(req, "x")
	y, okY := numberField(req, "y")
	if !okX || !okY {
		return nil, status.Error(codes.InvalidArgument, "x and y are required")
	}
	change := s.engine.SampleCursor(screens.Point{X: x, Y: y})
	return wrapperspb.Bool(change.Hidden), nil
}

func (s *Server) ReportScreens(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var body struct {
		Screens []screens.Screen `json:"screens"`
		Target  int              `json:"target"`
	}
	if err := decodeStruct(req, &body); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.engine.SetScreens(ctx, body.Screens, body.Target)
	return &emptypb.Empty{}, nil
}

func (s *Server) SetCursorImage(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	w, okW := numberField(req, "width")
	h, okH := numberField(req, "height")
	if !okW || !okH || w < 0 || h < 0 {
		return nil, status.Error(codes.InvalidArgument, "width and height must be non-negative")
	}
	s.engine.SetCursorImageSize(screens.Size{Width: w, Height: h})
	return &emptypb.Empty{}, nil
}

// StreamEvents sends every hub event until the client goes away or the
// hub closes.
func (s *Server) StreamEvents(_ *emptypb.Empty, stream Control_StreamEventsServer) error {
	hub := s.engine.Hub()
	id, events := hub.Subscribe()
	defer hub.Unsubscribe(id)

	s.streams.Add(1)
	defer s.streams.Add(-1)
	monitoring.Logf("[gRPC] event stream %s connected", id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msg, err := toStruct(ev)
			if err != nil {
				monitoring.Logf("[gRPC] encode %s event: %v", ev.Kind, err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// Listen binds a unix socket at path, replacing a stale socket file left
// by a previous run.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		lis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return lis, nil
}

// Start serves the Control service on lis in the background.
func (s *Server) Start(lis net.Listener, opts ...grpc.ServerOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpc != nil {
		return errors.New("control server already running")
	}
	s.grpc = grpc.NewServer(opts...)
	RegisterControlServer(s.grpc, s)
	s.listener = lis

	srv := s.grpc
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[gRPC] control service listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			monitoring.Logf("[gRPC] control server error: %v", err)
		}
	}()
	return nil
}

// Stop stops the server. Open event streams are cancelled.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.grpc
	s.grpc = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	srv.Stop()
	s.wg.Wait()
	monitoring.Logf("[gRPC] control server stopped")
}

func displayStruct(list []vdisplay.Info) (*structpb.Struct, error) {
	if list == nil {
		list = []vdisplay.Info{}
	}
	return toStruct(map[string]any{"displays": list})
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// decodeStruct converts a Struct into v through its JSON form.
func decodeStruct(s *structpb.Struct, v any) error {
	b, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func numberField(s *structpb.Struct, key string) (float64, bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return 0, false
	}
	return n.NumberValue, true
}

func uintField(s *structpb.Struct, key string) (uint32, bool) {
	n, ok := numberField(s, key)
	if !ok || n < 0 || n > math.MaxUint32 || n != math.Trunc(n) {
		return 0, false
	}
	return uint32(n), true
}
