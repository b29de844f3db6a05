// Package controlrpc is the compositor-facing gRPC service. The compositor
// plugin manages virtual displays, reports the pointer and screen layout,
// and streams effect events from it.
//
// Messages are protobuf well-known types so that no generated code is
// needed on either side: requests and events are google.protobuf.Struct
// values with the same field names as the HTTP API's JSON.
package controlrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "xrbridge.v1.Control"

// Full method names.
const (
	MethodAddVirtualDisplay    = "/" + ServiceName + "/AddVirtualDisplay"
	MethodListVirtualDisplays  = "/" + ServiceName + "/ListVirtualDisplays"
	MethodRemoveVirtualDisplay = "/" + ServiceName + "/RemoveVirtualDisplay"
	MethodReportCursor         = "/" + ServiceName + "/ReportCursor"
	MethodReportScreens        = "/" + ServiceName + "/ReportScreens"
	MethodSetCursorImage       = "/" + ServiceName + "/SetCursorImage"
	MethodStreamEvents         = "/" + ServiceName + "/StreamEvents"
)

// ControlServer is the server API for the Control service.
type ControlServer interface {
	// AddVirtualDisplay takes {width, height} and returns {displays}.
	AddVirtualDisplay(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListVirtualDisplays(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// RemoveVirtualDisplay takes a display id and returns {displays}.
	RemoveVirtualDisplay(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// ReportCursor takes {x, y} and returns whether the cursor is hidden.
	ReportCursor(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	// ReportScreens takes {screens: [...], target}.
	ReportScreens(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// SetCursorImage takes {width, height}.
	SetCursorImage(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	StreamEvents(*emptypb.Empty, Control_StreamEventsServer) error
}

// Control_StreamEventsServer is the server side of StreamEvents.
type Control_StreamEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type controlStreamEventsServer struct {
	grpc.ServerStream
}

func (x *controlStreamEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(ControlServer, context.Context, *Req) (Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ControlServer).StreamEvents(m, &controlStreamEventsServer{stream})
}

// Control_ServiceDesc describes the Control service for grpc.Server.
var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AddVirtualDisplay",
			Handler:    unaryHandler(MethodAddVirtualDisplay, ControlServer.AddVirtualDisplay),
		},
		{
			MethodName: "ListVirtualDisplays",
			Handler:    unaryHandler(MethodListVirtualDisplays, ControlServer.ListVirtualDisplays),
		},
		{
			MethodName: "RemoveVirtualDisplay",
			Handler:    unaryHandler(MethodRemoveVirtualDisplay, ControlServer.RemoveVirtualDisplay),
		},
		{
			MethodName: "ReportCursor",
			Handler:    unaryHandler(MethodReportCursor, ControlServer.ReportCursor),
		},
		{
			MethodName: "ReportScreens",
			Handler:    unaryHandler(MethodReportScreens, ControlServer.ReportScreens),
		},
		{
			MethodName: "SetCursorImage",
			Handler:    unaryHandler(MethodSetCursorImage, ControlServer.SetCursorImage),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "xrbridge/v1/control.proto",
}
