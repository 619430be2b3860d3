package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dreamware/kvfabric/internal/handler"
)

// V1Server is the flat legacy GetValues surface (spec §6:
// "v1.KeyValueService.GetValues(GetValuesRequest) -> GetValuesResponse").
type V1Server interface {
	GetValues(ctx context.Context, req *handler.V1Request) (*handler.V1Response, error)
}

var v1ServiceDesc = grpc.ServiceDesc{
	ServiceName: "v1.KeyValueService",
	HandlerType: (*V1Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetValues", Handler: v1GetValuesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/handler",
}

func v1GetValuesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(handler.V1Request)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(V1Server).GetValues(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/v1.KeyValueService/GetValues"}
	h := func(ctx context.Context, req any) (any, error) {
		return srv.(V1Server).GetValues(ctx, req.(*handler.V1Request))
	}
	return interceptor(ctx, req, info, h)
}

// RegisterV1Server registers srv on s using the JSON-codec service
// descriptor above.
func RegisterV1Server(s *grpc.Server, srv V1Server) {
	s.RegisterService(&v1ServiceDesc, srv)
}

// v1Backend is the shape both handler.V1Adapter and handler.V1Direct
// satisfy, letting V1Service serve either without knowing which mode a
// deployment picked (spec §4.I "v1 Direct mode (when UDF dispatch is
// disabled)").
type v1Backend interface {
	GetValues(ctx context.Context, req handler.V1Request) (handler.V1Response, error)
}

// V1Service adapts a v1Backend to V1Server. Like V2Service it carries no
// encryption of its own.
type V1Service struct {
	backend v1Backend
}

// NewV1Service builds a V1Server that serves backend, which is either a
// *handler.V1Adapter (UDF dispatch enabled) or a *handler.V1Direct
// (v1-direct mode, spec §4.I).
func NewV1Service(backend v1Backend) *V1Service {
	return &V1Service{backend: backend}
}

func (s *V1Service) GetValues(ctx context.Context, req *handler.V1Request) (*handler.V1Response, error) {
	resp, err := s.backend.GetValues(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
