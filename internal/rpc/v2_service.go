package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dreamware/kvfabric/internal/handler"
)

// V2Server is the direct-gRPC GetValues surface (spec §6: "v2.GetValues:
// direct gRPC with partitioned request"), served alongside the internal
// Lookup service on the same node but reachable by external callers.
type V2Server interface {
	GetValues(ctx context.Context, req *handler.GetValuesRequest) (*handler.GetValuesResponse, error)
}

var v2ServiceDesc = grpc.ServiceDesc{
	ServiceName: "v2.KeyValueService",
	HandlerType: (*V2Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetValues", Handler: v2GetValuesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/handler",
}

func v2GetValuesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(handler.GetValuesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(V2Server).GetValues(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/v2.KeyValueService/GetValues"}
	h := func(ctx context.Context, req any) (any, error) {
		return srv.(V2Server).GetValues(ctx, req.(*handler.GetValuesRequest))
	}
	return interceptor(ctx, req, info, h)
}

// RegisterV2Server registers srv on s using the JSON-codec service
// descriptor above.
func RegisterV2Server(s *grpc.Server, srv V2Server) {
	s.RegisterService(&v2ServiceDesc, srv)
}

// V2Service adapts a handler.Handler to V2Server. Unlike LookupService it
// carries no encryption: v2.GetValues is the external-facing surface and
// is expected to sit behind whatever transport security the deployment
// terminates at (spec §6 draws the sealed-envelope requirement only
// around the internal shard-to-shard Lookup RPC).
type V2Service struct {
	handler *handler.Handler
}

// NewV2Service builds a V2Server that serves h.
func NewV2Service(h *handler.Handler) *V2Service {
	return &V2Service{handler: h}
}

func (s *V2Service) GetValues(ctx context.Context, req *handler.GetValuesRequest) (*handler.GetValuesResponse, error) {
	resp, err := s.handler.GetValues(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
