package rpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"github.com/dreamware/kvfabric/internal/crypto"
	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/lookup"
)

// LookupServer is the internal shard-to-shard Lookup gRPC service (spec §6:
// "internal.Lookup.GetValues(encrypted_payload) -> encrypted_payload").
type LookupServer interface {
	GetValues(ctx context.Context, req *crypto.Envelope) (*crypto.Envelope, error)
}

var lookupServiceDesc = grpc.ServiceDesc{
	ServiceName: "internal.Lookup",
	HandlerType: (*LookupServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetValues", Handler: lookupGetValuesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/lookup",
}

func lookupGetValuesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(crypto.Envelope)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).GetValues(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/internal.Lookup/GetValues"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LookupServer).GetValues(ctx, req.(*crypto.Envelope))
	}
	return interceptor(ctx, req, info, handler)
}

// RegisterLookupServer registers srv on s using the JSON-codec service
// descriptor above, in place of a protoc-generated _grpc.pb.go file.
func RegisterLookupServer(s *grpc.Server, srv LookupServer) {
	s.RegisterService(&lookupServiceDesc, srv)
}

// LookupService implements LookupServer over an in-process lookup.Lookup,
// decrypting the sealed request, dispatching it, and sealing the response
// back to the caller's key (spec §4.E "the server decrypts with its
// private half, runs Local (or Sharded on that node), encrypts the
// response to the caller's public key").
type LookupService struct {
	target lookup.Lookup
	keys   crypto.KeyFetcherManager
}

// NewLookupService builds a LookupServer that serves target, using keys to
// open inbound envelopes and seal outbound ones.
func NewLookupService(target lookup.Lookup, keys crypto.KeyFetcherManager) *LookupService {
	return &LookupService{target: target, keys: keys}
}

func (s *LookupService) GetValues(ctx context.Context, req *crypto.Envelope) (*crypto.Envelope, error) {
	plaintext, err := crypto.Open(ctx, *req, s.keys)
	if err != nil {
		return nil, err
	}
	var remoteReq lookup.RemoteRequest
	if err := json.Unmarshal(plaintext, &remoteReq); err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err, "unmarshal internal lookup request")
	}

	resp := lookup.Dispatch(ctx, s.target, remoteReq)

	respPlaintext, err := json.Marshal(resp)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "marshal internal lookup response")
	}
	respEnvelope, err := crypto.Seal(ctx, respPlaintext, remoteReq.CallerKeyID, s.keys)
	if err != nil {
		return nil, err
	}
	return &respEnvelope, nil
}
