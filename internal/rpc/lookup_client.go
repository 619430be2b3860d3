package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dreamware/kvfabric/internal/crypto"
)

// LookupClient implements lookup.WireClient by invoking the internal.Lookup
// gRPC service directly (no protoc-generated stub), matching
// lookupGetValuesHandler's decoding on the server side.
type LookupClient struct {
	cc *grpc.ClientConn
}

// NewLookupClient wraps an existing connection, e.g. one opened by Dial.
func NewLookupClient(cc *grpc.ClientConn) *LookupClient {
	return &LookupClient{cc: cc}
}

func (c *LookupClient) Call(ctx context.Context, req crypto.Envelope) (crypto.Envelope, error) {
	var reply crypto.Envelope
	if err := c.cc.Invoke(ctx, "/internal.Lookup/GetValues", &req, &reply, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return crypto.Envelope{}, err
	}
	return reply, nil
}

// Dial opens a connection to a peer's internal Lookup service, defaulting
// every call on it to the JSON codec. Transport security is out of scope
// here (spec §1); callers running across an untrusted network are expected
// to supply their own grpc.WithTransportCredentials via opts.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	defaults := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	return grpc.NewClient(addr, append(defaults, opts...)...)
}
