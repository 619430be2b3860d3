package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dreamware/kvfabric/internal/handler"
)

// V2Client calls a peer's v2.KeyValueService.GetValues directly, for a
// deployment that wants to route external traffic straight to a specific
// shard's handler instead of through its own local one.
type V2Client struct {
	cc *grpc.ClientConn
}

// NewV2Client wraps an existing connection, e.g. one opened by Dial.
func NewV2Client(cc *grpc.ClientConn) *V2Client {
	return &V2Client{cc: cc}
}

func (c *V2Client) GetValues(ctx context.Context, req handler.GetValuesRequest) (handler.GetValuesResponse, error) {
	var reply handler.GetValuesResponse
	if err := c.cc.Invoke(ctx, "/v2.KeyValueService/GetValues", &req, &reply, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return handler.GetValuesResponse{}, err
	}
	return reply, nil
}
