package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dreamware/kvfabric/internal/handler"
)

// V1Client invokes v1.KeyValueService.GetValues on a remote node.
type V1Client struct {
	cc *grpc.ClientConn
}

// NewV1Client wraps an existing connection, e.g. one opened by Dial.
func NewV1Client(cc *grpc.ClientConn) *V1Client {
	return &V1Client{cc: cc}
}

func (c *V1Client) GetValues(ctx context.Context, req handler.V1Request) (handler.V1Response, error) {
	var reply handler.V1Response
	if err := c.cc.Invoke(ctx, "/v1.KeyValueService/GetValues", &req, &reply, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return handler.V1Response{}, err
	}
	return reply, nil
}
