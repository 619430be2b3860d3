package handler

import (
	"context"
	"sync"

	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/udf"
)

// UDFClient is the subset of udf.Client the v2 Handler depends on.
type UDFClient interface {
	Execute(ctx context.Context, metadata map[string]string, arguments []udf.Argument) (string, error)
}

// Handler implements the v2 GetValues surface: one UDF invocation per
// partition, isolated so one partition's failure never affects another
// (spec §4.I "v2 Handler").
type Handler struct {
	udf UDFClient
}

// NewHandler builds a v2 Handler dispatching through client.
func NewHandler(client UDFClient) *Handler {
	return &Handler{udf: client}
}

// GetValues runs every partition's UDF invocation concurrently and
// assembles the response in request order.
func (h *Handler) GetValues(ctx context.Context, req GetValuesRequest) (GetValuesResponse, error) {
	if len(req.Partitions) == 0 {
		return GetValuesResponse{}, errkind.InternalMsg("response does not have single_partition")
	}

	outputs := make([]PartitionOutput, len(req.Partitions))
	var wg sync.WaitGroup
	for i, p := range req.Partitions {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			outputs[i] = h.runPartition(ctx, req.Metadata, p)
		}()
	}
	wg.Wait()

	if len(outputs) == 1 {
		return GetValuesResponse{SinglePartition: &outputs[0]}, nil
	}
	return GetValuesResponse{Partitions: outputs}, nil
}

func (h *Handler) runPartition(ctx context.Context, metadata map[string]string, p Partition) PartitionOutput {
	out, err := h.udf.Execute(ctx, metadata, p.Arguments)
	if err != nil {
		return PartitionOutput{
			ID: p.ID,
			Status: &Status{
				Code:    errkind.AsCode(errkind.Internal),
				Message: "UDF execution error",
			},
		}
	}
	return PartitionOutput{ID: p.ID, StringOutput: &out}
}
