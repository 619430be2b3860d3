// Package handler implements the v2 Handler, v1 Adapter, and v1-direct
// serving paths (spec §4.I). It is the topmost layer of the serving
// stack: it owns the wire request/response shapes and decides, per
// request, whether to reach the UDF Client or the cache directly.
package handler

import (
	"github.com/dreamware/kvfabric/internal/udf"
)

// Argument is a v2 partition argument; kept as an alias of udf.Argument
// since the wire shape and the UDF Client's execution-time shape are the
// same struct (spec §3's partition argument, spec §4.G's projected
// argument).
type Argument = udf.Argument

// Partition is one logically independent sub-request in a v2 request
// (spec §3 "Partition request (v2)").
type Partition struct {
	ID                 string     `json:"id,omitempty"`
	CompressionGroupID string     `json:"compression_group_id,omitempty"`
	Arguments          []Argument `json:"arguments"`
}

// GetValuesRequest is the v2 partitioned request body.
type GetValuesRequest struct {
	Metadata   map[string]string `json:"metadata"`
	Partitions []Partition       `json:"partitions"`
}

// Status is an RPC-facing failure code/message pair.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PartitionOutput is one partition's result: exactly one of StringOutput
// or Status is set.
type PartitionOutput struct {
	ID           string  `json:"id,omitempty"`
	StringOutput *string `json:"string_output,omitempty"`
	Status       *Status `json:"status,omitempty"`
}

// GetValuesResponse mirrors the request's cardinality: a single-partition
// request populates SinglePartition, a multi-partition one populates
// Partitions in request order (spec §4.I).
type GetValuesResponse struct {
	SinglePartition *PartitionOutput  `json:"single_partition,omitempty"`
	Partitions      []PartitionOutput `json:"partitions,omitempty"`
}
