// Package lookup implements the uniform Lookup capability (spec §4.D/§4.F/
// §4.E: "Replace class hierarchies with a single Lookup capability trait
// and three variants (Local, Sharded, Remote)"). It plays the role torua's
// internal/shard.Shard plays for a single node's storage, generalized to a
// capability three different transports (in-process, fan-out, gRPC) can
// all implement.
package lookup

import (
	"context"
	"fmt"
)

// KeyStatus is the per-key failure carried alongside a lookup result when
// the key's own shard could not be reached (spec §7 "lookup sub-failures
// are per-key and encoded in the response, never fatal").
type KeyStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ValueOrStatus is one entry of a get_key_values response: either the
// scalar value or a status explaining why it could not be retrieved.
// Absent keys (never written, or tombstoned) are omitted from the result
// map entirely rather than represented here.
type ValueOrStatus struct {
	Value  []byte     `json:"value,omitempty"`
	Status *KeyStatus `json:"status,omitempty"`
}

// Lookup is the capability every serving-path key resolver implements,
// whether it resolves against the local cache, fans out across shards, or
// calls a peer node over gRPC (spec §4.D "Uniform Lookup interface").
type Lookup interface {
	// GetKeyValues resolves scalar-typed keys. keys with no live value are
	// omitted from the result.
	GetKeyValues(ctx context.Context, keys []string) (map[string]ValueOrStatus, error)
	// GetKeyValueSet resolves set-typed keys.
	GetKeyValueSet(ctx context.Context, keys []string) (map[string][]string, error)
	// RunQuery evaluates a boolean set-algebra expression over set-typed
	// keys, returning the resulting set as a sorted slice.
	RunQuery(ctx context.Context, query string) ([]string, error)
}

// Wire operation names shared between Remote's client-side request
// builder and the internal shard-to-shard RPC server's dispatcher.
const (
	OpGetKeyValues   = "get_key_values"
	OpGetKeyValueSet = "get_key_value_set"
	OpRunQuery       = "run_query"
)

// RemoteRequest is the plaintext payload sealed into a Remote Lookup
// envelope (spec §4.E, §6 "internal.Lookup.GetValues(encrypted_payload) →
// encrypted_payload"). CallerKeyID tells the server which public key to
// seal the response to.
type RemoteRequest struct {
	Op          string   `json:"op"`
	Keys        []string `json:"keys,omitempty"`
	Query       string   `json:"query,omitempty"`
	CallerKeyID string   `json:"caller_key_id"`
}

// RemoteResponse is the plaintext payload sealed into a Remote Lookup
// response envelope.
type RemoteResponse struct {
	Values      map[string]ValueOrStatus `json:"values,omitempty"`
	Sets        map[string][]string      `json:"sets,omitempty"`
	QueryResult []string                 `json:"query_result,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// Dispatch executes req against target and captures any error as the
// response's Error field rather than propagating it, matching the
// transport-level contract: a Remote Lookup call itself only fails on
// transport/timeout/decrypt errors, never on a downstream lookup error
// (spec §7 "Only transport-level failures ... surface as RPC errors").
func Dispatch(ctx context.Context, target Lookup, req RemoteRequest) RemoteResponse {
	switch req.Op {
	case OpGetKeyValues:
		values, err := target.GetKeyValues(ctx, req.Keys)
		if err != nil {
			return RemoteResponse{Error: err.Error()}
		}
		return RemoteResponse{Values: values}
	case OpGetKeyValueSet:
		sets, err := target.GetKeyValueSet(ctx, req.Keys)
		if err != nil {
			return RemoteResponse{Error: err.Error()}
		}
		return RemoteResponse{Sets: sets}
	case OpRunQuery:
		result, err := target.RunQuery(ctx, req.Query)
		if err != nil {
			return RemoteResponse{Error: err.Error()}
		}
		return RemoteResponse{QueryResult: result}
	default:
		return RemoteResponse{Error: fmt.Sprintf("lookup: unknown op %q", req.Op)}
	}
}
