// Package hooks implements the host hooks the UDF sandbox calls back into
// (spec §4.H): getValues, getValuesBinary, runQuery. They are registered
// with the sandbox before it forks worker processes but can only resolve
// requests once FinishInit supplies the Lookup dependency, since the
// Lookup's own goroutines/connections must be constructed after fork
// (spec §9 "Lazy init after fork").
package hooks

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/lookup"
)

// KVPairResult is one entry of a getValues response: either a resolved
// value or a per-key status explaining why it is missing.
type KVPairResult struct {
	Value  string           `json:"value,omitempty"`
	Status *lookup.KeyStatus `json:"status,omitempty"`
}

// GetValuesResponse is the JSON-mode shape of getValues/getValuesBinary
// (spec §4.H: `{"kvPairs": {...}, "status": {"code": 0, "message": "ok"}}`).
type GetValuesResponse struct {
	KVPairs map[string]KVPairResult `json:"kvPairs"`
	Status  lookup.KeyStatus        `json:"status"`
}

var statusOK = lookup.KeyStatus{Code: 0, Message: "ok"}

// Hooks holds the Lookup dependency once FinishInit runs. Hooks called
// before that return an Internal error with a fixed message (spec §4.H
// hook error policy).
type Hooks struct {
	mu     sync.RWMutex
	lookup lookup.Lookup
	ready  atomic.Bool
}

// New returns an uninitialized Hooks; FinishInit must be called once the
// sandbox has forked before any hook can serve a real request.
func New() *Hooks {
	return &Hooks{}
}

// FinishInit supplies the Lookup dependency, unblocking every hook. Safe
// to call at most once; a second call replaces the target.
func (h *Hooks) FinishInit(target lookup.Lookup) {
	h.mu.Lock()
	h.lookup = target
	h.mu.Unlock()
	h.ready.Store(true)
}

func (h *Hooks) target() (lookup.Lookup, error) {
	if !h.ready.Load() {
		return nil, errkind.InternalMsg("getValues has not been initialized yet")
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lookup, nil
}

// GetValues implements the string-mode getValues hook: a JSON document
// carrying either each key's value or a per-key status, never raising the
// underlying Lookup error to the caller.
func (h *Hooks) GetValues(ctx context.Context, keys []string) (GetValuesResponse, error) {
	target, err := h.target()
	if err != nil {
		return GetValuesResponse{}, err
	}

	values, err := target.GetKeyValues(ctx, keys)
	if err != nil {
		return GetValuesResponse{
			KVPairs: map[string]KVPairResult{},
			Status:  *statusFor(err),
		}, nil
	}

	pairs := make(map[string]KVPairResult, len(values))
	for k, v := range values {
		if v.Status != nil {
			pairs[k] = KVPairResult{Status: v.Status}
			continue
		}
		pairs[k] = KVPairResult{Value: string(v.Value)}
	}
	return GetValuesResponse{KVPairs: pairs, Status: statusOK}, nil
}

// GetValuesJSON runs GetValues and marshals the result, the wire form the
// string-mode hook actually returns to the sandbox.
func (h *Hooks) GetValuesJSON(ctx context.Context, keys []string) ([]byte, error) {
	resp, err := h.GetValues(ctx, keys)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

// GetValuesBinary implements the bytes-mode getValues/getValuesBinary
// hook: the same logical response, framed as a compact length-delimited
// binary encoding instead of JSON (spec §4.H "In bytes mode, it is a
// length-delimited binary BinaryGetValuesResponse with the same shape").
// No protoc/flatbuffers schema exists in the pack for this shape, so the
// framing is hand-rolled the way internal/delta frames its own records:
// the overall status, a count, then per-entry key/value-or-status fields,
// with every string prefixed by a uint32 length.
func (h *Hooks) GetValuesBinary(ctx context.Context, keys []string) ([]byte, error) {
	resp, err := h.GetValues(ctx, keys)
	if err != nil {
		return nil, err
	}
	return encodeBinaryGetValuesResponse(resp), nil
}

// RunQuery implements the runQuery hook, returning the matching set as a
// plain string list.
func (h *Hooks) RunQuery(ctx context.Context, query string) ([]string, error) {
	target, err := h.target()
	if err != nil {
		return nil, err
	}
	result, err := target.RunQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func statusFor(err error) *lookup.KeyStatus {
	return &lookup.KeyStatus{Code: errkind.AsCode(errkind.GetKind(err)), Message: err.Error()}
}

func putLengthPrefixed(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

// encodeBinaryGetValuesResponse serializes resp as:
//
//	status_code(4) | status_message_len(4) | status_message
//	num_pairs(4)
//	  per pair: key_len(4) | key | has_status(1) |
//	    (value_len(4) | value)  -- when has_status == 0
//	    (status_code(4) | status_message_len(4) | status_message) -- when has_status == 1
func encodeBinaryGetValuesResponse(resp GetValuesResponse) []byte {
	buf := make([]byte, 0, 64)
	var codeBuf [4]byte
	binary.BigEndian.PutUint32(codeBuf[:], uint32(resp.Status.Code))
	buf = append(buf, codeBuf[:]...)
	buf = putLengthPrefixed(buf, resp.Status.Message)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(resp.KVPairs)))
	buf = append(buf, countBuf[:]...)

	for k, v := range resp.KVPairs {
		buf = putLengthPrefixed(buf, k)
		if v.Status != nil {
			buf = append(buf, 1)
			var sc [4]byte
			binary.BigEndian.PutUint32(sc[:], uint32(v.Status.Code))
			buf = append(buf, sc[:]...)
			buf = putLengthPrefixed(buf, v.Status.Message)
			continue
		}
		buf = append(buf, 0)
		buf = putLengthPrefixed(buf, v.Value)
	}
	return buf
}
