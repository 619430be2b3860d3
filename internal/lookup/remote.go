package lookup

import (
	"context"
	"encoding/json"

	"github.com/dreamware/kvfabric/internal/crypto"
	"github.com/dreamware/kvfabric/internal/errkind"
)

// WireClient sends one sealed envelope to a peer and returns its sealed
// reply. internal/rpc's gRPC client is the production implementation of
// internal.Lookup.GetValues(encrypted_payload) -> encrypted_payload (spec
// §6); tests substitute an in-process fake that calls Dispatch directly.
type WireClient interface {
	Call(ctx context.Context, req crypto.Envelope) (crypto.Envelope, error)
}

// Remote is a Lookup that forwards every call to a single peer over a
// sealed wire transport (spec §4.E "Remote. Delegates to a peer node over
// the wire, sealing the request and opening the response").
type Remote struct {
	localKeyID  string
	remoteKeyID string
	keys        crypto.KeyFetcherManager
	wire        WireClient
}

// NewRemote builds a Remote lookup that seals requests to remoteKeyID and
// identifies this caller as localKeyID so the peer knows which key to seal
// its response to.
func NewRemote(localKeyID, remoteKeyID string, keys crypto.KeyFetcherManager, wire WireClient) *Remote {
	return &Remote{localKeyID: localKeyID, remoteKeyID: remoteKeyID, keys: keys, wire: wire}
}

func (r *Remote) roundTrip(ctx context.Context, req RemoteRequest) (RemoteResponse, error) {
	req.CallerKeyID = r.localKeyID
	plaintext, err := json.Marshal(req)
	if err != nil {
		return RemoteResponse{}, errkind.Wrap(errkind.Internal, err, "marshal remote lookup request")
	}
	envelope, err := crypto.Seal(ctx, plaintext, r.remoteKeyID, r.keys)
	if err != nil {
		return RemoteResponse{}, err
	}
	replyEnvelope, err := r.wire.Call(ctx, envelope)
	if err != nil {
		return RemoteResponse{}, errkind.Wrap(errkind.Unavailable, err, "remote lookup call")
	}
	replyPlaintext, err := crypto.Open(ctx, replyEnvelope, r.keys)
	if err != nil {
		return RemoteResponse{}, err
	}
	var resp RemoteResponse
	if err := json.Unmarshal(replyPlaintext, &resp); err != nil {
		return RemoteResponse{}, errkind.Wrap(errkind.Internal, err, "unmarshal remote lookup response")
	}
	if resp.Error != "" {
		return RemoteResponse{}, errkind.Internalf("%s", resp.Error)
	}
	return resp, nil
}

func (r *Remote) GetKeyValues(ctx context.Context, keys []string) (map[string]ValueOrStatus, error) {
	resp, err := r.roundTrip(ctx, RemoteRequest{Op: OpGetKeyValues, Keys: keys})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (r *Remote) GetKeyValueSet(ctx context.Context, keys []string) (map[string][]string, error) {
	resp, err := r.roundTrip(ctx, RemoteRequest{Op: OpGetKeyValueSet, Keys: keys})
	if err != nil {
		return nil, err
	}
	return resp.Sets, nil
}

func (r *Remote) RunQuery(ctx context.Context, query string) ([]string, error) {
	resp, err := r.roundTrip(ctx, RemoteRequest{Op: OpRunQuery, Query: query})
	if err != nil {
		return nil, err
	}
	return resp.QueryResult, nil
}
