package lookup

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/dreamware/kvfabric/internal/cache"
	"github.com/dreamware/kvfabric/internal/crypto"
)

// loopbackWireClient dispatches directly against an in-process Lookup,
// standing in for internal/rpc's gRPC transport so Remote can be tested
// without a network.
type loopbackWireClient struct {
	target Lookup
	keys   crypto.KeyFetcherManager
}

func (w *loopbackWireClient) Call(ctx context.Context, req crypto.Envelope) (crypto.Envelope, error) {
	plaintext, err := crypto.Open(ctx, req, w.keys)
	if err != nil {
		return crypto.Envelope{}, err
	}
	var remoteReq RemoteRequest
	if err := json.Unmarshal(plaintext, &remoteReq); err != nil {
		return crypto.Envelope{}, err
	}
	resp := Dispatch(ctx, w.target, remoteReq)
	respPlaintext, err := json.Marshal(resp)
	if err != nil {
		return crypto.Envelope{}, err
	}
	return crypto.Seal(ctx, respPlaintext, remoteReq.CallerKeyID, w.keys)
}

func TestRemoteGetKeyValuesRoundTrip(t *testing.T) {
	peers := make(map[string][32]byte)
	serverKeys, err := crypto.NewFakeKeyFetcherManager("server", peers)
	if err != nil {
		t.Fatalf("NewFakeKeyFetcherManager(server): %v", err)
	}
	clientKeys, err := crypto.NewFakeKeyFetcherManager("client", peers)
	if err != nil {
		t.Fatalf("NewFakeKeyFetcherManager(client): %v", err)
	}

	c := cache.New(4)
	c.UpdateScalar("greeting", []byte("hello"), 1)
	server := NewLocal(c)

	wire := &loopbackWireClient{target: server, keys: serverKeys}
	remote := NewRemote("client", "server", clientKeys, wire)

	got, err := remote.GetKeyValues(context.Background(), []string{"greeting"})
	if err != nil {
		t.Fatalf("GetKeyValues: %v", err)
	}
	if string(got["greeting"].Value) != "hello" {
		t.Fatalf("expected round-tripped value, got %+v", got)
	}
}

func TestRemoteRunQueryRoundTrip(t *testing.T) {
	peers := make(map[string][32]byte)
	serverKeys, err := crypto.NewFakeKeyFetcherManager("server", peers)
	if err != nil {
		t.Fatalf("NewFakeKeyFetcherManager(server): %v", err)
	}
	clientKeys, err := crypto.NewFakeKeyFetcherManager("client", peers)
	if err != nil {
		t.Fatalf("NewFakeKeyFetcherManager(client): %v", err)
	}

	c := cache.New(4)
	c.UpdateSet("a", []string{"x", "y"}, 1)
	c.UpdateSet("b", []string{"y"}, 1)
	server := NewLocal(c)

	wire := &loopbackWireClient{target: server, keys: serverKeys}
	remote := NewRemote("client", "server", clientKeys, wire)

	got, err := remote.RunQuery(context.Background(), "a - b")
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("expected [x], got %v", got)
	}
}

func TestRemotePropagatesDownstreamErrorAsError(t *testing.T) {
	peers := make(map[string][32]byte)
	serverKeys, err := crypto.NewFakeKeyFetcherManager("server", peers)
	if err != nil {
		t.Fatalf("NewFakeKeyFetcherManager(server): %v", err)
	}
	clientKeys, err := crypto.NewFakeKeyFetcherManager("client", peers)
	if err != nil {
		t.Fatalf("NewFakeKeyFetcherManager(client): %v", err)
	}

	c := cache.New(4)
	server := NewLocal(c)
	wire := &loopbackWireClient{target: server, keys: serverKeys}
	remote := NewRemote("client", "server", clientKeys, wire)

	if _, err := remote.RunQuery(context.Background(), "a &"); err == nil {
		t.Fatal("expected malformed query to surface as an error")
	}
}
