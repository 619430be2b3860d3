package rpc

import (
	"context"
	"testing"

	"github.com/dreamware/kvfabric/internal/cache"
	"github.com/dreamware/kvfabric/internal/handler"
	"github.com/dreamware/kvfabric/internal/lookup"
)

func TestV1ServiceDelegatesToDirectBackend(t *testing.T) {
	c := cache.New(4)
	c.UpdateScalar("k1", []byte(`"v1"`), 1)
	svc := NewV1Service(handler.NewV1Direct(lookup.NewLocal(c)))

	resp, err := svc.GetValues(context.Background(), &handler.V1Request{Keys: []string{"k1"}})
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if resp.Keys["k1"] != "v1" {
		t.Fatalf("expected keys.k1=v1, got %+v", resp.Keys)
	}
}

func TestV1GetValuesHandlerDecodesIntoRequest(t *testing.T) {
	var captured *handler.V1Request
	dec := func(v any) error {
		req := v.(*handler.V1Request)
		req.Keys = []string{"decoded"}
		captured = req
		return nil
	}
	stub := &stubV1Server{}
	if _, err := v1GetValuesHandler(stub, context.Background(), dec, nil); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if captured == nil || len(captured.Keys) != 1 || captured.Keys[0] != "decoded" {
		t.Fatalf("expected decode to populate a V1Request, got %+v", captured)
	}
	if !stub.called {
		t.Fatal("expected GetValues to be invoked")
	}
}

type stubV1Server struct {
	called bool
}

func (s *stubV1Server) GetValues(ctx context.Context, req *handler.V1Request) (*handler.V1Response, error) {
	s.called = true
	return &handler.V1Response{}, nil
}
