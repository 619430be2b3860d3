package hooks

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/dreamware/kvfabric/internal/cache"
	"github.com/dreamware/kvfabric/internal/lookup"
)

func TestHooksBeforeFinishInitReturnExactError(t *testing.T) {
	h := New()
	if _, err := h.GetValues(context.Background(), []string{"a"}); err == nil || err.Error() != "getValues has not been initialized yet" {
		t.Fatalf("expected exact pre-init error, got %v", err)
	}
	if _, err := h.RunQuery(context.Background(), "a"); err == nil || err.Error() != "getValues has not been initialized yet" {
		t.Fatalf("expected exact pre-init error, got %v", err)
	}
}

func TestGetValuesJSONShape(t *testing.T) {
	c := cache.New(4)
	c.UpdateScalar("a", []byte("1"), 1)
	h := New()
	h.FinishInit(lookup.NewLocal(c))

	resp, err := h.GetValues(context.Background(), []string{"a", "missing"})
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if resp.Status.Code != 0 || resp.Status.Message != "ok" {
		t.Fatalf("expected ok status, got %+v", resp.Status)
	}
	if resp.KVPairs["a"].Value != "1" {
		t.Fatalf("expected value 1, got %+v", resp.KVPairs["a"])
	}
	if _, ok := resp.KVPairs["missing"]; ok {
		t.Fatalf("expected missing key omitted, got %+v", resp.KVPairs["missing"])
	}
}

func TestGetValuesJSONMarshalsSuccessfully(t *testing.T) {
	c := cache.New(4)
	c.UpdateScalar("a", []byte("1"), 1)
	h := New()
	h.FinishInit(lookup.NewLocal(c))

	raw, err := h.GetValuesJSON(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("GetValuesJSON: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty JSON payload")
	}
}

func TestGetValuesBinaryRoundTripsCounts(t *testing.T) {
	c := cache.New(4)
	c.UpdateScalar("a", []byte("hello"), 1)
	h := New()
	h.FinishInit(lookup.NewLocal(c))

	raw, err := h.GetValuesBinary(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("GetValuesBinary: %v", err)
	}
	if len(raw) < 12 {
		t.Fatalf("expected at least a status + count header, got %d bytes", len(raw))
	}
	statusCode := binary.BigEndian.Uint32(raw[0:4])
	if statusCode != 0 {
		t.Fatalf("expected status code 0, got %d", statusCode)
	}
	msgLen := binary.BigEndian.Uint32(raw[4:8])
	offset := 8 + int(msgLen)
	numPairs := binary.BigEndian.Uint32(raw[offset : offset+4])
	if numPairs != 1 {
		t.Fatalf("expected 1 pair, got %d", numPairs)
	}
}

func TestRunQueryResolvesSets(t *testing.T) {
	c := cache.New(4)
	c.UpdateSet("a", []string{"x", "y"}, 1)
	c.UpdateSet("b", []string{"y"}, 1)
	h := New()
	h.FinishInit(lookup.NewLocal(c))

	got, err := h.RunQuery(context.Background(), "a - b")
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected [x], got %v", got)
	}
}
