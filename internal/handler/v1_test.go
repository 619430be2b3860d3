package handler

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/dreamware/kvfabric/internal/cache"
	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/lookup"
	"github.com/dreamware/kvfabric/internal/udf"
)

// identityPassthroughUDF resolves every "custom"-tagged argument's keys
// straight from c and echoes them back as a keyGroupOutputs document,
// standing in for "the UDF is the identity passthrough" (spec §8 P4).
func identityPassthroughUDF(c *cache.Cache) *fakeUDFClient {
	return &fakeUDFClient{execute: func(ctx context.Context, metadata map[string]string, arguments []udf.Argument) (string, error) {
		local := lookup.NewLocal(c)
		var groups []keyGroupOutput
		for _, arg := range arguments {
			if len(arg.Tags) != 2 || arg.Tags[0] != "custom" {
				continue
			}
			var keys []string
			if err := json.Unmarshal(arg.Data, &keys); err != nil {
				return "", err
			}
			values, err := local.GetKeyValues(ctx, keys)
			if err != nil {
				return "", err
			}
			kv := make(map[string]string, len(values))
			for k, v := range values {
				kv[k] = string(v.Value)
			}
			groups = append(groups, keyGroupOutput{KeyValues: kv, Tags: arg.Tags})
		}
		out, err := json.Marshal(keyGroupOutputs{KeyGroupOutputs: groups})
		return string(out), err
	}}
}

func TestV1AdapterProjectsKeyGroupOutputsByNamespace(t *testing.T) {
	c := cache.New(4)
	c.UpdateScalar("key1", []byte(`"value1"`), 1)

	adapter := NewV1Adapter(NewHandler(identityPassthroughUDF(c)))
	resp, err := adapter.GetValues(context.Background(), V1Request{Subkey: "example.com", Keys: []string{"key1"}})
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if resp.Keys["key1"] != "value1" {
		t.Fatalf("expected parsed JSON string value1, got %+v", resp.Keys)
	}
}

func TestV1AdapterKeepsUnparseableValuesRaw(t *testing.T) {
	c := cache.New(4)
	c.UpdateScalar("key1", []byte("not json"), 1)

	adapter := NewV1Adapter(NewHandler(identityPassthroughUDF(c)))
	resp, err := adapter.GetValues(context.Background(), V1Request{Keys: []string{"key1"}})
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if resp.Keys["key1"] != "not json" {
		t.Fatalf("expected raw string fallback, got %+v", resp.Keys)
	}
}

func TestV1DirectAndV1AdapterAgreeUnderIdentityUDF(t *testing.T) {
	c := cache.New(4)
	c.UpdateScalar("key1", []byte(`"value1"`), 1)
	c.UpdateScalar("key2", []byte("plain"), 1)

	req := V1Request{Subkey: "example.com", Keys: []string{"key1", "key2"}}

	direct := NewV1Direct(lookup.NewLocal(c))
	directResp, err := direct.GetValues(context.Background(), req)
	if err != nil {
		t.Fatalf("V1Direct.GetValues: %v", err)
	}

	adapter := NewV1Adapter(NewHandler(identityPassthroughUDF(c)))
	adapterResp, err := adapter.GetValues(context.Background(), req)
	if err != nil {
		t.Fatalf("V1Adapter.GetValues: %v", err)
	}

	if !reflect.DeepEqual(directResp.Keys, adapterResp.Keys) {
		t.Fatalf("expected v1-direct and v1-via-adapter to agree, got direct=%v adapter=%v", directResp.Keys, adapterResp.Keys)
	}
}

func TestV1DirectSplitsCompositeElements(t *testing.T) {
	c := cache.New(4)
	c.UpdateScalar("a", []byte("1"), 1)
	c.UpdateScalar("b", []byte("2"), 1)

	direct := NewV1Direct(lookup.NewLocal(c))
	resp, err := direct.GetValues(context.Background(), V1Request{Keys: []string{"a,b"}})
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if resp.Keys["a"] != float64(1) || resp.Keys["b"] != float64(2) {
		t.Fatalf("expected both composite elements resolved, got %v", resp.Keys)
	}
}

func TestV1AdapterPropagatesPartitionFailure(t *testing.T) {
	failing := &fakeUDFClient{execute: func(ctx context.Context, metadata map[string]string, arguments []udf.Argument) (string, error) {
		return "", errkind.InternalMsg("boom")
	}}
	adapter := NewV1Adapter(NewHandler(failing))
	if _, err := adapter.GetValues(context.Background(), V1Request{Keys: []string{"a"}}); err == nil {
		t.Fatal("expected UDF failure to surface as an error")
	}
}
