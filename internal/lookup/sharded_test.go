package lookup

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/dreamware/kvfabric/internal/cache"
	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/metrics"
	"github.com/dreamware/kvfabric/internal/shardmanager"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type staticInstanceClient struct {
	mapping map[int][]string
}

func (c *staticInstanceClient) FetchMapping(ctx context.Context) (map[int][]string, error) {
	return c.mapping, nil
}

func newTestShardManager(t *testing.T, numShards int) *shardmanager.ShardManager {
	t.Helper()
	mapping := make(map[int][]string, numShards)
	for i := 0; i < numShards; i++ {
		mapping[i] = []string{fmt.Sprintf("node-%d", i)}
	}
	sm, err := shardmanager.NewShardManager(context.Background(), numShards, &staticInstanceClient{mapping: mapping})
	if err != nil {
		t.Fatalf("NewShardManager: %v", err)
	}
	return sm
}

// keysByShard classifies candidates by the shard they route to, returning
// the first candidate found for each of the numShards buckets. Tests fail
// loudly if the candidate list doesn't cover every shard, rather than
// silently exercising fewer shards than intended.
func keysByShard(t *testing.T, sm *shardmanager.ShardManager, numShards int, candidates []string) map[int]string {
	t.Helper()
	found := make(map[int]string, numShards)
	for _, k := range candidates {
		shard := sm.ShardForKey(k)
		if _, ok := found[shard]; !ok {
			found[shard] = k
		}
	}
	if len(found) != numShards {
		t.Fatalf("candidate keys %v did not cover all %d shards, found %v", candidates, numShards, found)
	}
	return found
}

var manyCandidateKeys = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel",
	"india", "juliet", "kilo", "lima", "mike", "november", "oscar", "papa",
}

func TestShardedGetKeyValuesFansOutAcrossShards(t *testing.T) {
	sm := newTestShardManager(t, 2)
	keys := keysByShard(t, sm, 2, manyCandidateKeys)

	cache0 := cache.New(4)
	cache1 := cache.New(4)
	local0 := NewLocal(cache0)
	local1 := NewLocal(cache1)
	cache0.UpdateScalar(keys[0], []byte("v0"), 1)
	cache1.UpdateScalar(keys[1], []byte("v1"), 1)

	dial := func(addr string) (Lookup, error) {
		if addr == "node-1" {
			return local1, nil
		}
		return nil, fmt.Errorf("unexpected dial target %q", addr)
	}

	sharded := NewSharded(local0, sm, 0, dial)
	got, err := sharded.GetKeyValues(context.Background(), []string{keys[0], keys[1]})
	if err != nil {
		t.Fatalf("GetKeyValues: %v", err)
	}
	if string(got[keys[0]].Value) != "v0" {
		t.Fatalf("expected local shard's value, got %+v", got[keys[0]])
	}
	if string(got[keys[1]].Value) != "v1" {
		t.Fatalf("expected remote shard's value, got %+v", got[keys[1]])
	}
}

func TestShardedGetKeyValuesRecordsFanoutLatency(t *testing.T) {
	sm := newTestShardManager(t, 2)
	keys := keysByShard(t, sm, 2, manyCandidateKeys)

	cache0 := cache.New(4)
	cache1 := cache.New(4)
	local0 := NewLocal(cache0)
	local1 := NewLocal(cache1)
	cache1.UpdateScalar(keys[1], []byte("v1"), 1)

	dial := func(addr string) (Lookup, error) { return local1, nil }

	m := metrics.NewUnregistered()
	sharded := NewSharded(local0, sm, 0, dial).WithMetrics(m)
	if _, err := sharded.GetKeyValues(context.Background(), []string{keys[1]}); err != nil {
		t.Fatalf("GetKeyValues: %v", err)
	}
	hist, ok := m.ShardFanoutLatency.WithLabelValues("success").(prometheus.Histogram)
	if !ok {
		t.Fatalf("expected an Observer that also implements prometheus.Histogram")
	}
	var out dto.Metric
	if err := hist.Write(&out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out.Histogram.GetSampleCount() != 1 {
		t.Fatalf("expected 1 observation for outcome=success, got %d", out.Histogram.GetSampleCount())
	}
}

func TestShardedGetKeyValuesIsolatesPerShardFailure(t *testing.T) {
	sm := newTestShardManager(t, 2)
	keys := keysByShard(t, sm, 2, manyCandidateKeys)

	cache0 := cache.New(4)
	local0 := NewLocal(cache0)
	cache0.UpdateScalar(keys[0], []byte("v0"), 1)

	dial := func(addr string) (Lookup, error) {
		return nil, errkind.Unavailablef("dial %q: connection refused", addr)
	}

	sharded := NewSharded(local0, sm, 0, dial)
	got, err := sharded.GetKeyValues(context.Background(), []string{keys[0], keys[1]})
	if err != nil {
		t.Fatalf("GetKeyValues: %v", err)
	}
	if string(got[keys[0]].Value) != "v0" || got[keys[0]].Status != nil {
		t.Fatalf("expected local key to succeed unaffected, got %+v", got[keys[0]])
	}
	if got[keys[1]].Status == nil {
		t.Fatalf("expected remote key to carry a failure status, got %+v", got[keys[1]])
	}
}

func TestShardedGetKeyValueSetFansOutAcrossShards(t *testing.T) {
	sm := newTestShardManager(t, 2)
	keys := keysByShard(t, sm, 2, manyCandidateKeys)

	cache0 := cache.New(4)
	cache1 := cache.New(4)
	local0 := NewLocal(cache0)
	local1 := NewLocal(cache1)
	cache0.UpdateSet(keys[0], []string{"x"}, 1)
	cache1.UpdateSet(keys[1], []string{"y"}, 1)

	dial := func(addr string) (Lookup, error) {
		if addr == "node-1" {
			return local1, nil
		}
		return nil, fmt.Errorf("unexpected dial target %q", addr)
	}

	sharded := NewSharded(local0, sm, 0, dial)
	got, err := sharded.GetKeyValueSet(context.Background(), []string{keys[0], keys[1]})
	if err != nil {
		t.Fatalf("GetKeyValueSet: %v", err)
	}
	if !reflect.DeepEqual(got[keys[0]], []string{"x"}) || !reflect.DeepEqual(got[keys[1]], []string{"y"}) {
		t.Fatalf("expected both shards' sets, got %+v", got)
	}
}

func TestShardedRunQuerySingleShardDelegatesWholesale(t *testing.T) {
	sm := newTestShardManager(t, 2)
	keys := keysByShard(t, sm, 2, manyCandidateKeys)

	cache0 := cache.New(4)
	local0 := NewLocal(cache0)
	cache0.UpdateSet(keys[0], []string{"a", "b"}, 1)

	// A query with a single distinct leaf is always single-shard by
	// construction; the dial func below must never be invoked.
	sharded := NewSharded(local0, sm, 0, func(addr string) (Lookup, error) {
		return nil, fmt.Errorf("unexpected dial target %q", addr)
	})

	got, err := sharded.RunQuery(context.Background(), keys[0]+" | "+keys[0])
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", got)
	}
}

func TestShardedRunQueryCrossShardComposesLocally(t *testing.T) {
	sm := newTestShardManager(t, 2)
	keys := keysByShard(t, sm, 2, manyCandidateKeys)

	cache0 := cache.New(4)
	cache1 := cache.New(4)
	local0 := NewLocal(cache0)
	local1 := NewLocal(cache1)
	cache0.UpdateSet(keys[0], []string{"a", "b", "c"}, 1)
	cache1.UpdateSet(keys[1], []string{"b"}, 1)

	dial := func(addr string) (Lookup, error) {
		if addr == "node-1" {
			return local1, nil
		}
		return nil, fmt.Errorf("unexpected dial target %q", addr)
	}

	sharded := NewSharded(local0, sm, 0, dial)
	got, err := sharded.RunQuery(context.Background(), keys[0]+" - "+keys[1])
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("expected [a c], got %v", got)
	}
}
