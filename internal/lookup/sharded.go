package lookup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/metrics"
	"github.com/dreamware/kvfabric/internal/shardmanager"
)

// Dialer opens a Lookup for a specific replica address, used to reach a
// non-local shard (spec §4.F step 3: "For every other non-empty bucket,
// issue one Remote request in parallel"). cmd/server's Dialer wraps
// internal/rpc's gRPC LookupClient in a Remote.
type Dialer func(replicaAddr string) (Lookup, error)

// Sharded routes a key set across the fleet's shards and merges the
// results (spec §4.F "Sharded Lookup"), matching torua's
// shard.Shard.OwnsKey ownership test generalized from a single node's
// static ID comparison to a routing decision over the whole mapping.
type Sharded struct {
	local        *Local
	shardManager *shardmanager.ShardManager
	currentShard int
	dial         Dialer
	metrics      *metrics.Metrics
}

// NewSharded builds a Sharded lookup for a node that owns currentShard.
func NewSharded(local *Local, shardManager *shardmanager.ShardManager, currentShard int, dial Dialer) *Sharded {
	return &Sharded{local: local, shardManager: shardManager, currentShard: currentShard, dial: dial}
}

// WithMetrics attaches m so every remote shard leg of a fan-out call
// records its latency, labeled by outcome. Nil is valid and disables
// recording.
func (s *Sharded) WithMetrics(m *metrics.Metrics) *Sharded {
	s.metrics = m
	return s
}

func (s *Sharded) dialShard(shard int) (Lookup, error) {
	replicas := s.shardManager.ReplicasFor(shard)
	if len(replicas) == 0 {
		return nil, errkind.Unavailablef("sharded lookup: no replicas known for shard %d", shard)
	}
	return s.dial(replicas[0])
}

// observeRemote records how long a single non-local shard leg took, if
// metrics are attached.
func (s *Sharded) observeRemote(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.ShardFanoutLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func (s *Sharded) bucketByShard(keys []string) map[int][]string {
	buckets := make(map[int][]string)
	for _, k := range keys {
		shard := s.shardManager.ShardForKey(k)
		buckets[shard] = append(buckets[shard], k)
	}
	return buckets
}

func statusFor(err error) *KeyStatus {
	return &KeyStatus{Code: errkind.AsCode(errkind.GetKind(err)), Message: err.Error()}
}

func (s *Sharded) GetKeyValues(ctx context.Context, keys []string) (map[string]ValueOrStatus, error) {
	buckets := s.bucketByShard(keys)
	result := make(map[string]ValueOrStatus, len(keys))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for shard, bucketKeys := range buckets {
		shard, bucketKeys := shard, bucketKeys
		run := func() (map[string]ValueOrStatus, error) {
			if shard == s.currentShard {
				return s.local.GetKeyValues(ctx, bucketKeys)
			}
			start := time.Now()
			remote, err := s.dialShard(shard)
			if err != nil {
				s.observeRemote(start, err)
				return nil, err
			}
			values, err := remote.GetKeyValues(ctx, bucketKeys)
			s.observeRemote(start, err)
			return values, err
		}
		if shard == s.currentShard {
			values, err := run()
			mergeValues(result, &mu, bucketKeys, values, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			values, err := run()
			mergeValues(result, &mu, bucketKeys, values, err)
		}()
	}
	wg.Wait()
	return result, nil
}

func mergeValues(result map[string]ValueOrStatus, mu *sync.Mutex, bucketKeys []string, values map[string]ValueOrStatus, err error) {
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		status := statusFor(err)
		for _, k := range bucketKeys {
			result[k] = ValueOrStatus{Status: status}
		}
		return
	}
	for k, v := range values {
		result[k] = v
	}
}

func (s *Sharded) GetKeyValueSet(ctx context.Context, keys []string) (map[string][]string, error) {
	buckets := s.bucketByShard(keys)
	result := make(map[string][]string, len(keys))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for shard, bucketKeys := range buckets {
		shard, bucketKeys := shard, bucketKeys
		run := func() (map[string][]string, error) {
			if shard == s.currentShard {
				return s.local.GetKeyValueSet(ctx, bucketKeys)
			}
			start := time.Now()
			remote, err := s.dialShard(shard)
			if err != nil {
				s.observeRemote(start, err)
				return nil, err
			}
			sets, err := remote.GetKeyValueSet(ctx, bucketKeys)
			s.observeRemote(start, err)
			return sets, err
		}
		if shard == s.currentShard {
			sets, err := run()
			mergeSets(result, &mu, sets, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sets, err := run()
			mergeSets(result, &mu, sets, err)
		}()
	}
	wg.Wait()
	return result, nil
}

func mergeSets(result map[string][]string, mu *sync.Mutex, sets map[string][]string, err error) {
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		// A per-shard failure on a set lookup surfaces as an omitted key
		// rather than a status, since get_key_value_set has no status slot
		// in its return shape (spec §4.D); callers see an empty set.
		return
	}
	for k, v := range sets {
		result[k] = v
	}
}

// RunQuery rewrites the query so that single-shard queries are delegated
// wholesale to their owning shard, and cross-shard queries are composed
// locally from each leaf's shard-fetched set (spec §4.F: "run_query on the
// sharded lookup MUST first rewrite leaves...").
func (s *Sharded) RunQuery(ctx context.Context, query string) ([]string, error) {
	leaves, err := queryLeaves(query)
	if err != nil {
		return nil, err
	}

	shardsUsed := make(map[int]struct{})
	for _, leaf := range leaves {
		shardsUsed[s.shardManager.ShardForKey(leaf)] = struct{}{}
	}

	if len(shardsUsed) <= 1 {
		var only int
		for sh := range shardsUsed {
			only = sh
		}
		if len(shardsUsed) == 0 || only == s.currentShard {
			return s.local.RunQuery(ctx, query)
		}
		remote, err := s.dialShard(only)
		if err != nil {
			return nil, errkind.Wrap(errkind.Unavailable, err, "dial shard for run_query")
		}
		return remote.RunQuery(ctx, query)
	}

	leafSets, err := s.fetchLeafSets(ctx, leaves)
	if err != nil {
		return nil, err
	}
	result, err := evaluateQuery(query, func(leaf string) (map[string]struct{}, error) {
		return leafSets[leaf], nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(result))
	for k := range result {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Sharded) fetchLeafSets(ctx context.Context, leaves []string) (map[string]map[string]struct{}, error) {
	leafSets := make(map[string]map[string]struct{}, len(leaves))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, leaf := range leaves {
		leaf := leaf
		wg.Add(1)
		go func() {
			defer wg.Done()
			shard := s.shardManager.ShardForKey(leaf)
			var elements []string
			var err error
			if shard == s.currentShard {
				var m map[string][]string
				m, err = s.local.GetKeyValueSet(ctx, []string{leaf})
				elements = m[leaf]
			} else {
				var remote Lookup
				remote, err = s.dialShard(shard)
				if err == nil {
					var m map[string][]string
					m, err = remote.GetKeyValueSet(ctx, []string{leaf})
					elements = m[leaf]
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			set := make(map[string]struct{}, len(elements))
			for _, e := range elements {
				set[e] = struct{}{}
			}
			leafSets[leaf] = set
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, errkind.Wrap(errkind.Unavailable, firstErr, "fetch leaf set for cross-shard run_query")
	}
	return leafSets, nil
}
