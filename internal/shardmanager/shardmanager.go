// Package shardmanager owns the logical-shard-to-replica-set mapping that
// Sharded Lookup routes against (spec §4.F "Shard Manager"), adapted from
// torua's coordinator.ShardRegistry (consistent-hash key routing) and
// coordinator.HealthMonitor (periodic background refresh over a ticker).
//
// Cyclic shared state: the Cluster Mappings Manager holds a back-reference
// to the Shard Manager purely to push freshly fetched mappings into it: the
// Shard Manager owns the mapping snapshot and is the only thing Sharded
// Lookup ever reads from (spec §9 "Cyclic shared state").
package shardmanager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dreamware/kvfabric/internal/delta"
	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/logging"
)

// InstanceClient discovers the fleet's current shard-to-replica-address
// mapping. It is an external collaborator (spec §1 "out of scope": the
// discovery mechanism itself, not the contract).
type InstanceClient interface {
	FetchMapping(ctx context.Context) (map[int][]string, error)
}

// ShardManager holds the logical shard → replica-address-set mapping.
// Updates are applied via atomic copy-on-write pointer swap so readers on
// the serving path never block behind a refresh (spec §5 "Shared-resource
// policy").
type ShardManager struct {
	numShards int
	mapping   atomic.Pointer[map[int][]string]
}

// backoffInitial and backoffMax bound the retry loop NewShardManager runs
// while waiting for the instance client to produce a usable mapping.
const (
	backoffInitial = 100 * time.Millisecond
	backoffMax     = 30 * time.Second
)

// NewShardManager blocks, retrying with exponential backoff, until client
// returns a mapping with at least one replica for every logical shard in
// [0, numShards) (spec §4.F: "Shard Manager construction retries with
// exponential backoff until a valid mapping is obtained").
func NewShardManager(ctx context.Context, numShards int, client InstanceClient) (*ShardManager, error) {
	sm := &ShardManager{numShards: numShards}
	backoff := backoffInitial
	for {
		mapping, err := client.FetchMapping(ctx)
		if err == nil && validMapping(mapping, numShards) {
			sm.mapping.Store(&mapping)
			return sm, nil
		}
		if err != nil {
			logging.Warningf("shard manager: fetch mapping failed, retrying in %v: %v", backoff, err)
		} else {
			logging.Warningf("shard manager: mapping missing replicas for one or more shards, retrying in %v", backoff)
		}
		select {
		case <-ctx.Done():
			return nil, errkind.Wrap(errkind.Unavailable, ctx.Err(), "shard manager: no valid mapping before context cancellation")
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func validMapping(m map[int][]string, numShards int) bool {
	if len(m) < numShards {
		return false
	}
	for i := 0; i < numShards; i++ {
		if len(m[i]) == 0 {
			return false
		}
	}
	return true
}

// NumShards returns the fixed shard count this manager was constructed with.
func (sm *ShardManager) NumShards() int {
	return sm.numShards
}

// ShardForKey applies the fleet's consistent shard function s(k) = hash(k)
// mod num_shards (spec §4.F step 1).
func (sm *ShardManager) ShardForKey(key string) int {
	return int(xxhash.Sum64String(key) % uint64(sm.numShards))
}

// ReplicasFor returns a copy of the replica address set for a logical
// shard, or nil if the shard has no known replicas.
func (sm *ShardManager) ReplicasFor(shard int) []string {
	m := sm.mapping.Load()
	if m == nil {
		return nil
	}
	reps := (*m)[shard]
	out := make([]string, len(reps))
	copy(out, reps)
	return out
}

// applyMapping installs an entirely new mapping snapshot, used by the
// Cluster Mappings Manager after a successful refresh.
func (sm *ShardManager) applyMapping(m map[int][]string) {
	sm.mapping.Store(&m)
}

// ApplyShardMappingRecord folds one ingested ShardMapping delta record into
// the current snapshot, replacing only that logical shard's replica set
// (spec §3 "Shard mapping record" — ingestion is one of the two mapping
// sources, alongside the Cluster Mappings Manager's instance-client refresh).
func (sm *ShardManager) ApplyShardMappingRecord(rec delta.ShardMapping) {
	for {
		old := sm.mapping.Load()
		next := make(map[int][]string, len(*old)+1)
		if old != nil {
			for k, v := range *old {
				next[k] = v
			}
		}
		replicas := append([]string{rec.PhysicalShard}, rec.Replicas...)
		next[rec.LogicalShard] = replicas
		if sm.mapping.CompareAndSwap(old, &next) {
			return
		}
	}
}

// ClusterMappingsManager periodically refreshes a ShardManager's mapping
// from the instance client, grounded on torua's HealthMonitor ticker/
// Start/Stop lifecycle (coordinator/health_monitor.go).
type ClusterMappingsManager struct {
	shardManager *ShardManager
	client       InstanceClient
	interval     time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewClusterMappingsManager builds a manager that refreshes shardManager's
// mapping from client every interval once started.
func NewClusterMappingsManager(shardManager *ShardManager, client InstanceClient, interval time.Duration) *ClusterMappingsManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ClusterMappingsManager{
		shardManager: shardManager,
		client:       client,
		interval:     interval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start runs the refresh loop until ctx (or the manager's own Stop) is
// canceled. Intended to be run in its own goroutine.
func (m *ClusterMappingsManager) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.refresh(ctx)
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *ClusterMappingsManager) refresh(ctx context.Context) {
	mapping, err := m.client.FetchMapping(ctx)
	if err != nil {
		logging.Warningf("cluster mappings manager: refresh failed: %v", err)
		return
	}
	if !validMapping(mapping, m.shardManager.NumShards()) {
		logging.Warningf("cluster mappings manager: refreshed mapping missing replicas for one or more shards, ignoring")
		return
	}
	m.shardManager.applyMapping(mapping)
}

// Stop cancels the refresh loop and waits for it to exit.
func (m *ClusterMappingsManager) Stop() {
	m.cancel()
	m.wg.Wait()
}
