package main

import (
	"context"
	"os"
	"strconv"

	"golang.org/x/exp/slices"

	"github.com/dreamware/kvfabric/internal/cluster"
	"github.com/dreamware/kvfabric/internal/logging"
)

// httpInstanceClient implements shardmanager.InstanceClient by fetching
// the fleet's current shard-to-replica mapping from an external instance
// discovery HTTP endpoint (spec §4.F "instance client", named as an
// out-of-scope external collaborator). The endpoint is expected to
// return a JSON array of cluster.NodeInfo, each ID holding the logical
// shard number it replicates as a string; several entries may share one
// ID to describe a multi-replica shard.
type httpInstanceClient struct {
	url string
}

func (c *httpInstanceClient) FetchMapping(ctx context.Context) (map[int][]string, error) {
	var nodes []cluster.NodeInfo
	if err := cluster.GetJSON(ctx, c.url, &nodes); err != nil {
		return nil, err
	}
	mapping := make(map[int][]string)
	for _, n := range nodes {
		shard, err := strconv.Atoi(n.ID)
		if err != nil {
			logging.Warningf("discovery: skipping node with non-numeric shard id %q", n.ID)
			continue
		}
		if slices.Contains(mapping[shard], n.Addr) {
			// discovery services occasionally report a flapping node twice
			// within one poll; keep replica lists free of duplicates.
			continue
		}
		mapping[shard] = append(mapping[shard], n.Addr)
	}
	return mapping, nil
}

// registerWithDiscovery announces this node to an external instance
// discovery service, if KVFABRIC_REGISTER_URL is configured.
// Registration is best-effort: a failure is logged, never fatal, since
// the discovery service may not exist in single-node local runs
// (matching torua's cmd/node/main.go register(), generalized from
// mandatory-with-retries to optional-best-effort since kvfabric's
// discovery collaborator is out of scope rather than a first-party
// coordinator process).
func registerWithDiscovery(ctx context.Context, nodeID, addr string) {
	url := os.Getenv("KVFABRIC_REGISTER_URL")
	if url == "" {
		return
	}
	req := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: nodeID, Addr: addr}}
	if err := cluster.PostJSON(ctx, url, req, nil); err != nil {
		logging.Warningf("register with discovery service failed: %v", err)
	}
}
