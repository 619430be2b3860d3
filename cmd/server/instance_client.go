package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// staticInstanceClient implements shardmanager.InstanceClient by returning
// a fixed mapping parsed once at startup, standing in for the real fleet
// discovery mechanism named as an external collaborator in spec §1/§4.F.
// Single-node runs fall back to a mapping where every logical shard is
// served by this process's own listen address, mirroring
// config.FakeParameterStore's role as the in-memory stand-in for
// single-node local runs.
type staticInstanceClient struct {
	mapping map[int][]string
}

func (c *staticInstanceClient) FetchMapping(ctx context.Context) (map[int][]string, error) {
	return c.mapping, nil
}

// parseShardMap decodes KVFABRIC_SHARD_MAP, a JSON object mapping each
// logical shard number to its replica address list, e.g.
// {"0": ["node-0:50051"], "1": ["node-1a:50051", "node-1b:50051"]}.
func parseShardMap(raw string) (map[int][]string, error) {
	var byString map[string][]string
	if err := json.Unmarshal([]byte(raw), &byString); err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err, "parse KVFABRIC_SHARD_MAP")
	}
	out := make(map[int][]string, len(byString))
	for k, v := range byString {
		var shard int
		if _, err := fmt.Sscanf(k, "%d", &shard); err != nil {
			return nil, errkind.InvalidArgumentf("invalid shard number %q in KVFABRIC_SHARD_MAP", k)
		}
		out[shard] = v
	}
	return out, nil
}

// parseShardMapFile decodes a YAML shard-to-replica bootstrap file, the
// hand-editable local-dev counterpart to KVFABRIC_SHARD_MAP's orchestrated
// JSON form:
//
//	shards:
//	  0: ["node-0:50051"]
//	  1: ["node-1a:50051", "node-1b:50051"]
func parseShardMapFile(path string) (map[int][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err, "read shard map file")
	}
	var doc struct {
		Shards map[int][]string `yaml:"shards"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err, "parse shard map file")
	}
	return doc.Shards, nil
}

func singleNodeMapping(numShards int, selfAddr string) map[int][]string {
	out := make(map[int][]string, numShards)
	for i := 0; i < numShards; i++ {
		out[i] = []string{selfAddr}
	}
	return out
}
