// Package config resolves kvfabric's runtime configuration from environment
// variables and an external Parameter Store, generalizing torua's
// cmd/coordinator getenv(k, def) helper (which only ever read two ad-hoc
// strings) into a typed Config plus the ParameterStoreClient interface
// named as an external collaborator in spec §1/§6.
package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// ParameterStoreClient fetches named parameters from an external parameter
// store (AWS SSM, GCP Runtime Config, etc). The core only consumes this
// interface; provisioning a concrete client is out of scope per spec §1.
type ParameterStoreClient interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Config is the resolved runtime configuration for one serving process.
type Config struct {
	Environment string // spec §6 "environment"
	ShardNum    string // spec §6 "shard_num" — this node's logical shard identity, as a string
	ListenAddr  string
	NumShards   int
	UDFTimeout  time.Duration
	MinShardReadSize int64 // §4.A min_shard_size
	TombstoneRetention time.Duration
	DisableUDF  bool // enables v1-direct mode per §4.I
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load builds a Config from the process environment, applying the defaults
// named throughout the spec (1s UDF load timeout is not configurable and
// lives in internal/udf; the execute timeout below is the configurable
// "udf_timeout" of §4.G, default 1 minute).
func Load() (Config, error) {
	numShardsStr := getenv("KVFABRIC_NUM_SHARDS", "4")
	numShards, err := strconv.Atoi(numShardsStr)
	if err != nil || numShards <= 0 {
		return Config{}, errkind.InvalidArgumentf("invalid KVFABRIC_NUM_SHARDS %q", numShardsStr)
	}

	udfTimeout := time.Minute
	if raw := os.Getenv("KVFABRIC_UDF_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, errkind.InvalidArgumentf("invalid KVFABRIC_UDF_TIMEOUT %q: %v", raw, err)
		}
		udfTimeout = d
	}

	minShardSize := int64(4 << 20)
	if raw := os.Getenv("KVFABRIC_MIN_SHARD_READ_SIZE"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return Config{}, errkind.InvalidArgumentf("invalid KVFABRIC_MIN_SHARD_READ_SIZE %q", raw)
		}
		minShardSize = v
	}

	retention := 24 * time.Hour
	if raw := os.Getenv("KVFABRIC_TOMBSTONE_RETENTION"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, errkind.InvalidArgumentf("invalid KVFABRIC_TOMBSTONE_RETENTION %q: %v", raw, err)
		}
		retention = d
	}

	return Config{
		Environment:        getenv("environment", "local"),
		ShardNum:           getenv("shard_num", "0"),
		ListenAddr:         getenv("KVFABRIC_LISTEN_ADDR", ":50051"),
		NumShards:          numShards,
		UDFTimeout:         udfTimeout,
		MinShardReadSize:   minShardSize,
		TombstoneRetention: retention,
		DisableUDF:         getenv("KVFABRIC_DISABLE_UDF", "") != "",
	}, nil
}

// FakeParameterStore is an in-memory ParameterStoreClient for tests and
// single-node local runs.
type FakeParameterStore struct {
	Values map[string]string
}

func (f *FakeParameterStore) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := f.Values[name]
	if !ok {
		return "", errkind.NotFoundf("parameter %q not found", name)
	}
	return v, nil
}
