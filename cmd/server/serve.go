package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/dreamware/kvfabric/internal/blobstore"
	"github.com/dreamware/kvfabric/internal/cache"
	"github.com/dreamware/kvfabric/internal/config"
	"github.com/dreamware/kvfabric/internal/crypto"
	"github.com/dreamware/kvfabric/internal/errkind"
	"github.com/dreamware/kvfabric/internal/handler"
	"github.com/dreamware/kvfabric/internal/hooks"
	"github.com/dreamware/kvfabric/internal/ingest"
	"github.com/dreamware/kvfabric/internal/logging"
	"github.com/dreamware/kvfabric/internal/lookup"
	"github.com/dreamware/kvfabric/internal/metrics"
	"github.com/dreamware/kvfabric/internal/rpc"
	"github.com/dreamware/kvfabric/internal/shardmanager"
	"github.com/dreamware/kvfabric/internal/udf"
)

// cacheStripes is the number of internal/cache stripes to shard the key
// space across.
const cacheStripes = 64

var (
	blobRoot     string
	deltaDir     string
	shardMapJSON string
	shardMapFile string
	httpAddr     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the kvfabric serving process",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&blobRoot, "blob-root", "", "local filesystem root for the blob store (defaults to a temp dir)")
	serveCmd.Flags().StringVar(&deltaDir, "delta-prefix", "deltas/", "delta file prefix to poll within the blob store")
	serveCmd.Flags().StringVar(&shardMapJSON, "shard-map", "", "JSON shard-to-replica-address map, overriding KVFABRIC_SHARD_MAP")
	serveCmd.Flags().StringVar(&shardMapFile, "shard-map-file", "", "path to a YAML shard-to-replica-address bootstrap file, for local runs without an instance discovery service")
	serveCmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "address for the v2 GetValuesHttp/BinaryHttpGetValues/ObliviousGetValues surface; empty disables it")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	reg := prometheusRegistry()
	m := metrics.New(reg)

	c := cache.New(cacheStripes)

	if blobRoot == "" {
		blobRoot, err = os.MkdirTemp("", "kvfabric-blobs")
		if err != nil {
			return err
		}
	}
	store := blobstore.NewLocalFSClient(blobRoot)

	sandbox := &udf.FakeSandbox{}
	udfClient := udf.NewClient(sandbox, cfg.UDFTimeout).WithMetrics(m)

	registerWithDiscovery(context.Background(), cfg.ShardNum, cfg.ListenAddr)

	instanceClient, err := resolveInstanceClient(cfg)
	if err != nil {
		return err
	}
	sm, err := shardmanager.NewShardManager(context.Background(), cfg.NumShards, instanceClient)
	if err != nil {
		return err
	}

	local := lookup.NewLocal(c).WithMetrics(m)
	keys, err := crypto.NewFakeKeyFetcherManager(cfg.ListenAddr, nil)
	if err != nil {
		return err
	}
	dial := func(addr string) (lookup.Lookup, error) {
		cc, err := rpc.Dial(addr)
		if err != nil {
			return nil, err
		}
		return lookup.NewRemote(cfg.ListenAddr, addr, keys, rpc.NewLookupClient(cc)), nil
	}
	currentShard, err := strconv.Atoi(cfg.ShardNum)
	if err != nil {
		return errkind.Wrap(errkind.InvalidArgument, err, "parse shard_num")
	}
	sharded := lookup.NewSharded(local, sm, currentShard, dial).WithMetrics(m)

	h := hooks.New()
	h.FinishInit(sharded)

	loop := ingest.NewLoop(store, c, udfClient, sm, m, deltaDir, 10*time.Second, cfg.MinShardReadSize)
	loop.Start(context.Background())
	defer loop.Stop()

	gc := ingest.NewTombstoneGC(store, c, m, deltaDir, cfg.TombstoneRetention)
	gc.Start(context.Background())
	defer gc.Stop()

	v2Handler := handler.NewHandler(udfClient)
	var v1Backend interface {
		GetValues(ctx context.Context, req handler.V1Request) (handler.V1Response, error)
	}
	if cfg.DisableUDF {
		v1Backend = handler.NewV1Direct(sharded)
	} else {
		v1Backend = handler.NewV1Adapter(v2Handler)
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer()
	rpc.RegisterV2Server(grpcServer, rpc.NewV2Service(v2Handler))
	rpc.RegisterV1Server(grpcServer, rpc.NewV1Service(v1Backend))
	rpc.RegisterLookupServer(grpcServer, rpc.NewLookupService(sharded, keys))

	var httpServer *http.Server
	if httpAddr != "" {
		httpServer = &http.Server{Addr: httpAddr, Handler: handler.NewHTTPRouter(v2Handler, keys).Routes()}
	}

	serveErr := make(chan error, 2)
	go func() {
		logging.Infof("kvfabric listening on %s (shard %d of %d)", cfg.ListenAddr, currentShard, cfg.NumShards)
		serveErr <- grpcServer.Serve(lis)
	}()
	if httpServer != nil {
		go func() {
			logging.Infof("kvfabric v2 HTTP surface listening on %s", httpAddr)
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				serveErr <- err
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-stop:
	}

	logging.Infof("kvfabric shutting down")
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		grpcServer.Stop()
		if httpServer != nil {
			httpServer.Close()
		}
	}
	udfClient.Terminate()
	logging.Flush()
	return nil
}

func resolveInstanceClient(cfg config.Config) (shardmanager.InstanceClient, error) {
	if url := os.Getenv("KVFABRIC_INSTANCE_CLIENT_URL"); url != "" {
		return &httpInstanceClient{url: url}, nil
	}
	mapping, err := resolveShardMap(cfg)
	if err != nil {
		return nil, err
	}
	return &staticInstanceClient{mapping: mapping}, nil
}

func resolveShardMap(cfg config.Config) (map[int][]string, error) {
	if shardMapFile != "" {
		return parseShardMapFile(shardMapFile)
	}
	raw := shardMapJSON
	if raw == "" {
		raw = os.Getenv("KVFABRIC_SHARD_MAP")
	}
	if raw == "" {
		return singleNodeMapping(cfg.NumShards, cfg.ListenAddr), nil
	}
	return parseShardMap(raw)
}
