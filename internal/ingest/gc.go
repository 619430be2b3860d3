package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/kvfabric/internal/blobstore"
	"github.com/dreamware/kvfabric/internal/cache"
	"github.com/dreamware/kvfabric/internal/delta"
	"github.com/dreamware/kvfabric/internal/logging"
	"github.com/dreamware/kvfabric/internal/metrics"
)

// TombstoneGC periodically reclaims tombstones the cache no longer needs
// to retain (spec §5 supplemented feature "tombstone GC ticker"). The
// cutoff is the lowest MinLCT among delta files still present under
// prefix: any tombstone older than every in-flight file's floor can no
// longer be raced by a late-arriving Update replayed from those files.
type TombstoneGC struct {
	store   blobstore.BlobStorageClient
	cache   *cache.Cache
	metrics *metrics.Metrics

	prefix   string
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTombstoneGC builds a ticker that reclaims cache tombstones every
// interval. metrics may be nil to disable the reclaim counter.
func NewTombstoneGC(store blobstore.BlobStorageClient, c *cache.Cache, m *metrics.Metrics, prefix string, interval time.Duration) *TombstoneGC {
	return &TombstoneGC{
		store:    store,
		cache:    c,
		metrics:  m,
		prefix:   prefix,
		interval: interval,
	}
}

// Start runs an initial sweep synchronously, then continues on interval
// until ctx is done or Stop is called.
func (g *TombstoneGC) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		g.sweepOnce(ctx)

		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.sweepOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the ticker and waits for it to exit.
func (g *TombstoneGC) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

func (g *TombstoneGC) sweepOnce(ctx context.Context) {
	cutoff, ok := g.floor(ctx)
	if !ok {
		return
	}
	removed := g.cache.RemoveTombstonesBelow(cutoff)
	if removed > 0 && g.metrics != nil {
		g.metrics.TombstonesReclaimed.Add(float64(removed))
	}
}

// floor returns the lowest MinLCT among every delta file currently listed
// under prefix. ok is false when no file could be read, in which case a
// sweep would have no safe cutoff to GC against.
func (g *TombstoneGC) floor(ctx context.Context) (int64, bool) {
	paths, err := g.store.List(ctx, g.prefix)
	if err != nil {
		logging.Warningf("ingest: gc list %q failed: %v", g.prefix, err)
		return 0, false
	}

	var floor int64
	found := false
	for _, path := range paths {
		meta, err := g.readMetadata(ctx, path)
		if err != nil {
			logging.Warningf("ingest: gc read %s failed: %v", path, err)
			continue
		}
		if !found || meta.MinLCT < floor {
			floor = meta.MinLCT
			found = true
		}
	}
	return floor, found
}

func (g *TombstoneGC) readMetadata(ctx context.Context, path string) (delta.FileMetadata, error) {
	rc, err := g.store.GetReader(ctx, path)
	if err != nil {
		return delta.FileMetadata{}, err
	}
	defer rc.Close()

	seekable, err := readAllSeekable(rc)
	if err != nil {
		return delta.FileMetadata{}, err
	}
	return delta.NewReader(seekable).Metadata()
}
