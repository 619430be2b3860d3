package delta

import (
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// ShardResult describes what one worker actually read while scanning its
// designated byte range (spec §4.A concurrent variant, properties P2/P3).
type ShardResult struct {
	// FirstRecordPos is the byte offset of the first record this worker
	// consumed (or, if it consumed none, the offset where it gave up
	// looking).
	FirstRecordPos int64
	// NextShardFirstRecordPos is the byte offset where this worker stopped:
	// the start of the first record at or after its range end, or where its
	// scan reached end of file. The read is gap-free only if it is at or
	// beyond the next worker's FirstRecordPos.
	NextShardFirstRecordPos int64
	NumRecordsRead          int64
}

// SeekerFactory opens an independent handle onto the same underlying delta
// file. ConcurrentReader calls it once per worker so that workers never
// share a single io.ReadSeeker's cursor.
type SeekerFactory func() (io.ReadSeeker, error)

// ConcurrentReader fans a single delta file out across up to numWorkers
// goroutines, each independently resynchronizing onto record boundaries
// within its designated byte range (spec §4.A: "a single delta file can be
// read concurrently by splitting it into contiguous byte-range shards").
type ConcurrentReader struct {
	Factory      SeekerFactory
	NumWorkers   int
	MinShardSize int64
	Recovery     RecoveryCallback
}

// Read splits [dataStart, fileSize) into contiguous byte ranges and reads
// every record across them concurrently, invoking callback for each in
// no particular cross-shard order. Callback must be safe for concurrent
// use. It returns an error if a shard stopped short of the next shard's
// first record (its NextShardFirstRecordPos is below the next shard's
// FirstRecordPos), naming the byte range that was skipped.
func (cr *ConcurrentReader) Read(fileSize int64, callback func(Record)) error {
	seed, err := cr.Factory()
	if err != nil {
		return errkind.Wrap(errkind.Internal, err, "open delta file")
	}
	if closer, ok := seed.(io.Closer); ok {
		defer closer.Close()
	}
	r := NewReader(seed)
	if _, err := r.Metadata(); err != nil {
		return err
	}
	dataStart := r.dataStart

	numWorkers := cr.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	minShardSize := cr.MinShardSize
	if minShardSize <= 0 {
		minShardSize = 1
	}
	totalData := fileSize - dataStart
	if totalData < 0 {
		totalData = 0
	}
	if maxShards := totalData / minShardSize; maxShards < int64(numWorkers) {
		if maxShards < 1 {
			maxShards = 1
		}
		numWorkers = int(maxShards)
	}

	boundaries := make([]int64, numWorkers+1)
	boundaries[0] = dataStart
	boundaries[numWorkers] = fileSize
	for i := 1; i < numWorkers; i++ {
		boundaries[i] = dataStart + (totalData*int64(i))/int64(numWorkers)
	}

	results := make([]ShardResult, numWorkers)
	var g errgroup.Group
	for i := 0; i < numWorkers; i++ {
		i := i
		g.Go(func() error {
			rs, err := cr.Factory()
			if err != nil {
				return errkind.Wrap(errkind.Internal, err, "open delta file for shard worker")
			}
			if closer, ok := rs.(io.Closer); ok {
				defer closer.Close()
			}
			isLast := i == numWorkers-1
			res, err := readShardRange(rs, boundaries[i], boundaries[i+1], isLast, callback, cr.Recovery)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := 0; i < numWorkers-1; i++ {
		if results[i].NextShardFirstRecordPos < results[i+1].FirstRecordPos {
			return errkind.Internalf("skipped records between byte %d and byte %d",
				results[i].NextShardFirstRecordPos, results[i+1].FirstRecordPos)
		}
	}
	return nil
}
