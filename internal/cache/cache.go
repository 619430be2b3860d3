// Package cache implements kvfabric's in-memory key-value cache: a
// concurrent map keyed by logical commit time (LCT) rather than wall clock
// or arrival order (spec §3, §4.C). It generalizes torua's
// internal/storage.MemoryStore — a single global RWMutex guarding a
// map[string][]byte — into an N-way striped map (grounded on
// cockroachdb-pebble's cache/clockpro.go sharding, which stripes its block
// cache by key hash to let readers never block each other across stripes)
// that additionally tracks per-key LCT, tombstones, and both scalar and
// set-typed values.
package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/dreamware/kvfabric/internal/logging"
)

// defaultStripes is the default stripe count. Sized well above typical
// GOMAXPROCS so contention on any one stripe stays low under fan-out.
const defaultStripes = 256

// entry is the per-key record. A tombstoned entry retains only lct: its
// payload is dropped per spec §3 ("a Delete... drops the value payload").
type entry struct {
	set        map[string]struct{}
	scalar     []byte
	lct        int64
	isSet      bool
	tombstoned bool
}

type stripe struct {
	data map[string]*entry
	mu   sync.RWMutex
}

// Cache is a concurrent key-value store with logical-timestamp write
// semantics. Readers never block each other across different keys; a
// writer only serializes with readers touching the same stripe (spec §5,
// "Shared-resource policy: the Cache... uses striped fine-grained locking").
//
// No method on Cache returns an error: malformed inputs are the producer's
// responsibility per spec §4.C "Failure semantics".
type Cache struct {
	stripes []*stripe
	n       uint64
}

// New creates a Cache with the given stripe count. A count of 0 selects the
// default.
func New(numStripes int) *Cache {
	if numStripes <= 0 {
		numStripes = defaultStripes
	}
	c := &Cache{stripes: make([]*stripe, numStripes), n: uint64(numStripes)}
	for i := range c.stripes {
		c.stripes[i] = &stripe{data: make(map[string]*entry)}
	}
	return c
}

func (c *Cache) stripeFor(key string) *stripe {
	h := xxhash.Sum64String(key)
	return c.stripes[h%c.n]
}

// UpdateScalar applies a scalar Update mutation (spec §3 Mutation record,
// I1/I2). No-op if lct does not strictly exceed the key's stored LCT.
func (c *Cache) UpdateScalar(key string, value []byte, lct int64) {
	s := c.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if ok && lct <= e.lct {
		return
	}
	if ok && !e.tombstoned && e.isSet {
		logging.Warningf("cache: key %q switched from set to scalar at lct %d without an intervening delete", key, lct)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = &entry{lct: lct, scalar: stored, isSet: false, tombstoned: false}
}

// UpdateSet applies a set Update mutation, replacing the entire set
// contents (spec I3: element-level deletion is expressed as an Update
// supplying the new set, never as a partial Delete).
func (c *Cache) UpdateSet(key string, elements []string, lct int64) {
	s := c.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if ok && lct <= e.lct {
		return
	}
	if ok && !e.tombstoned && !e.isSet {
		logging.Warningf("cache: key %q switched from scalar to set at lct %d without an intervening delete", key, lct)
	}
	set := make(map[string]struct{}, len(elements))
	for _, el := range elements {
		set[el] = struct{}{}
	}
	s.data[key] = &entry{lct: lct, set: set, isSet: true, tombstoned: false}
}

// Delete applies a Delete mutation, storing a tombstone at lct (spec I4).
// No-op if lct does not strictly exceed the key's stored LCT.
func (c *Cache) Delete(key string, lct int64) {
	s := c.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if ok && lct <= e.lct {
		return
	}
	s.data[key] = &entry{lct: lct, tombstoned: true}
}

// Get resolves scalar values for the given keys. Tombstoned or absent keys
// are omitted from the result, per spec §4.C.
func (c *Cache) Get(keys []string) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		s := c.stripeFor(k)
		s.mu.RLock()
		e, ok := s.data[k]
		if ok && !e.tombstoned && !e.isSet {
			v := make([]byte, len(e.scalar))
			copy(v, e.scalar)
			out[k] = v
		}
		s.mu.RUnlock()
	}
	return out
}

// GetSets resolves set values for the given keys. Tombstoned, absent, or
// scalar-typed keys are omitted.
func (c *Cache) GetSets(keys []string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(keys))
	for _, k := range keys {
		s := c.stripeFor(k)
		s.mu.RLock()
		e, ok := s.data[k]
		if ok && !e.tombstoned && e.isSet {
			cp := make(map[string]struct{}, len(e.set))
			for el := range e.set {
				cp[el] = struct{}{}
			}
			out[k] = cp
		}
		s.mu.RUnlock()
	}
	return out
}

// GetSetSlice is a convenience wrapper returning a set's members as a slice,
// used by the Lookup layer's run_query evaluator.
func (c *Cache) GetSetSlice(key string) []string {
	sets := c.GetSets([]string{key})
	set, ok := sets[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for el := range set {
		out = append(out, el)
	}
	return out
}

// RemoveTombstonesBelow garbage-collects tombstones whose deletion LCT is
// strictly below cutoff, returning the number removed. Live (non-tombstone)
// entries are never touched. This is the only operation that permanently
// forgets a key's LCT, so callers must be sure cutoff is at or below the
// lowest LCT any producer could still legitimately replay (spec §3
// "Ownership & lifecycle").
func (c *Cache) RemoveTombstonesBelow(cutoff int64) int {
	removed := 0
	for _, s := range c.stripes {
		s.mu.Lock()
		for k, e := range s.data {
			if e.tombstoned && e.lct < cutoff {
				delete(s.data, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len reports the number of keys currently tracked, including tombstones.
// Intended for tests and metrics, not the request path.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.stripes {
		s.mu.RLock()
		n += len(s.data)
		s.mu.RUnlock()
	}
	return n
}
