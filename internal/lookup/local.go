package lookup

import (
	"context"
	"sort"

	"github.com/dreamware/kvfabric/internal/cache"
	"github.com/dreamware/kvfabric/internal/metrics"
)

// Local adapts the in-process cache to the Lookup interface (spec §4.D
// "Local. Directly consults the cache.").
type Local struct {
	cache   *cache.Cache
	metrics *metrics.Metrics
}

// NewLocal wraps c as a Lookup.
func NewLocal(c *cache.Cache) *Local {
	return &Local{cache: c}
}

// WithMetrics attaches m so GetKeyValues records cache hit/miss counts.
// Nil is valid and disables recording, so tests need not set it.
func (l *Local) WithMetrics(m *metrics.Metrics) *Local {
	l.metrics = m
	return l
}

func (l *Local) GetKeyValues(ctx context.Context, keys []string) (map[string]ValueOrStatus, error) {
	values := l.cache.Get(keys)
	out := make(map[string]ValueOrStatus, len(values))
	for k, v := range values {
		out[k] = ValueOrStatus{Value: v}
	}
	if l.metrics != nil {
		hits := float64(len(values))
		l.metrics.CacheHits.Add(hits)
		l.metrics.CacheMisses.Add(float64(len(keys)) - hits)
	}
	return out, nil
}

func (l *Local) GetKeyValueSet(ctx context.Context, keys []string) (map[string][]string, error) {
	sets := l.cache.GetSets(keys)
	out := make(map[string][]string, len(sets))
	for k, s := range sets {
		list := make([]string, 0, len(s))
		for e := range s {
			list = append(list, e)
		}
		sort.Strings(list)
		out[k] = list
	}
	return out, nil
}

// RunQuery resolves each leaf against the cache's current set for that key
// (empty set if absent), evaluating left-to-right with standard precedence.
func (l *Local) RunQuery(ctx context.Context, query string) ([]string, error) {
	result, err := evaluateQuery(query, func(leaf string) (map[string]struct{}, error) {
		elements := l.cache.GetSetSlice(leaf)
		set := make(map[string]struct{}, len(elements))
		for _, e := range elements {
			set[e] = struct{}{}
		}
		return set, nil
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
