package exchange

import (
	"maps"
	"sync"

	"github.com/kartikbazzad/bunview/internal/metrics"
	"github.com/kartikbazzad/bunview/pkg/operation"
	"github.com/kartikbazzad/bunview/pkg/stream"
)

// ResultCache holds the last known data per operation key. Entries live as
// long as the client; nothing evicts them.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewResultCache creates an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[string]any)}
}

// Get returns the cached data for key.
func (c *ResultCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Has reports whether key is cached.
func (c *ResultCache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores data for key.
func (c *ResultCache) Set(key string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
}

// Len returns the number of cached keys.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func shouldCache(op *operation.Operation) bool {
	return op.Verb.IsRead() && op.NetworkPolicy != operation.NetworkOnly
}

type routed struct {
	op      *operation.Operation
	answer  bool
	forward bool
	cached  any
	hit     bool
}

// Cache answers operations from the result cache and records network
// results into it. Pass nil to let the exchange own a fresh cache.
//
//   - cache hit or optimistic response: answered inline, with the optimistic
//     fields shallow-merged over the cached data; network-and-cache also
//     re-dispatches a network-only copy to refresh in the background.
//   - cache-only miss: answered inline with no data.
//   - everything else is forwarded; successful reads are cached on the way back.
func Cache(cache *ResultCache) Exchange {
	if cache == nil {
		cache = NewResultCache()
	}
	return func(in Input) IO {
		return func(ops Operations) Results {
			// The routing decision is taken once per operation and shared by
			// both branches.
			decisions := stream.Share(stream.Map(ops, func(op *operation.Operation) routed {
				return route(cache, op)
			}))

			answered := stream.Map(
				stream.Filter(decisions, func(r routed) bool { return r.answer }),
				func(r routed) operation.Result {
					return answer(in.Client, r)
				},
			)

			forwardedOps := stream.Map(
				stream.Filter(decisions, func(r routed) bool { return r.forward }),
				func(r routed) *operation.Operation { return r.op },
			)

			forwarded := stream.Map(in.Forward(forwardedOps), func(res operation.Result) operation.Result {
				op := res.Operation
				if op == nil || op.IsTeardown() {
					return res
				}
				if res.Error == nil && res.Data != nil && op.Verb.IsRead() {
					cache.Set(op.Key, res.Data)
					metrics.CacheResults.WithLabelValues("write").Inc()
				}
				op.Meta.Set(operation.MetaCacheHit, false)
				return res
			})

			return stream.Merge(answered, forwarded)
		}
	}
}

func route(cache *ResultCache, op *operation.Operation) routed {
	if op.IsTeardown() {
		return routed{op: op, forward: true}
	}
	var (
		cached any
		hit    bool
	)
	if shouldCache(op) {
		cached, hit = cache.Get(op.Key)
	}
	optimistic := op.OptimisticResponse != nil

	switch {
	case hit || optimistic:
		metrics.CacheResults.WithLabelValues(outcome(hit, optimistic)).Inc()
		return routed{
			op:     op,
			answer: true,
			// network-only with an optimistic response still goes out directly;
			// network-and-cache refreshes through the bus instead.
			forward: op.NetworkPolicy == operation.NetworkOnly,
			cached:  cached,
			hit:     hit,
		}
	case op.NetworkPolicy == operation.CacheOnly:
		metrics.CacheResults.WithLabelValues("miss").Inc()
		return routed{op: op, answer: true}
	default:
		if shouldCache(op) {
			metrics.CacheResults.WithLabelValues("miss").Inc()
		}
		return routed{op: op, forward: true}
	}
}

func outcome(hit, optimistic bool) string {
	if optimistic {
		return "optimistic"
	}
	if hit {
		return "hit"
	}
	return "miss"
}

func answer(client Dispatcher, r routed) operation.Result {
	op := r.op
	optimistic := op.OptimisticResponse != nil

	if !r.hit && !optimistic {
		op.Meta.Set(operation.MetaCacheHit, false)
		op.Meta.Set(operation.MetaOptimistic, false)
		return operation.Result{Operation: op}
	}

	data := merge(r.cached, op.OptimisticResponse)
	op.Meta.Set(operation.MetaCacheHit, true)
	op.Meta.Set(operation.MetaOptimistic, optimistic)

	refresh := op.NetworkPolicy == operation.NetworkAndCache
	if refresh && client != nil {
		client.Reexecute(op.Refresh())
	}
	return operation.Result{Operation: op, Data: data, Stale: refresh}
}

// merge overlays patch on a shallow copy of base. Nested values are not
// merged; a patched key replaces the cached value wholesale.
func merge(base any, patch operation.Row) any {
	if patch == nil {
		if row, ok := base.(map[string]any); ok {
			return maps.Clone(row)
		}
		return base
	}
	out := make(map[string]any, len(patch))
	if row, ok := base.(map[string]any); ok {
		maps.Copy(out, row)
	}
	maps.Copy(out, patch)
	return out
}
