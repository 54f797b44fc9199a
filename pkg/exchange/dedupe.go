package exchange

import (
	"sync"

	"github.com/kartikbazzad/bunview/internal/metrics"
	"github.com/kartikbazzad/bunview/pkg/operation"
	"github.com/kartikbazzad/bunview/pkg/stream"
)

// Dedupe drops a network-and-cache read whose key already has one in
// flight; the caller receives the in-flight call's result through the shared
// result stream. Any result or teardown for a key clears it. Writes and
// network-only reads always pass, so a read-back or forced refresh is never
// answered by a call issued before it. Operations that never reach the
// network (cache-only, optimistic) pass without being tracked.
func Dedupe() Exchange {
	return func(in Input) IO {
		var (
			mu      sync.Mutex
			ongoing = make(map[string]struct{})
		)
		settle := func(key string) {
			mu.Lock()
			delete(ongoing, key)
			mu.Unlock()
		}

		return func(ops Operations) Results {
			filtered := stream.Share(stream.Filter(ops, func(op *operation.Operation) bool {
				if op.IsTeardown() {
					settle(op.Key)
					return true
				}
				if !op.Verb.IsRead() || op.NetworkPolicy != operation.NetworkAndCache || op.OptimisticResponse != nil {
					return true
				}
				mu.Lock()
				defer mu.Unlock()
				if _, inFlight := ongoing[op.Key]; inFlight {
					metrics.DedupeDropped.Inc()
					return false
				}
				ongoing[op.Key] = struct{}{}
				return true
			}))

			return stream.Map(in.Forward(filtered), func(res operation.Result) operation.Result {
				settle(res.Key())
				return res
			})
		}
	}
}
