package exchange

import (
	"log/slog"

	"github.com/kartikbazzad/bunview/pkg/logger"
	"github.com/kartikbazzad/bunview/pkg/operation"
	"github.com/kartikbazzad/bunview/pkg/stream"
)

// Debug logs every operation that reaches it and every result coming back
// from the rest of the chain. Placed first, it sees all bus traffic,
// including reads Dedupe drops.
func Debug(l *slog.Logger) Exchange {
	if l == nil {
		l = logger.For("debug")
	}
	return func(in Input) IO {
		return func(ops Operations) Results {
			logged := stream.Map(ops, func(op *operation.Operation) *operation.Operation {
				l.Debug("operation",
					"key", op.Key,
					"verb", string(op.Verb),
					"policy", string(op.NetworkPolicy),
					"id", op.ID,
				)
				return op
			})
			return stream.Map(in.Forward(logged), func(res operation.Result) operation.Result {
				l.Debug("result",
					"key", res.Key(),
					"stale", res.Stale,
					"cache_hit", res.CacheHit(),
					"error", res.Error,
				)
				return res
			})
		}
	}
}
