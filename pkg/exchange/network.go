package exchange

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/bunview/internal/metrics"
	"github.com/kartikbazzad/bunview/pkg/logger"
	"github.com/kartikbazzad/bunview/pkg/operation"
	"github.com/kartikbazzad/bunview/pkg/stream"
	"github.com/kartikbazzad/bunview/pkg/transport"
)

// NetworkOptions configures the network exchange.
type NetworkOptions struct {
	// Context bounds every call; cancelling it aborts all in-flight calls.
	Context context.Context
	// Pool runs the calls. Nil runs each call on its own goroutine.
	Pool   *ants.Pool
	Logger *slog.Logger
}

// Network executes operations over the transport. Each call lives until it
// completes or until a teardown for its key arrives, whichever comes first;
// a cancelled call emits nothing. Operations with a poll interval are
// re-issued on a timer, the latest call superseding earlier ones, and a
// newer polling operation for the same key stops the previous poller.
// Teardowns are forwarded.
func Network(doer transport.Doer, opts NetworkOptions) Exchange {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("network")
	}
	n := &network{doer: doer, opts: opts}

	return func(in Input) IO {
		return func(ops Operations) Results {
			shared := stream.Share(ops)
			requests := stream.Filter(shared, func(op *operation.Operation) bool { return !op.IsTeardown() })
			teardowns := stream.Filter(shared, func(op *operation.Operation) bool { return op.IsTeardown() })

			fetches := stream.MergeMap(requests, func(op *operation.Operation) Results {
				stop := stream.Filter(teardowns, sameKey(op.Key))
				if op.PollInterval <= 0 {
					return stream.TakeUntil(n.call(op), stop)
				}
				superseded := stream.Filter(requests, func(next *operation.Operation) bool {
					return next.Key == op.Key && next.PollInterval > 0
				})
				poll := stream.SwitchMap(stream.Interval(op.PollInterval), func(int) Results {
					return n.call(op)
				})
				return stream.TakeUntil(poll, stream.Merge(stop, superseded))
			})

			return stream.Merge(fetches, in.Forward(teardowns))
		}
	}
}

func sameKey(key string) func(*operation.Operation) bool {
	return func(op *operation.Operation) bool { return op.Key == key }
}

type network struct {
	doer transport.Doer
	opts NetworkOptions
}

// call performs one request when subscribed. Unsubscribing cancels it.
func (n *network) call(op *operation.Operation) Results {
	return func(o stream.Observer[operation.Result]) func() {
		ctx, cancel := context.WithCancel(logger.ContextWithRequestID(n.opts.Context, op.ID))
		var (
			mu       sync.Mutex
			finished bool
		)
		finish := func() bool {
			mu.Lock()
			defer mu.Unlock()
			if finished {
				return false
			}
			finished = true
			return true
		}

		log := logger.WithRequestID(ctx, n.opts.Logger)
		metrics.InflightCalls.Inc()
		start := time.Now()

		task := func() {
			defer metrics.InflightCalls.Dec()
			if ctx.Err() != nil {
				return
			}
			data, err := n.doer.Do(ctx, op.Request)
			if ctx.Err() != nil {
				// torn down or client closed; the result is discarded
				log.Debug("network call cancelled", "key", op.Key, "cancelled", errors.Is(err, context.Canceled))
				return
			}
			if !finish() {
				return
			}
			cancel()
			log.Debug("network call completed", "key", op.Key, "duration", time.Since(start), "error", err)
			if o.Next != nil {
				o.Next(operation.Result{Operation: op, Data: data, Error: err})
			}
			if o.Complete != nil {
				o.Complete()
			}
		}

		if n.opts.Pool != nil {
			// Submit blocks while the pool is full; the bus must keep moving
			// so teardowns can free workers.
			go func() {
				if err := n.opts.Pool.Submit(task); err != nil {
					metrics.InflightCalls.Dec()
					if ctx.Err() != nil {
						return
					}
					log.Error("network worker pool rejected call", "key", op.Key, "error", err)
					if finish() {
						cancel()
						if o.Next != nil {
							o.Next(operation.Result{Operation: op, Error: err})
						}
						if o.Complete != nil {
							o.Complete()
						}
					}
				}
			}()
		} else {
			go task()
		}

		return func() {
			if finish() {
				cancel()
			}
		}
	}
}
