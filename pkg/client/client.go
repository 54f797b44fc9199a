// Package client turns row and action intents against named views into
// operations, runs them through the exchange chain and hands results back
// to subscribers.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/bunview/internal/metrics"
	"github.com/kartikbazzad/bunview/pkg/auth"
	"github.com/kartikbazzad/bunview/pkg/exchange"
	"github.com/kartikbazzad/bunview/pkg/logger"
	"github.com/kartikbazzad/bunview/pkg/operation"
	"github.com/kartikbazzad/bunview/pkg/schema"
	"github.com/kartikbazzad/bunview/pkg/stream"
	"github.com/kartikbazzad/bunview/pkg/transport"
)

// serviceTokenSkew is how early a minted service token is replaced.
const serviceTokenSkew = time.Minute

// Client owns the operation bus, the composed exchange chain and the
// registry of active operations. Clients share nothing with each other.
type Client struct {
	policy    operation.NetworkPolicy
	transport transport.Doer
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	pool   *ants.Pool

	bus     *stream.Subject[*operation.Operation]
	results *stream.Subject[operation.Result]
	stop    func()

	closeOnce sync.Once

	mu          sync.Mutex
	active      map[string]int
	queue       []*operation.Operation
	dispatching bool

	views *Views
}

// New creates a client and wires its exchange chain.
func New(cfg Config, opts ...Option) (*Client, error) {
	policy, ok := operation.ParseNetworkPolicy(cfg.DefaultNetworkPolicy)
	if !ok {
		return nil, fmt.Errorf("invalid default network policy %q", cfg.DefaultNetworkPolicy)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.For("client")
	}

	defs := make([]schema.Definition, 0, len(cfg.Views))
	for _, vc := range cfg.Views {
		def, err := schema.FromConfig(vc)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		policy:  policy,
		logger:  o.logger,
		ctx:     ctx,
		cancel:  cancel,
		bus:     stream.NewSubject[*operation.Operation](),
		results: stream.NewSubject[operation.Result](),
		active:  make(map[string]int),
	}

	c.transport = o.doer
	if c.transport == nil {
		getter := o.tokenGetter
		switch {
		case getter != nil:
		case cfg.Token != "":
			getter = auth.Static(cfg.Token)
		case cfg.ServiceSecret != "":
			signer := auth.Signer{Secret: []byte(cfg.ServiceSecret), Role: "service"}
			getter = signer.Source(cfg.ServiceSubject, serviceTokenSkew).Getter()
		}
		topts := []transport.Option{transport.WithLogger(o.logger.With("component", "transport"))}
		if getter != nil {
			topts = append(topts, transport.WithTokenGetter(getter))
		}
		if o.onError != nil {
			topts = append(topts, transport.WithOnError(o.onError))
		}
		if o.httpClient != nil {
			topts = append(topts, transport.WithHTTPClient(o.httpClient))
		}
		c.transport = transport.New(transport.Config{
			Endpoint:          cfg.Endpoint,
			OrganizationID:    cfg.OrganizationID,
			ProjectID:         cfg.ProjectID,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}, topts...)
	}

	if cfg.MaxConcurrentRequests > 0 {
		pool, err := ants.NewPool(cfg.MaxConcurrentRequests, ants.WithPanicHandler(func(v any) {
			c.logger.Error("network call panic", "panic", v)
		}))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("network worker pool: %w", err)
		}
		c.pool = pool
	}

	exchanges := o.exchanges
	if exchanges == nil {
		if o.debug {
			exchanges = append(exchanges, exchange.Debug(o.logger.With("component", "debug")))
		}
		exchanges = append(exchanges,
			exchange.Dedupe(),
			exchange.Cache(o.cache),
			exchange.Network(c.transport, exchange.NetworkOptions{
				Context: ctx,
				Pool:    c.pool,
				Logger:  o.logger.With("component", "network"),
			}),
		)
	}

	chain := exchange.Compose(exchanges...)(exchange.Input{Client: c, Forward: exchange.Terminal})
	c.stop = chain(c.bus.Observable())(stream.Observer[operation.Result]{Next: c.results.Next})

	c.views = newViews(c, defs)
	return c, nil
}

// Views returns the registry of view drivers.
func (c *Client) Views() *Views {
	return c.views
}

// View is shorthand for Views().Get(id).
func (c *Client) View(id string) *View {
	return c.views.Get(id)
}

// Transport returns the transport shared by the client and its drivers.
func (c *Client) Transport() transport.Doer {
	return c.transport
}

// DefaultNetworkPolicy is applied to reads that do not set one.
func (c *Client) DefaultNetworkPolicy() operation.NetworkPolicy {
	return c.policy
}

// Execute returns the handle for op. Nothing is dispatched until the handle
// is subscribed to or awaited.
func (c *Client) Execute(op *operation.Operation) *ResultHandle {
	return newHandle(c, op)
}

// Reexecute puts op back on the bus. Exchanges use it to refresh cache answers.
func (c *Client) Reexecute(op *operation.Operation) {
	c.dispatch(op)
}

// Results exposes every result the chain produces.
func (c *Client) Results() stream.Observable[operation.Result] {
	return c.results.Observable()
}

// Active returns the number of handles observing key.
func (c *Client) Active(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[key]
}

// Close cancels in-flight calls and detaches the chain. Handles of a closed
// client receive nothing further.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.stop != nil {
			c.stop()
		}
		if c.pool != nil {
			c.pool.Release()
		}
		c.logger.Debug("client closed")
	})
}

// dispatch emits op on the bus. Operations dispatched while the bus is
// already emitting (re-executions from inside the chain, teardowns from
// result callbacks) are queued and emitted after the current one, so each
// operation passes the chain completely before the next starts.
func (c *Client) dispatch(op *operation.Operation) {
	c.mu.Lock()
	c.queue = append(c.queue, op)
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.bus.Next(next)
		c.mu.Lock()
	}
	c.dispatching = false
	c.mu.Unlock()
}

func (c *Client) onOperationStart(op *operation.Operation) {
	c.mu.Lock()
	c.active[op.Key]++
	c.mu.Unlock()
	c.dispatch(op)
}

func (c *Client) onOperationEnd(op *operation.Operation) {
	c.mu.Lock()
	n := c.active[op.Key] - 1
	if n > 0 {
		c.active[op.Key] = n
		c.mu.Unlock()
		return
	}
	delete(c.active, op.Key)
	c.mu.Unlock()

	metrics.Teardowns.Inc()
	c.dispatch(operation.Teardown(op.Key))
}

func (c *Client) isActive(key string) bool {
	return c.Active(key) > 0
}

// newOperation applies the client default policy before cfgs.
func (c *Client) newOperation(req transport.Request, cfgs ...operation.Config) *operation.Operation {
	op := operation.New(req, operation.Config{NetworkPolicy: c.policy})
	for _, cfg := range cfgs {
		op = op.With(cfg)
	}
	return op
}
