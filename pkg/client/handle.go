package client

import (
	"context"
	"sync"

	"github.com/kartikbazzad/bunview/pkg/operation"
	"github.com/kartikbazzad/bunview/pkg/stream"
)

// Status is the state of a handle.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ResultHandle is the caller's view of one executed operation.
//
// For reads, the first observer registers the operation key with the client
// and dispatches the operation; the last observer leaving unregisters it,
// and when no handle observes the key any more a teardown cancels its
// network work. Every result for the key reaches the handle, including
// results of identical reads issued elsewhere.
//
// Writes are dispatched once, on first use, and resolve with their first
// result; they never register or tear down.
type ResultHandle struct {
	client  *Client
	op      *operation.Operation
	subject *stream.Subject[operation.Result]

	mu     sync.Mutex
	refs   int
	detach func()
	status Status

	// writes only
	start     sync.Once
	done      chan struct{}
	delivered bool
	result    operation.Result
}

func newHandle(c *Client, op *operation.Operation) *ResultHandle {
	return &ResultHandle{
		client:  c,
		op:      op,
		subject: stream.NewSubject[operation.Result](),
		status:  StatusIdle,
		done:    make(chan struct{}),
	}
}

// Operation returns the operation the handle executes.
func (h *ResultHandle) Operation() *operation.Operation {
	return h.op
}

// Status returns the current state.
func (h *ResultHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Subscribe calls fn with every result until the returned function is called.
// Results may arrive on any goroutine. Unless another goroutine is
// dispatching at the same time, a cache answer arrives before Subscribe
// returns.
func (h *ResultHandle) Subscribe(fn func(operation.Result)) (unsubscribe func()) {
	if !h.op.Verb.IsRead() {
		return h.subscribeWrite(fn)
	}

	leave := h.subject.Observable().Subscribe(fn)

	h.mu.Lock()
	h.refs++
	first := h.refs == 1
	if first {
		h.status = StatusLoading
	}
	h.mu.Unlock()

	if first {
		detach := stream.Filter(h.client.results.Observable(), func(r operation.Result) bool {
			return r.Key() == h.op.Key
		}).Subscribe(h.deliver)
		h.mu.Lock()
		h.detach = detach
		h.mu.Unlock()
		h.client.onOperationStart(h.op)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			leave()
			h.mu.Lock()
			h.refs--
			last := h.refs == 0
			var detach func()
			if last {
				detach = h.detach
				h.detach = nil
			}
			h.mu.Unlock()
			if !last {
				return
			}
			if detach != nil {
				detach()
			}
			h.client.onOperationEnd(h.op)
		})
	}
}

// Wait returns the first fresh result. Stale cache answers are skipped in
// favour of the network result that follows them. The result's Error is
// also returned as err.
func (h *ResultHandle) Wait(ctx context.Context) (operation.Result, error) {
	if !h.op.Verb.IsRead() {
		h.dispatchWrite()
		select {
		case <-h.done:
			h.mu.Lock()
			res := h.result
			h.mu.Unlock()
			return res, res.Error
		case <-ctx.Done():
			return operation.Result{Operation: h.op}, ctx.Err()
		}
	}

	return h.waitRead(ctx, func(r operation.Result) bool { return !r.Stale })
}

// waitOwn returns the result of this handle's own call, ignoring results
// other calls for the same key deliver meanwhile.
func (h *ResultHandle) waitOwn(ctx context.Context) (operation.Result, error) {
	return h.waitRead(ctx, func(r operation.Result) bool {
		return r.Operation != nil && r.Operation.ID == h.op.ID
	})
}

func (h *ResultHandle) waitRead(ctx context.Context, accept func(operation.Result) bool) (operation.Result, error) {
	ch := make(chan operation.Result, 1)
	unsubscribe := h.Subscribe(func(r operation.Result) {
		if !accept(r) {
			return
		}
		select {
		case ch <- r:
		default:
		}
	})
	defer unsubscribe()

	select {
	case res := <-ch:
		return res, res.Error
	case <-ctx.Done():
		return operation.Result{Operation: h.op}, ctx.Err()
	}
}

// Revalidate re-dispatches the operation with cfg applied, for example to
// force a network-only refresh or to show an optimistic response. It does
// nothing when no handle observes the key.
func (h *ResultHandle) Revalidate(cfg operation.Config) {
	if !h.op.Verb.IsRead() || !h.client.isActive(h.op.Key) {
		return
	}
	h.mu.Lock()
	h.status = StatusLoading
	h.mu.Unlock()
	h.client.dispatch(h.op.With(cfg))
}

func (h *ResultHandle) deliver(r operation.Result) {
	h.mu.Lock()
	if r.Error != nil {
		h.status = StatusError
	} else {
		h.status = StatusSuccess
	}
	h.mu.Unlock()
	h.subject.Next(r)
}

func (h *ResultHandle) subscribeWrite(fn func(operation.Result)) func() {
	h.mu.Lock()
	if h.delivered {
		res := h.result
		h.mu.Unlock()
		fn(res)
		return func() {}
	}
	leave := h.subject.Observable().Subscribe(fn)
	h.mu.Unlock()

	h.dispatchWrite()
	return leave
}

func (h *ResultHandle) dispatchWrite() {
	h.start.Do(func() {
		h.mu.Lock()
		h.status = StatusLoading
		h.mu.Unlock()

		first := stream.Take(stream.Filter(h.client.results.Observable(), func(r operation.Result) bool {
			return r.Operation != nil && r.Operation.ID == h.op.ID
		}), 1)
		first.Subscribe(func(r operation.Result) {
			h.mu.Lock()
			h.result = r
			h.delivered = true
			if r.Error != nil {
				h.status = StatusError
			} else {
				h.status = StatusSuccess
			}
			h.mu.Unlock()
			close(h.done)
			h.subject.Next(r)
			h.subject.Complete()
		})
		h.client.dispatch(h.op)
	})
}
