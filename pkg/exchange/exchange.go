// Package exchange implements the composable links of the client pipeline.
// An exchange turns a stream of operations into a stream of results; it may
// answer an operation itself or forward it to the next link.
package exchange

import (
	"github.com/kartikbazzad/bunview/pkg/operation"
	"github.com/kartikbazzad/bunview/pkg/stream"
)

// Operations is a stream of operations.
type Operations = stream.Observable[*operation.Operation]

// Results is a stream of results.
type Results = stream.Observable[operation.Result]

// Dispatcher puts an operation back on the client's bus.
type Dispatcher interface {
	Reexecute(op *operation.Operation)
}

// IO is an exchange bound to its neighbours.
type IO func(ops Operations) Results

// Input is what an exchange receives when the chain is built.
type Input struct {
	Client  Dispatcher
	Forward IO
}

// Exchange builds an IO from its input.
type Exchange func(in Input) IO

// Compose folds exchanges from the right so that Compose(a, b) behaves like
// a({Forward: b({Forward: in.Forward})}). The first exchange sees operations
// first and results last.
func Compose(exchanges ...Exchange) Exchange {
	return func(in Input) IO {
		forward := in.Forward
		if forward == nil {
			forward = Terminal
		}
		for i := len(exchanges) - 1; i >= 0; i-- {
			forward = exchanges[i](Input{Client: in.Client, Forward: forward})
		}
		return forward
	}
}

// Terminal consumes operations and emits nothing. It ends every chain.
func Terminal(ops Operations) Results {
	return func(o stream.Observer[operation.Result]) func() {
		return ops(stream.Observer[*operation.Operation]{
			Next:     func(*operation.Operation) {},
			Complete: o.Complete,
		})
	}
}
