// Package stream is a small push-based observable toolkit. It carries the
// operation bus and the exchange chain: values are pushed synchronously in
// the caller's goroutine, and producers that do I/O push from their own
// goroutines. Every operator is safe for concurrent producers.
package stream

import (
	"sync"
	"time"
)

// Observer receives values from an Observable. Complete may be nil.
type Observer[T any] struct {
	Next     func(T)
	Complete func()
}

func (o Observer[T]) next(v T) {
	if o.Next != nil {
		o.Next(v)
	}
}

func (o Observer[T]) complete() {
	if o.Complete != nil {
		o.Complete()
	}
}

// Observable starts producing for o and returns the function that stops it.
// Unsubscribing is idempotent.
type Observable[T any] func(o Observer[T]) (unsubscribe func())

// Subscribe is shorthand for subscribing with only a Next callback.
func (s Observable[T]) Subscribe(next func(T)) func() {
	return s(Observer[T]{Next: next})
}

// gate guards an observer so nothing is delivered after it stopped.
type gate[T any] struct {
	mu      sync.Mutex
	stopped bool
	o       Observer[T]
}

func (g *gate[T]) next(v T) {
	g.mu.Lock()
	stopped := g.stopped
	g.mu.Unlock()
	if !stopped {
		g.o.next(v)
	}
}

// stop marks the gate closed and reports whether this call closed it.
func (g *gate[T]) stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	g.stopped = true
	return true
}

func (g *gate[T]) complete() {
	if g.stop() {
		g.o.complete()
	}
}

func onceFunc(f func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if f != nil {
				f()
			}
		})
	}
}

// Empty completes immediately.
func Empty[T any]() Observable[T] {
	return func(o Observer[T]) func() {
		o.complete()
		return func() {}
	}
}

// Never emits nothing and never completes.
func Never[T any]() Observable[T] {
	return func(Observer[T]) func() { return func() {} }
}

// Of emits the given values and completes.
func Of[T any](values ...T) Observable[T] {
	return func(o Observer[T]) func() {
		for _, v := range values {
			o.next(v)
		}
		o.complete()
		return func() {}
	}
}

// Filter passes through values matching keep.
func Filter[T any](src Observable[T], keep func(T) bool) Observable[T] {
	return func(o Observer[T]) func() {
		return src(Observer[T]{
			Next: func(v T) {
				if keep(v) {
					o.next(v)
				}
			},
			Complete: o.Complete,
		})
	}
}

// Map transforms each value.
func Map[T, U any](src Observable[T], f func(T) U) Observable[U] {
	return func(o Observer[U]) func() {
		return src(Observer[T]{
			Next:     func(v T) { o.next(f(v)) },
			Complete: o.Complete,
		})
	}
}

// Merge interleaves all sources and completes once every source completed.
func Merge[T any](sources ...Observable[T]) Observable[T] {
	if len(sources) == 0 {
		return Empty[T]()
	}
	return func(o Observer[T]) func() {
		g := &gate[T]{o: o}
		var mu sync.Mutex
		remaining := len(sources)
		unsubs := make([]func(), 0, len(sources))
		for _, src := range sources {
			unsub := src(Observer[T]{
				Next: g.next,
				Complete: func() {
					mu.Lock()
					remaining--
					done := remaining == 0
					mu.Unlock()
					if done {
						g.complete()
					}
				},
			})
			unsubs = append(unsubs, unsub)
		}
		return onceFunc(func() {
			g.stop()
			for _, unsub := range unsubs {
				unsub()
			}
		})
	}
}

// MergeMap subscribes to project(v) for every value and merges the results.
// It completes when the source and every inner observable completed.
func MergeMap[T, U any](src Observable[T], project func(T) Observable[U]) Observable[U] {
	return func(o Observer[U]) func() {
		g := &gate[U]{o: o}
		var (
			mu         sync.Mutex
			inners     = make(map[uint64]func())
			nextID     uint64
			active     int
			outerDone  bool
			terminated bool
		)
		maybeComplete := func() {
			mu.Lock()
			done := outerDone && active == 0
			mu.Unlock()
			if done {
				g.complete()
			}
		}

		outer := src(Observer[T]{
			Next: func(v T) {
				mu.Lock()
				if terminated {
					mu.Unlock()
					return
				}
				id := nextID
				nextID++
				active++
				mu.Unlock()

				innerDone := false
				unsub := project(v)(Observer[U]{
					Next: g.next,
					Complete: func() {
						mu.Lock()
						if innerDone {
							mu.Unlock()
							return
						}
						innerDone = true
						delete(inners, id)
						active--
						mu.Unlock()
						maybeComplete()
					},
				})

				mu.Lock()
				if innerDone || terminated {
					mu.Unlock()
					if terminated {
						unsub()
					}
					return
				}
				inners[id] = unsub
				mu.Unlock()
			},
			Complete: func() {
				mu.Lock()
				outerDone = true
				mu.Unlock()
				maybeComplete()
			},
		})

		return onceFunc(func() {
			g.stop()
			mu.Lock()
			terminated = true
			pending := make([]func(), 0, len(inners))
			for _, unsub := range inners {
				pending = append(pending, unsub)
			}
			inners = map[uint64]func(){}
			mu.Unlock()
			outer()
			for _, unsub := range pending {
				unsub()
			}
		})
	}
}

// SwitchMap is MergeMap keeping only the latest inner observable: a new
// source value unsubscribes the previous inner one.
func SwitchMap[T, U any](src Observable[T], project func(T) Observable[U]) Observable[U] {
	return func(o Observer[U]) func() {
		g := &gate[U]{o: o}
		var (
			mu         sync.Mutex
			current    func()
			generation uint64
			innerLive  bool
			outerDone  bool
			terminated bool
		)
		maybeComplete := func() {
			mu.Lock()
			done := outerDone && !innerLive
			mu.Unlock()
			if done {
				g.complete()
			}
		}

		outer := src(Observer[T]{
			Next: func(v T) {
				mu.Lock()
				if terminated {
					mu.Unlock()
					return
				}
				prev := current
				current = nil
				generation++
				gen := generation
				innerLive = true
				mu.Unlock()
				if prev != nil {
					prev()
				}

				inner := &gate[U]{o: Observer[U]{Next: g.next}}
				unsub := project(v)(Observer[U]{
					Next: inner.next,
					Complete: func() {
						mu.Lock()
						if gen != generation {
							mu.Unlock()
							return
						}
						innerLive = false
						current = nil
						mu.Unlock()
						maybeComplete()
					},
				})
				stopInner := onceFunc(func() {
					inner.stop()
					unsub()
				})

				mu.Lock()
				if gen == generation && innerLive && !terminated {
					current = stopInner
				}
				superseded := gen != generation || terminated
				mu.Unlock()
				if superseded {
					stopInner()
				}
			},
			Complete: func() {
				mu.Lock()
				outerDone = true
				mu.Unlock()
				maybeComplete()
			},
		})

		return onceFunc(func() {
			g.stop()
			mu.Lock()
			terminated = true
			cur := current
			current = nil
			mu.Unlock()
			outer()
			if cur != nil {
				cur()
			}
		})
	}
}

// TakeUntil mirrors src until notifier emits, then completes and unsubscribes
// from both.
func TakeUntil[T, N any](src Observable[T], notifier Observable[N]) Observable[T] {
	return func(o Observer[T]) func() {
		g := &gate[T]{o: o}
		var (
			mu         sync.Mutex
			srcUnsub   func()
			notifUnsub func()
			finished   bool
		)
		finish := func() {
			mu.Lock()
			if finished {
				mu.Unlock()
				return
			}
			finished = true
			s, n := srcUnsub, notifUnsub
			mu.Unlock()
			if s != nil {
				s()
			}
			if n != nil {
				n()
			}
		}

		n := notifier(Observer[N]{
			Next: func(N) {
				g.complete()
				finish()
			},
		})
		mu.Lock()
		if finished {
			mu.Unlock()
			n()
			return func() {}
		}
		notifUnsub = n
		mu.Unlock()

		s := src(Observer[T]{
			Next: g.next,
			Complete: func() {
				g.complete()
				finish()
			},
		})
		mu.Lock()
		if finished {
			mu.Unlock()
			s()
			return func() {}
		}
		srcUnsub = s
		mu.Unlock()

		return func() {
			g.stop()
			finish()
		}
	}
}

// Take mirrors the first n values, then completes.
func Take[T any](src Observable[T], n int) Observable[T] {
	if n <= 0 {
		return Empty[T]()
	}
	return func(o Observer[T]) func() {
		g := &gate[T]{o: o}
		var (
			mu       sync.Mutex
			seen     int
			unsub    func()
			finished bool
		)
		finish := func() {
			mu.Lock()
			if finished {
				mu.Unlock()
				return
			}
			finished = true
			u := unsub
			mu.Unlock()
			if u != nil {
				u()
			}
		}

		u := src(Observer[T]{
			Next: func(v T) {
				mu.Lock()
				if seen >= n {
					mu.Unlock()
					return
				}
				seen++
				last := seen == n
				mu.Unlock()
				g.next(v)
				if last {
					g.complete()
					finish()
				}
			},
			Complete: func() {
				g.complete()
				finish()
			},
		})
		mu.Lock()
		if finished {
			mu.Unlock()
			u()
			return func() {}
		}
		unsub = u
		mu.Unlock()

		return func() {
			g.stop()
			finish()
		}
	}
}

// Interval emits 0 immediately, then 1, 2, ... every period until
// unsubscribed. Ticks after the first are pushed from a timer goroutine.
func Interval(period time.Duration) Observable[int] {
	return func(o Observer[int]) func() {
		g := &gate[int]{o: o}
		g.next(0)
		if period <= 0 {
			return func() { g.stop() }
		}
		stop := make(chan struct{})
		go func() {
			ticker := time.NewTicker(period)
			defer ticker.Stop()
			for n := 1; ; n++ {
				select {
				case <-stop:
					return
				case <-ticker.C:
					g.next(n)
				}
			}
		}()
		return onceFunc(func() {
			g.stop()
			close(stop)
		})
	}
}
