package stream

import "sync"

// Subject is a multicast stream with an explicit emitter. Observers receive
// the values emitted after they subscribed; nothing is buffered or replayed.
// Complete notifies and detaches the current observers; the subject stays
// usable for later subscribers.
type Subject[T any] struct {
	mu        sync.Mutex
	observers []subjectEntry[T]
	nextID    uint64
}

type subjectEntry[T any] struct {
	id uint64
	o  Observer[T]
}

// NewSubject creates an empty subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{}
}

// Next pushes v to every observer, in subscription order, in the caller's
// goroutine.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	snapshot := make([]Observer[T], len(s.observers))
	for i, e := range s.observers {
		snapshot[i] = e.o
	}
	s.mu.Unlock()

	for _, o := range snapshot {
		o.next(v)
	}
}

// Complete signals completion to the current observers and detaches them.
func (s *Subject[T]) Complete() {
	s.mu.Lock()
	snapshot := s.observers
	s.observers = nil
	s.mu.Unlock()

	for _, e := range snapshot {
		e.o.complete()
	}
}

// Len returns the number of attached observers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// Observable exposes the subject as a subscribable stream.
func (s *Subject[T]) Observable() Observable[T] {
	return func(o Observer[T]) func() {
		g := &gate[T]{o: o}
		s.mu.Lock()
		id := s.nextID
		s.nextID++
		s.observers = append(s.observers, subjectEntry[T]{
			id: id,
			o:  Observer[T]{Next: g.next, Complete: g.complete},
		})
		s.mu.Unlock()

		return onceFunc(func() {
			g.stop()
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.observers {
				if e.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Share multicasts src: the first subscriber connects to src, later ones
// attach to the same connection, and the last one to leave disconnects it.
// Operators with side effects use Share so the side effect runs once per
// value regardless of how many downstream subscribers there are.
func Share[T any](src Observable[T]) Observable[T] {
	subject := NewSubject[T]()
	var (
		mu       sync.Mutex
		refs     int
		upstream func()
	)
	return func(o Observer[T]) func() {
		detach := subject.Observable()(o)

		mu.Lock()
		refs++
		first := refs == 1
		mu.Unlock()

		if first {
			u := src(Observer[T]{Next: subject.Next, Complete: subject.Complete})
			mu.Lock()
			if refs > 0 && upstream == nil {
				upstream = u
				u = nil
			}
			mu.Unlock()
			if u != nil {
				u()
			}
		}

		return onceFunc(func() {
			detach()
			mu.Lock()
			refs--
			var u func()
			if refs == 0 {
				u = upstream
				upstream = nil
			}
			mu.Unlock()
			if u != nil {
				u()
			}
		})
	}
}
