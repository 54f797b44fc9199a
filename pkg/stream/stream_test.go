package stream

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

type recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	completed int
}

func (r *recorder[T]) observer() Observer[T] {
	return Observer[T]{
		Next: func(v T) {
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
		},
		Complete: func() {
			r.mu.Lock()
			r.completed++
			r.mu.Unlock()
		},
	}
}

func (r *recorder[T]) snapshot() ([]T, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...), r.completed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFilterMap(t *testing.T) {
	var r recorder[int]
	src := Of(1, 2, 3, 4, 5)
	even := Filter(src, func(v int) bool { return v%2 == 0 })
	Map(even, func(v int) int { return v * 10 })(r.observer())

	values, completed := r.snapshot()
	if !reflect.DeepEqual(values, []int{20, 40}) {
		t.Errorf("values = %v, want [20 40]", values)
	}
	if completed != 1 {
		t.Errorf("completed = %d, want 1", completed)
	}
}

func TestSubject_MulticastInOrder(t *testing.T) {
	s := NewSubject[string]()
	var order []string
	s.Observable().Subscribe(func(v string) { order = append(order, "a:"+v) })
	unsub := s.Observable().Subscribe(func(v string) { order = append(order, "b:"+v) })

	s.Next("1")
	unsub()
	unsub()
	s.Next("2")

	want := []string{"a:1", "b:1", "a:2"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestSubject_CompleteDetachesAndStaysUsable(t *testing.T) {
	s := NewSubject[int]()
	var first recorder[int]
	s.Observable()(first.observer())
	s.Next(1)
	s.Complete()
	s.Next(2)

	var second recorder[int]
	s.Observable()(second.observer())
	s.Next(3)

	if v, c := first.snapshot(); !reflect.DeepEqual(v, []int{1}) || c != 1 {
		t.Errorf("first = %v completed %d, want [1] completed 1", v, c)
	}
	if v, _ := second.snapshot(); !reflect.DeepEqual(v, []int{3}) {
		t.Errorf("second = %v, want [3]", v)
	}
}

func TestShare_ConnectsOnceAndDisconnectsWithLastObserver(t *testing.T) {
	s := NewSubject[int]()
	var subscribed, mapped int
	src := func(o Observer[int]) func() {
		subscribed++
		return s.Observable()(o)
	}
	shared := Share(Map(Observable[int](src), func(v int) int {
		mapped++
		return v
	}))

	var a, b recorder[int]
	ua := shared(a.observer())
	ub := shared(b.observer())
	s.Next(7)

	if subscribed != 1 {
		t.Errorf("source subscribed %d times, want 1", subscribed)
	}
	if mapped != 1 {
		t.Errorf("map ran %d times, want 1", mapped)
	}
	ua()
	ub()
	if s.Len() != 0 {
		t.Errorf("source still has %d observers after last unsubscribe", s.Len())
	}
	if va, _ := a.snapshot(); !reflect.DeepEqual(va, []int{7}) {
		t.Errorf("a = %v, want [7]", va)
	}
}

func TestMerge_CompletesAfterAllSources(t *testing.T) {
	var r recorder[int]
	a := NewSubject[int]()
	Merge(Of(1, 2), a.Observable())(r.observer())

	if _, c := r.snapshot(); c != 0 {
		t.Fatalf("completed before every source completed")
	}
	a.Next(3)
	a.Complete()

	values, completed := r.snapshot()
	if !reflect.DeepEqual(values, []int{1, 2, 3}) {
		t.Errorf("values = %v, want [1 2 3]", values)
	}
	if completed != 1 {
		t.Errorf("completed = %d, want 1", completed)
	}
}

func TestMergeMap_UnsubscribeStopsInners(t *testing.T) {
	src := NewSubject[int]()
	inners := map[int]*Subject[string]{}
	var r recorder[string]
	unsub := MergeMap(src.Observable(), func(v int) Observable[string] {
		s := NewSubject[string]()
		inners[v] = s
		return s.Observable()
	})(r.observer())

	src.Next(1)
	src.Next(2)
	inners[1].Next("one")
	inners[2].Next("two")
	inners[1].Complete()
	unsub()
	inners[2].Next("late")

	values, _ := r.snapshot()
	if !reflect.DeepEqual(values, []string{"one", "two"}) {
		t.Errorf("values = %v, want [one two]", values)
	}
	if inners[2].Len() != 0 {
		t.Errorf("inner still subscribed after unsubscribe")
	}
}

func TestSwitchMap_DropsPreviousInner(t *testing.T) {
	src := NewSubject[int]()
	inners := map[int]*Subject[string]{}
	var r recorder[string]
	SwitchMap(src.Observable(), func(v int) Observable[string] {
		s := NewSubject[string]()
		inners[v] = s
		return s.Observable()
	})(r.observer())

	src.Next(1)
	inners[1].Next("a")
	src.Next(2)
	inners[1].Next("stale")
	inners[2].Next("b")

	values, _ := r.snapshot()
	if !reflect.DeepEqual(values, []string{"a", "b"}) {
		t.Errorf("values = %v, want [a b]", values)
	}
	if inners[1].Len() != 0 {
		t.Errorf("previous inner still subscribed")
	}
}

func TestTakeUntil(t *testing.T) {
	src := NewSubject[int]()
	stop := NewSubject[struct{}]()
	var r recorder[int]
	TakeUntil(src.Observable(), stop.Observable())(r.observer())

	src.Next(1)
	stop.Next(struct{}{})
	src.Next(2)

	values, completed := r.snapshot()
	if !reflect.DeepEqual(values, []int{1}) {
		t.Errorf("values = %v, want [1]", values)
	}
	if completed != 1 {
		t.Errorf("completed = %d, want 1", completed)
	}
	if src.Len() != 0 || stop.Len() != 0 {
		t.Errorf("subscriptions left: src=%d notifier=%d", src.Len(), stop.Len())
	}
}

func TestTake(t *testing.T) {
	src := NewSubject[int]()
	var r recorder[int]
	Take(src.Observable(), 2)(r.observer())

	src.Next(1)
	src.Next(2)
	src.Next(3)

	values, completed := r.snapshot()
	if !reflect.DeepEqual(values, []int{1, 2}) {
		t.Errorf("values = %v, want [1 2]", values)
	}
	if completed != 1 {
		t.Errorf("completed = %d, want 1", completed)
	}
	if src.Len() != 0 {
		t.Errorf("source still subscribed")
	}
}

func TestInterval_EmitsImmediatelyAndStops(t *testing.T) {
	var r recorder[int]
	unsub := Interval(10 * time.Millisecond)(r.observer())

	if values, _ := r.snapshot(); len(values) != 1 || values[0] != 0 {
		t.Fatalf("first tick not synchronous: %v", values)
	}
	waitFor(t, "three ticks", func() bool {
		values, _ := r.snapshot()
		return len(values) >= 3
	})
	unsub()
	time.Sleep(5 * time.Millisecond)
	values, _ := r.snapshot()
	time.Sleep(40 * time.Millisecond)
	after, _ := r.snapshot()
	if len(after) != len(values) {
		t.Errorf("ticks after unsubscribe: %d -> %d", len(values), len(after))
	}
}
