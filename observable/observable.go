// Package observable is a minimal push stream: lazily started per subscriber,
// at most one terminal notification, cancellable from outside.
//
// Lifecycle of one subscription:
//
//	Subscribe → producer runs, returns Teardown
//	  Next* → (Error | Complete)   → Teardown
//	  Unsubscribe at any point      → Teardown (observer not notified)
//
// Teardown runs exactly once, even when the producer terminates the stream
// before it has returned its Teardown.
package observable

import "sync"

// Observer receives the values of one subscription.
type Observer[T any] interface {
	Next(v T)
	Error(err error)
	Complete()
}

// Funcs adapts plain functions to Observer. Nil functions are skipped.
type Funcs[T any] struct {
	OnNext     func(T)
	OnError    func(error)
	OnComplete func()
}

func (f Funcs[T]) Next(v T) {
	if f.OnNext != nil {
		f.OnNext(v)
	}
}

func (f Funcs[T]) Error(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

func (f Funcs[T]) Complete() {
	if f.OnComplete != nil {
		f.OnComplete()
	}
}

// Teardown releases what a producer acquired. It may be nil.
type Teardown func()

// Producer starts emitting into obs and returns how to stop.
type Producer[T any] func(obs Observer[T]) Teardown

// Observable is a cold stream: each Subscribe runs the producer again.
type Observable[T any] struct {
	produce Producer[T]
}

// New wraps a producer.
func New[T any](produce Producer[T]) *Observable[T] {
	return &Observable[T]{produce: produce}
}

// Subscribe starts the producer for obs and returns the handle that cancels it.
func (o *Observable[T]) Subscribe(obs Observer[T]) *Subscription {
	s := &subscriber[T]{downstream: obs}
	sub := &Subscription{unsubscribe: s.unsubscribe}

	teardown := o.produce(s)

	s.mu.Lock()
	s.teardown = teardown
	finished := s.state != stateActive
	s.mu.Unlock()
	if finished {
		s.runTeardown()
	}
	return sub
}

// Subscription cancels a running stream.
type Subscription struct {
	unsubscribe func()
}

// Unsubscribe stops the stream and runs its teardown. Notifications issued
// after it returns are dropped, but a Next already being delivered on another
// goroutine may still reach the observer. It does not wait for delivery, so an
// observer may call it from its own callbacks. Safe to call more than once and
// after completion.
func (s *Subscription) Unsubscribe() {
	s.unsubscribe()
}

type state int

const (
	stateActive state = iota
	stateCompleted
	stateErrored
	stateUnsubscribed
)

// subscriber guards the downstream observer so the stream contract holds no
// matter what order the producer and the caller act in.
type subscriber[T any] struct {
	downstream Observer[T]

	mu           sync.Mutex
	state        state
	teardown     Teardown
	teardownOnce sync.Once
}

// Next delivers outside the lock; the state is checked once, on entry.
func (s *subscriber[T]) Next(v T) {
	s.mu.Lock()
	active := s.state == stateActive
	s.mu.Unlock()
	if active {
		s.downstream.Next(v)
	}
}

func (s *subscriber[T]) Error(err error) {
	if !s.finish(stateErrored) {
		return
	}
	s.downstream.Error(err)
	s.runTeardown()
}

func (s *subscriber[T]) Complete() {
	if !s.finish(stateCompleted) {
		return
	}
	s.downstream.Complete()
	s.runTeardown()
}

func (s *subscriber[T]) unsubscribe() {
	if !s.finish(stateUnsubscribed) {
		return
	}
	s.runTeardown()
}

// finish moves an active subscriber to a terminal state. It reports false if
// the subscriber had already terminated.
func (s *subscriber[T]) finish(to state) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateActive {
		return false
	}
	s.state = to
	return true
}

// runTeardown runs the teardown once it is known. If the producer has not
// returned yet, Subscribe runs it instead.
func (s *subscriber[T]) runTeardown() {
	s.mu.Lock()
	teardown := s.teardown
	s.mu.Unlock()
	if teardown == nil {
		return
	}
	s.teardownOnce.Do(teardown)
}
