package client

import (
	"context"
	"sync"

	"port-rpc/link"
	"port-rpc/message"
	"port-rpc/port"
	"port-rpc/transformer"
)

// Event is one data value pushed by a subscription.
type Event struct {
	Data any
}

// Bind decodes the event data into v.
func (e Event) Bind(v any) error {
	return transformer.Bind(e.Data, v)
}

// Subscription delivers a subscription's data events on a channel.
//
// Events are buffered without bound between the port and the channel, so a
// slow reader never stalls other operations sharing the port. The channel is
// closed when the remote stops the subscription, the stream fails, ctx ends,
// the client is closed, or Close is called; Err then reports why.
type Subscription struct {
	events  chan Event
	done    chan struct{}
	closing chan struct{}
	notify  chan struct{}

	mu       sync.Mutex
	queue    []Event
	finished bool
	err      error

	closeOnce   sync.Once
	unsubscribe func()
}

// Subscribe starts a subscription. Failures, including ones while starting,
// are reported through Err once Events is closed.
func (c *Client) Subscribe(ctx context.Context, path string, input any) *Subscription {
	s := &Subscription{
		events:  make(chan Event),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		notify:  make(chan struct{}, 1),
	}

	sub := c.link.Start(ctx, link.Operation{
		ID:    c.nextID(),
		Type:  link.Subscription,
		Path:  path,
		Input: input,
	}, subscriptionObserver{s})
	s.unsubscribe = sub.Unsubscribe

	stop := context.AfterFunc(ctx, func() { s.finish(ctx.Err()) })
	stopClosed := context.AfterFunc(c.closed, func() {
		s.finish(port.ErrClosed)
		sub.Unsubscribe()
	})
	go func() {
		s.pump()
		stop()
		stopClosed()
	}()
	return s
}

// Events returns the channel of data events.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed after Events has been closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, or nil if the remote
// stopped it or Close was called. Only meaningful after Done.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the subscription and tells the remote side.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.unsubscribe()
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// finish records the terminal state; queued events are still delivered.
func (s *Subscription) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.done)
	defer close(s.events)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.closing:
				return
			}
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- ev:
		case <-s.closing:
			return
		}
	}
}

type subscriptionObserver struct {
	s *Subscription
}

func (o subscriptionObserver) Next(r link.Result) {
	if r.Type == message.ResultData {
		o.s.push(Event{Data: r.Data})
	}
}

func (o subscriptionObserver) Error(err error) { o.s.finish(err) }
func (o subscriptionObserver) Complete()       { o.s.finish(nil) }
