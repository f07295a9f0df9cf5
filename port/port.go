// Package port defines the message channel an RPC link rides on, plus two
// implementations: an in-memory pipe and a framed byte-stream port.
//
// A port only knows how to post opaque messages, deliver inbound messages to
// listeners, and report that the other side went away. Delivery order, framing
// and liveness belong to the implementation; correlation belongs to the link.
package port

import (
	"errors"
	"sync"
)

// ErrClosed is returned when posting on, or listening to, a port that has
// been closed locally or disconnected by its peer.
var ErrClosed = errors.New("port: closed")

// MessageListener receives every inbound message. The slice must not be retained
// after the call returns unless copied.
type MessageListener func(msg []byte)

// CloseListener is called once when the peer disconnects.
type CloseListener func()

// Unregister removes a listener. Calling it more than once is a no-op.
type Unregister func()

// Port is the capability set of a bidirectional message channel.
//
// Listeners of one port run sequentially on a single dispatch goroutine, in
// the order messages were delivered. A listener may post messages and add or
// remove listeners, but must not block waiting on another message of the same
// port.
type Port interface {
	PostMessage(msg []byte) error
	AddMessageListener(fn MessageListener) (Unregister, error)
	AddCloseListener(fn CloseListener) (Unregister, error)
	Close() error
}

type entry[T any] struct {
	id uint64
	fn T
}

// listeners is an ordered set of callbacks addressed by registration id.
type listeners[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[T]
}

func (l *listeners[T]) add(fn T) Unregister {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, entry[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

// snapshot returns the current callbacks so they can run without the lock held.
func (l *listeners[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
