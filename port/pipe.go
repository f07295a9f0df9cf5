package port

import "sync"

type eventKind int

const (
	eventMessage eventKind = iota
	eventPeerClosed
	eventShutdown
)

type event struct {
	kind eventKind
	data []byte
}

// MemoryPort is one end of an in-memory pipe. It behaves like a browser
// extension port: messages posted on one end are delivered to the listeners
// of the other end, and closing one end disconnects the other.
type MemoryPort struct {
	peer *MemoryPort

	mu          sync.Mutex
	queue       []event       // Inbound events, drained by dispatch
	notify      chan struct{} // Wakes dispatch; capacity 1
	localClosed bool          // Close was called on this end
	peerGone    bool          // The other end closed

	messages listeners[MessageListener]
	closes   listeners[CloseListener]
	done     chan struct{}
}

// NewPipe returns two connected ports.
func NewPipe() (*MemoryPort, *MemoryPort) {
	a := newMemoryPort()
	b := newMemoryPort()
	a.peer, b.peer = b, a
	go a.dispatch()
	go b.dispatch()
	return a, b
}

func newMemoryPort() *MemoryPort {
	return &MemoryPort{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// PostMessage copies msg into the peer's inbound queue. It never blocks on
// the peer's listeners.
func (p *MemoryPort) PostMessage(msg []byte) error {
	p.mu.Lock()
	closed := p.localClosed || p.peerGone
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data := make([]byte, len(msg))
	copy(data, msg)
	return p.peer.enqueue(event{kind: eventMessage, data: data})
}

func (p *MemoryPort) AddMessageListener(fn MessageListener) (Unregister, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.localClosed || p.peerGone {
		return nil, ErrClosed
	}
	return p.messages.add(fn), nil
}

func (p *MemoryPort) AddCloseListener(fn CloseListener) (Unregister, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.localClosed || p.peerGone {
		return nil, ErrClosed
	}
	return p.closes.add(fn), nil
}

// Close disconnects both ends. The peer's close listeners fire after any
// messages already queued for it; this end's close listeners do not fire.
func (p *MemoryPort) Close() error {
	p.mu.Lock()
	if p.localClosed {
		p.mu.Unlock()
		return nil
	}
	p.localClosed = true
	p.mu.Unlock()

	p.enqueue(event{kind: eventShutdown})
	p.peer.peerClosed()
	return nil
}

// Done is closed once this end stops dispatching.
func (p *MemoryPort) Done() <-chan struct{} {
	return p.done
}

// peerClosed marks the other end as gone and queues the close notification.
func (p *MemoryPort) peerClosed() {
	p.mu.Lock()
	if p.localClosed || p.peerGone {
		p.mu.Unlock()
		return
	}
	p.peerGone = true
	p.queue = append(p.queue, event{kind: eventPeerClosed})
	p.mu.Unlock()
	p.wake()
}

func (p *MemoryPort) enqueue(ev event) error {
	p.mu.Lock()
	if p.localClosed && ev.kind == eventMessage {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, ev)
	p.mu.Unlock()
	p.wake()
	return nil
}

func (p *MemoryPort) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// dispatch is the single goroutine that runs this end's listeners.
func (p *MemoryPort) dispatch() {
	defer close(p.done)
	for range p.notify {
		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			ev := p.queue[0]
			p.queue = p.queue[1:]
			local := p.localClosed
			p.mu.Unlock()

			switch ev.kind {
			case eventMessage:
				if local {
					continue
				}
				for _, fn := range p.messages.snapshot() {
					fn(ev.data)
				}
			case eventPeerClosed:
				for _, fn := range p.closes.snapshot() {
					fn()
				}
				return
			case eventShutdown:
				return
			}
		}
	}
}
