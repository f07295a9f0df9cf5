package port

import (
	"io"
	"log"
	"sync"
	"time"

	"port-rpc/protocol"
)

// DefaultHeartbeat is how often a StreamPort pings an idle connection.
const DefaultHeartbeat = 30 * time.Second

// StreamPort runs a port over a byte stream such as a TCP connection or the
// stdio pipes of a native messaging host. Each posted message becomes one
// protocol frame; a single goroutine (recvLoop) reads frames and runs the
// listeners, so listener calls are sequential in arrival order.
//
//	PostMessage ──frame──→ conn ──→ peer recvLoop ──→ peer listeners
type StreamPort struct {
	conn      io.ReadWriteCloser
	codecType byte          // Written into every frame header
	heartbeat time.Duration // 0 disables the heartbeat loop

	seq     uint32     // Frame counter (protected by sending mutex)
	sending sync.Mutex // Serializes frame writes so frames never interleave

	mu       sync.Mutex
	closed   bool // Close was called locally
	gone     bool // Peer disconnected or the stream failed
	done     chan struct{}
	doneOnce sync.Once

	messages listeners[MessageListener]
	closes   listeners[CloseListener]
}

// StreamOption configures a StreamPort.
type StreamOption func(*StreamPort)

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) StreamOption {
	return func(p *StreamPort) { p.heartbeat = d }
}

// WithCodecType records the envelope codec in outgoing frame headers.
func WithCodecType(ct byte) StreamOption {
	return func(p *StreamPort) { p.codecType = ct }
}

// NewStreamPort wraps conn and starts the receive loop, and the heartbeat
// loop unless disabled.
func NewStreamPort(conn io.ReadWriteCloser, opts ...StreamOption) *StreamPort {
	p := &StreamPort{
		conn:      conn,
		codecType: protocol.CodecTypeJSON,
		heartbeat: DefaultHeartbeat,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.recvLoop()
	if p.heartbeat > 0 {
		go p.heartbeatLoop(p.heartbeat)
	}
	return p
}

func (p *StreamPort) PostMessage(msg []byte) error {
	if !p.open() {
		return ErrClosed
	}
	return p.writeFrame(protocol.FrameMessage, msg)
}

func (p *StreamPort) AddMessageListener(fn MessageListener) (Unregister, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.gone {
		return nil, ErrClosed
	}
	return p.messages.add(fn), nil
}

func (p *StreamPort) AddCloseListener(fn CloseListener) (Unregister, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.gone {
		return nil, ErrClosed
	}
	return p.closes.add(fn), nil
}

// Close tells the peer we are leaving and closes the stream. Local close
// listeners do not fire.
func (p *StreamPort) Close() error {
	p.mu.Lock()
	if p.closed || p.gone {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Best effort: the peer also notices when the read side fails.
	_ = p.writeFrame(protocol.FrameClose, nil)
	p.finish()
	return p.conn.Close()
}

// Done is closed when the port stops, whichever side ended it.
func (p *StreamPort) Done() <-chan struct{} {
	return p.done
}

func (p *StreamPort) open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && !p.gone
}

func (p *StreamPort) writeFrame(ft protocol.FrameType, body []byte) error {
	p.sending.Lock()
	defer p.sending.Unlock()

	p.seq++
	header := protocol.Header{
		CodecType: p.codecType,
		FrameType: ft,
		Seq:       p.seq,
	}
	return protocol.Encode(p.conn, &header, body)
}

// recvLoop reads frames until the stream fails or the peer sends a close frame.
// It is the only reader of conn and the only goroutine running listeners.
func (p *StreamPort) recvLoop() {
	for {
		header, body, err := protocol.Decode(p.conn)
		if err != nil {
			if p.open() && err != io.EOF {
				log.Printf("port: read failed: %v", err)
			}
			p.disconnect()
			return
		}

		switch header.FrameType {
		case protocol.FrameHeartbeat:
			continue
		case protocol.FrameClose:
			p.disconnect()
			return
		}

		if !p.open() {
			continue
		}
		for _, fn := range p.messages.snapshot() {
			fn(body)
		}
	}
}

// disconnect marks the peer gone and fires close listeners, unless Close was
// called locally first.
func (p *StreamPort) disconnect() {
	p.mu.Lock()
	if p.closed || p.gone {
		p.mu.Unlock()
		return
	}
	p.gone = true
	p.mu.Unlock()

	p.finish()
	for _, fn := range p.closes.snapshot() {
		fn()
	}
	p.conn.Close()
}

func (p *StreamPort) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

// heartbeatLoop sends periodic heartbeat frames so a dead connection is
// noticed by a failed write instead of a silent hang.
func (p *StreamPort) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.writeFrame(protocol.FrameHeartbeat, nil); err != nil {
				p.disconnect()
				return
			}
		}
	}
}
