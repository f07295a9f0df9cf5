// Package server answers RPC operations arriving on ports: it is the other end
// of a link.
//
// Request processing pipeline for one port:
//
//	port listener → Codec.Decode → Envelope.Request
//	  query/mutation → go handleCall → Middleware Chain → businessHandler → post result|error
//	  subscription   → go runSubscription → post started, data*, stopped|error
//	  subscription.stop → cancel that subscription's context
//
// Responses are always posted from a goroutine other than the port's dispatch
// goroutine, so a slow procedure never holds up the port.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"port-rpc/codec"
	"port-rpc/message"
	"port-rpc/middleware"
	"port-rpc/port"
	"port-rpc/registry"
	"port-rpc/transformer"
)

// QueryFunc implements a query or mutation. input is the transformed call input
// (json.RawMessage with the default transformer); use transformer.Bind to decode it.
type QueryFunc func(ctx context.Context, input any) (any, error)

// SubscriptionFunc implements a subscription. It calls emit for each value and
// returns when done; returning nil ends the subscription with "stopped".
// ctx is cancelled when the caller stops the subscription or the port closes.
type SubscriptionFunc func(ctx context.Context, input any, emit func(v any) error) error

type procedure struct {
	query     bool
	mutation  bool
	call      QueryFunc
	subscribe SubscriptionFunc
}

// Server is the RPC server that registers procedures and answers ports.
type Server struct {
	mu          sync.RWMutex
	procedures  map[string]*procedure   // "Arith.Add" → procedure
	middlewares []middleware.Middleware // Registered middlewares (applied in order)
	handler     middleware.HandlerFunc  // Chain built on first use: middleware(...(businessHandler))

	transformer transformer.Combined
	codec       codec.Codec
	portOpts    []port.StreamOption // applied to every accepted connection

	listener      net.Listener
	wg            sync.WaitGroup // Tracks in-flight calls for graceful shutdown
	shutdown      atomic.Bool
	registry      registry.Registry
	advertiseAddr string

	portsMu sync.Mutex
	ports   map[*port.StreamPort]struct{} // Ports accepted by Serve
}

type Option func(*Server)

// WithTransformer sets the data transformer. Input.Deserialize is applied to
// call inputs and Output.Serialize to results.
func WithTransformer(t any) Option {
	return func(s *Server) { s.transformer = transformer.Resolve(t) }
}

// WithCodec sets the envelope codec.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithStreamOptions sets options for the stream ports Serve creates, e.g.
// port.WithHeartbeat.
func WithStreamOptions(opts ...port.StreamOption) Option {
	return func(s *Server) { s.portOpts = append(s.portOpts, opts...) }
}

// NewServer creates a new RPC server with no procedures.
func NewServer(opts ...Option) *Server {
	s := &Server{
		procedures:  make(map[string]*procedure),
		transformer: transformer.Default,
		codec:       &codec.JSONCodec{},
		ports:       make(map[*port.StreamPort]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register registers a service receiver (e.g., &Arith{}). Its exported methods
// of the form (args *A, reply *R) error become procedures "Arith.Method",
// callable as queries or mutations.
func (svr *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	for name, mType := range svc.method {
		svr.procedures[svc.name+"."+name] = &procedure{query: true, mutation: true, call: svc.procedure(mType)}
	}
	return nil
}

// HandleQuery registers a query procedure.
func (svr *Server) HandleQuery(path string, fn QueryFunc) {
	svr.add(path, &procedure{query: true, call: fn})
}

// HandleMutation registers a mutation procedure.
func (svr *Server) HandleMutation(path string, fn QueryFunc) {
	svr.add(path, &procedure{mutation: true, call: fn})
}

// HandleSubscription registers a subscription procedure.
func (svr *Server) HandleSubscription(path string, fn SubscriptionFunc) {
	svr.add(path, &procedure{subscribe: fn})
}

func (svr *Server) add(path string, p *procedure) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.procedures[path] = p
}

// serviceNames returns the distinct service names of the registered
// procedures: the part of each path before the first dot.
func (svr *Server) serviceNames() []string {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for path := range svr.procedures {
		name, _, _ := strings.Cut(path, ".")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (svr *Server) lookup(path string) (*procedure, bool) {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	p, ok := svr.procedures[path]
	return p, ok
}

// Use registers a middleware for queries and mutations. Middlewares added
// after the first call are ignored.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.middlewares = append(svr.middlewares, mw)
}

// chain builds the middleware chain once:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
func (svr *Server) chain() middleware.HandlerFunc {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.handler == nil {
		svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)
	}
	return svr.handler
}

// Attach starts answering requests that arrive on p. detach stops listening
// and cancels the subscriptions started through p; it does not close p.
func (svr *Server) Attach(p port.Port) (detach func(), err error) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		srv:     svr,
		port:    p,
		ctx:     ctx,
		cancel:  cancel,
		handler: svr.chain(),
		subs:    make(map[message.ID]*subEntry),
	}

	unregisterClose, err := p.AddCloseListener(sess.close)
	if err != nil {
		cancel()
		return nil, err
	}
	unregisterMessage, err := p.AddMessageListener(sess.onMessage)
	if err != nil {
		unregisterClose()
		cancel()
		return nil, err
	}

	return func() {
		unregisterMessage()
		unregisterClose()
		sess.close()
	}, nil
}

// Serve listens on the given address, optionally registers every service with
// the registry under advertiseAddr, and answers each accepted connection as a
// stream port. Pass a nil registry to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	svr.mu.Lock()
	svr.listener = listener
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	svr.mu.Unlock()

	if reg != nil {
		for _, serviceName := range svr.serviceNames() {
			err := reg.Register(serviceName, registry.ServiceInstance{
				Addr:   advertiseAddr,
				Weight: 1,
				Codec:  svr.codec.Type().String(),
			}, 10) // TTL = 10 seconds, KeepAlive renews automatically
			if err != nil {
				return fmt.Errorf("server: register %s: %w", serviceName, err)
			}
		}
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			// listener.Close() during Shutdown also lands here.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// handleConn wraps one connection in a stream port and answers it until the
// peer goes away.
func (svr *Server) handleConn(conn net.Conn) {
	opts := append([]port.StreamOption{port.WithCodecType(byte(svr.codec.Type()))}, svr.portOpts...)
	p := port.NewStreamPort(conn, opts...)
	detach, err := svr.Attach(p)
	if err != nil {
		log.Printf("server: attach %s: %v", conn.RemoteAddr(), err)
		p.Close()
		return
	}

	svr.portsMu.Lock()
	svr.ports[p] = struct{}{}
	svr.portsMu.Unlock()

	<-p.Done()
	detach()

	svr.portsMu.Lock()
	delete(svr.ports, p)
	svr.portsMu.Unlock()
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing to this server)
//  2. Set shutdown flag and close the listener
//  3. Wait for in-flight calls to finish (with timeout)
//  4. Close the remaining ports, which ends their subscriptions
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.RLock()
	listener, reg, addr := svr.listener, svr.registry, svr.advertiseAddr
	svr.mu.RUnlock()

	if reg != nil {
		for _, serviceName := range svr.serviceNames() {
			if err := reg.Deregister(serviceName, addr); err != nil {
				log.Printf("server: deregister %s: %v", serviceName, err)
			}
		}
	}

	svr.shutdown.Store(true)
	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.portsMu.Lock()
	for p := range svr.ports {
		p.Close()
	}
	svr.portsMu.Unlock()
	return err
}

// businessHandler is the core handler: it finds the procedure for the call and
// invokes it. It is wrapped by the middleware chain.
func (svr *Server) businessHandler(ctx context.Context, call *middleware.Call) *middleware.Reply {
	proc, ok := svr.lookup(call.Path)
	if !ok || proc.call == nil {
		if ok {
			return middleware.ErrorReply(message.CodeMethodNotSupported, fmt.Sprintf("%s is a subscription", call.Path))
		}
		return middleware.ErrorReply(message.CodeNotFound, fmt.Sprintf("No procedure found on path %q", call.Path))
	}
	if (call.Method == message.MethodQuery && !proc.query) || (call.Method == message.MethodMutation && !proc.mutation) {
		return middleware.ErrorReply(message.CodeMethodNotSupported, fmt.Sprintf("%s does not support %s", call.Path, call.Method))
	}

	data, err := proc.call(ctx, call.Input)
	if err != nil {
		return &middleware.Reply{Error: errorShape(err)}
	}
	return &middleware.Reply{Data: data}
}

// session is the server state for one attached port.
type session struct {
	srv     *Server
	port    port.Port
	ctx     context.Context
	cancel  context.CancelFunc
	handler middleware.HandlerFunc

	mu     sync.Mutex
	subs   map[message.ID]*subEntry // running subscriptions by id
	closed bool
}

// subEntry identifies one run of a subscription, so a finished run never
// removes a newer run that reuses its id.
type subEntry struct {
	cancel context.CancelFunc
}

func (s *session) onMessage(raw []byte) {
	var env message.Envelope
	if err := s.srv.codec.Decode(raw, &env); err != nil {
		return
	}
	req, ok := env.Request()
	if !ok {
		return
	}

	switch req.Method {
	case message.MethodSubscriptionStop:
		s.stop(req.ID)
	case message.MethodSubscription:
		s.startSubscription(req)
	default:
		s.srv.wg.Add(1)
		go func() {
			defer s.srv.wg.Done()
			s.handleCall(req)
		}()
	}
}

func (s *session) handleCall(req *message.Request) {
	input, err := s.srv.transformer.Input.Deserialize(rawInput(req.Input))
	if err != nil {
		s.postError(req.ID, &message.ErrorShape{Code: message.CodeBadRequest, Message: err.Error()})
		return
	}

	reply := s.handler(s.ctx, &middleware.Call{
		ID:     req.ID,
		Method: req.Method,
		Path:   req.Path,
		Input:  input,
	})
	if reply.Error != nil {
		s.postError(req.ID, reply.Error)
		return
	}
	s.postData(req.ID, reply.Data)
}

func (s *session) startSubscription(req *message.Request) {
	proc, ok := s.srv.lookup(req.Path)
	if !ok || proc.subscribe == nil {
		code, msg := message.CodeNotFound, fmt.Sprintf("No procedure found on path %q", req.Path)
		if ok {
			code, msg = message.CodeMethodNotSupported, fmt.Sprintf("%s does not support subscription", req.Path)
		}
		go s.postError(req.ID, &message.ErrorShape{Code: code, Message: msg})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, dup := s.subs[req.ID]; dup {
		s.mu.Unlock()
		go s.postError(req.ID, &message.ErrorShape{Code: message.CodeBadRequest, Message: fmt.Sprintf("Duplicate id %s", req.ID)})
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	entry := &subEntry{cancel: cancel}
	s.subs[req.ID] = entry
	s.mu.Unlock()

	go s.runSubscription(ctx, entry, req, proc.subscribe)
}

func (s *session) runSubscription(ctx context.Context, entry *subEntry, req *message.Request, fn SubscriptionFunc) {
	defer func() {
		entry.cancel()
		s.mu.Lock()
		// the id may already belong to a newer subscription
		if s.subs[req.ID] == entry {
			delete(s.subs, req.ID)
		}
		s.mu.Unlock()
	}()

	input, err := s.srv.transformer.Input.Deserialize(rawInput(req.Input))
	if err != nil {
		s.postError(req.ID, &message.ErrorShape{Code: message.CodeBadRequest, Message: err.Error()})
		return
	}

	s.post(message.NewResult(req.ID, message.ResultStarted, nil))

	emit := func(v any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.postData(req.ID, v)
	}

	err = fn(ctx, input, emit)
	if ctx.Err() != nil {
		// stopped by the caller or the port is gone; the id may be reused
		// already, so nothing more is sent for it
		return
	}
	if err != nil {
		s.postError(req.ID, errorShape(err))
		return
	}
	s.post(message.NewResult(req.ID, message.ResultStopped, nil))
}

func (s *session) stop(id message.ID) {
	s.mu.Lock()
	entry, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

// close cancels every subscription of the session. Safe to call twice.
func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	s.subs = make(map[message.ID]*subEntry)
	s.mu.Unlock()
	s.cancel()
}

func (s *session) postData(id message.ID, v any) error {
	out, err := s.srv.transformer.Output.Serialize(v)
	if err != nil {
		s.postError(id, &message.ErrorShape{Code: message.CodeInternalServerError, Message: err.Error()})
		return err
	}
	raw, err := marshalData(out)
	if err != nil {
		s.postError(id, &message.ErrorShape{Code: message.CodeInternalServerError, Message: err.Error()})
		return err
	}
	return s.post(message.NewResult(id, message.ResultData, raw))
}

func (s *session) postError(id message.ID, shape *message.ErrorShape) {
	s.post(&message.Envelope{TRPC: &message.Body{ID: id, Error: shape}})
}

const errUnencodable = "reply could not be encoded"

func (s *session) post(env *message.Envelope) error {
	data, err := s.srv.codec.Encode(env)
	if err != nil {
		log.Printf("server: encode reply id=%s: %v", env.TRPC.ID, err)
		if env.TRPC.Error != nil && env.TRPC.Error.Code == message.CodeInternalServerError && env.TRPC.Error.Message == errUnencodable {
			return err
		}
		// the caller still waits on this id
		return s.post(message.NewError(env.TRPC.ID, message.CodeInternalServerError, errUnencodable))
	}
	if err := s.port.PostMessage(data); err != nil {
		if !errors.Is(err, port.ErrClosed) {
			log.Printf("server: post reply id=%s: %v", env.TRPC.ID, err)
		}
		return err
	}
	return nil
}

func rawInput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func marshalData(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	}
	return json.Marshal(v)
}
