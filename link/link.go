// Package link turns RPC operations into envelopes on a port and matches the
// replies back to the operation that caused them.
//
// Several operations may share one port. Each one registers its own message
// and close listener, posts one request, and drops every inbound envelope whose
// id is not its own:
//
//	op(id=1) ──request──┐                ┌── result(id=1) → op 1
//	op(id=2) ──request──┼──→ port ──→ ───┼── result(id=2) → op 2
//	op(id=3) ──request──┘                └── foreign msg  → ignored by all
//
// A query or mutation completes after its first result. A subscription stays
// open for more results until the remote reports "stopped", fails, or the
// caller unsubscribes, in which case the remote is told to stop.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"

	"port-rpc/codec"
	"port-rpc/message"
	"port-rpc/observable"
	"port-rpc/port"
	"port-rpc/transformer"
)

// Operation kinds.
const (
	Query        = message.MethodQuery
	Mutation     = message.MethodMutation
	Subscription = message.MethodSubscription
)

// Operation is one outgoing call. ID must be unique among the operations
// outstanding on the same port.
type Operation struct {
	ID    message.ID
	Type  message.Method
	Path  string
	Input any
}

// Result is one value emitted by an operation's stream. Data has been through
// the output transformer when Type is data; for other types it is the raw
// payload, usually nil.
type Result struct {
	Type message.ResultType
	Data any
}

// Link sends operations over a port.
type Link struct {
	port        port.Port
	transformer transformer.Combined
	codec       codec.Codec
}

type Option func(*Link)

// WithTransformer sets the data transformer; see transformer.Resolve for the
// accepted forms.
func WithTransformer(t any) Option {
	return func(l *Link) { l.transformer = transformer.Resolve(t) }
}

// WithCodec sets the envelope codec. Both ends of the port must agree.
func WithCodec(c codec.Codec) Option {
	return func(l *Link) { l.codec = c }
}

// New creates a link over p with the identity transformer and JSON codec.
func New(p port.Port, opts ...Option) *Link {
	l := &Link{
		port:        p,
		transformer: transformer.Default,
		codec:       &codec.JSONCodec{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start subscribes obs to op and ties the subscription to ctx: when ctx is
// done the operation is unsubscribed.
func (l *Link) Start(ctx context.Context, op Operation, obs observable.Observer[Result]) *observable.Subscription {
	if ctx.Done() == nil {
		return l.Observe(op).Subscribe(obs)
	}

	var sub *observable.Subscription
	ready := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		<-ready
		sub.Unsubscribe()
	})
	sub = l.Observe(op).Subscribe(&releasing{Observer: obs, release: func() { stop() }})
	close(ready)
	return sub
}

// Observe returns the stream for op. Nothing is sent until it is subscribed.
// Unsubscribing a subscription posts subscription.stop, unless the remote has
// already sent stopped for it.
func (l *Link) Observe(op Operation) *observable.Observable[Result] {
	return observable.New(func(obs observable.Observer[Result]) observable.Teardown {
		var unregisters []port.Unregister
		var remoteStopped atomic.Bool

		err := func() error {
			unregisterClose, err := l.port.AddCloseListener(func() {
				obs.Error(disconnectedError())
			})
			if err != nil {
				return err
			}
			unregisters = append(unregisters, unregisterClose)

			unregisterMessage, err := l.port.AddMessageListener(func(raw []byte) {
				l.handle(op, raw, obs, &remoteStopped)
			})
			if err != nil {
				return err
			}
			unregisters = append(unregisters, unregisterMessage)

			env, err := l.request(op)
			if err != nil {
				return err
			}
			return l.post(env)
		}()
		if err != nil {
			obs.Error(errorFromCause(err))
		}

		return func() {
			if op.Type == Subscription && !remoteStopped.Load() {
				if err := l.post(message.NewStop(op.ID)); err != nil && !errors.Is(err, port.ErrClosed) {
					log.Printf("link: subscription.stop id=%s path=%s: %v", op.ID, op.Path, err)
				}
			}
			for _, unregister := range unregisters {
				unregister()
			}
		}
	})
}

// handle runs on the port's dispatch goroutine for every inbound message.
func (l *Link) handle(op Operation, raw []byte, obs observable.Observer[Result], remoteStopped *atomic.Bool) {
	var env message.Envelope
	if err := l.codec.Decode(raw, &env); err != nil {
		return
	}
	resp, ok := env.Response()
	if !ok || resp.ResponseID() != op.ID {
		return
	}

	switch r := resp.(type) {
	case *message.ErrorResponse:
		obs.Error(errorFromShape(r.Error))
	case *message.ResultResponse:
		result, err := l.result(r.Result)
		if err != nil {
			obs.Error(errorFromCause(err))
			return
		}
		if r.Result.Type == message.ResultStopped {
			remoteStopped.Store(true)
		}
		obs.Next(result)
		if op.Type != Subscription || r.Result.Type == message.ResultStopped {
			obs.Complete()
		}
	}
}

func (l *Link) result(r message.Result) (Result, error) {
	var raw any
	if len(r.Data) > 0 {
		raw = r.Data
	}
	if r.Type != "" && r.Type != message.ResultData {
		return Result{Type: r.Type, Data: raw}, nil
	}
	data, err := l.transformer.Output.Deserialize(raw)
	if err != nil {
		return Result{}, err
	}
	return Result{Type: message.ResultData, Data: data}, nil
}

func (l *Link) request(op Operation) (*message.Envelope, error) {
	in, err := l.transformer.Input.Serialize(op.Input)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	switch v := in.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	default:
		if raw, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	return message.NewRequest(op.ID, op.Type, op.Path, raw), nil
}

func (l *Link) post(env *message.Envelope) error {
	data, err := l.codec.Encode(env)
	if err != nil {
		return err
	}
	return l.port.PostMessage(data)
}

// releasing calls release once the stream reaches a terminal notification.
type releasing struct {
	observable.Observer[Result]
	release func()
}

func (r *releasing) Error(err error) {
	r.release()
	r.Observer.Error(err)
}

func (r *releasing) Complete() {
	r.release()
	r.Observer.Complete()
}
