package client

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"port-rpc/codec"
	"port-rpc/link"
	"port-rpc/message"
	"port-rpc/observable"
	"port-rpc/port"
	"port-rpc/transformer"
)

// Client issues queries, mutations and subscriptions over one port.
type Client struct {
	port port.Port
	link *link.Link
	seq  atomic.Uint64 // Operation ids, unique per client

	closed context.Context // done once Close is called
	shut   context.CancelFunc
}

// Option configures the link under a Client.
type Option = link.Option

// WithTransformer and WithCodec are re-exported for callers that only import client.
var (
	WithTransformer = link.WithTransformer
	WithCodec       = link.WithCodec
)

func New(p port.Port, opts ...Option) *Client {
	closed, shut := context.WithCancel(context.Background())
	return &Client{
		port:   p,
		link:   link.New(p, opts...),
		closed: closed,
		shut:   shut,
	}
}

// Dial connects to a port server over network/addr. The envelope codec is
// used for both the link and the frame headers.
func Dial(network, addr string, codecType codec.CodecType, opts ...Option) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	p := port.NewStreamPort(conn, port.WithCodecType(byte(codecType)))
	opts = append([]Option{link.WithCodec(codec.GetCodec(codecType))}, opts...)
	return New(p, opts...), nil
}

// Close closes the underlying port. Outstanding calls and subscriptions end
// with port.ErrClosed.
func (c *Client) Close() error {
	err := c.port.Close()
	c.shut()
	return err
}

func (c *Client) nextID() message.ID {
	return message.IDFromInt(c.seq.Add(1))
}

// Query calls a query procedure and stores its result in reply.
func (c *Client) Query(ctx context.Context, path string, input any, reply any) error {
	return c.call(ctx, link.Query, path, input, reply)
}

// Mutation calls a mutation procedure and stores its result in reply.
func (c *Client) Mutation(ctx context.Context, path string, input any, reply any) error {
	return c.call(ctx, link.Mutation, path, input, reply)
}

type outcome struct {
	result link.Result
	err    error
}

// call waits for the single result of a query or mutation. If ctx ends first
// the operation is unsubscribed and ctx's error returned; if the client is
// closed first, port.ErrClosed.
func (c *Client) call(ctx context.Context, typ message.Method, path string, input any, reply any) error {
	done := make(chan outcome, 1)
	var got link.Result
	obs := observable.Funcs[link.Result]{
		OnNext:     func(r link.Result) { got = r },
		OnError:    func(err error) { done <- outcome{err: err} },
		OnComplete: func() { done <- outcome{result: got} },
	}

	sub := c.link.Start(ctx, link.Operation{
		ID:    c.nextID(),
		Type:  typ,
		Path:  path,
		Input: input,
	}, obs)

	select {
	case out := <-done:
		if out.err != nil {
			return out.err
		}
		if err := transformer.Bind(out.result.Data, reply); err != nil {
			return fmt.Errorf("client: decode %s result: %w", path, err)
		}
		return nil
	case <-ctx.Done():
		sub.Unsubscribe()
		return ctx.Err()
	case <-c.closed.Done():
		sub.Unsubscribe()
		return port.ErrClosed
	}
}
