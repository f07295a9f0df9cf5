package client

import (
	"fmt"
	"net"
	"sync"

	"port-rpc/codec"
	"port-rpc/loadbalance"
	"port-rpc/port"
	"port-rpc/registry"
)

// Discovery finds port servers through a registry and hands out clients.
// One multiplexed port, and the client on it, is kept per address. Operation
// ids come from that single client, so concurrent callers never collide.
type Discovery struct {
	registry  registry.Registry // find service instances
	balancer  loadbalance.Balancer
	codecType codec.CodecType
	opts      []Option

	mu      sync.Mutex
	clients map[string]*cachedClient // per instance address
	dial    func(network, addr string) (net.Conn, error)
}

func NewDiscovery(reg registry.Registry, bal loadbalance.Balancer, codecType codec.CodecType, opts ...Option) *Discovery {
	return &Discovery{
		registry:  reg,
		balancer:  bal,
		codecType: codecType,
		opts:      opts,
		clients:   make(map[string]*cachedClient),
		dial:      net.Dial,
	}
}

// Client returns a client for one instance of serviceName, chosen by the balancer.
func (d *Discovery) Client(serviceName string) (*Client, error) {
	instances, err := d.registry.Discover(serviceName)
	if err != nil {
		return nil, err
	}

	instance, err := d.balancer.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("client: pick %s instance: %w", serviceName, err)
	}

	codecType := d.codecType
	if ct, ok := codec.ParseType(instance.Codec); ok && instance.Codec != "" {
		codecType = ct
	}
	return d.getClient(instance.Addr, codecType)
}

type cachedClient struct {
	port   *port.StreamPort
	client *Client
}

// getClient returns the cached client for addr, dialing a new port if there is
// none or the cached one has disconnected. The instance's advertised codec
// wins over the configured one.
func (d *Discovery) getClient(addr string, codecType codec.CodecType) (*Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cc, ok := d.clients[addr]; ok {
		select {
		case <-cc.port.Done():
			delete(d.clients, addr)
		default:
			return cc.client, nil
		}
	}

	conn, err := d.dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	p := port.NewStreamPort(conn, port.WithCodecType(byte(codecType)))
	opts := append([]Option{WithCodec(codec.GetCodec(codecType))}, d.opts...)
	cc := &cachedClient{port: p, client: New(p, opts...)}
	d.clients[addr] = cc
	return cc.client, nil
}

// Close closes every cached port.
func (d *Discovery) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr, cc := range d.clients {
		cc.port.Close()
		delete(d.clients, addr)
	}
	return nil
}
