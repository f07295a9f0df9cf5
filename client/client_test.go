package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"port-rpc/codec"
	"port-rpc/link"
	"port-rpc/loadbalance"
	"port-rpc/port"
	"port-rpc/registry"
	"port-rpc/server"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func newServer(t *testing.T) *server.Server {
	t.Helper()
	svr := server.NewServer()
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	svr.HandleQuery("Slow.Wait", func(ctx context.Context, input any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svr.HandleSubscription("Ticker.Tick", func(ctx context.Context, input any, emit func(any) error) error {
		for i := 0; ; i++ {
			if err := emit(i); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
	return svr
}

// pipeClient returns a client whose port is answered by svr.
func pipeClient(t *testing.T, svr *server.Server) (*Client, *port.MemoryPort) {
	t.Helper()
	local, remote := port.NewPipe()
	detach, err := svr.Attach(remote)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		detach()
		local.Close()
		remote.Close()
	})
	return New(local), remote
}

func TestClientCall(t *testing.T) {
	c, _ := pipeClient(t, newServer(t))

	// concurrent calls share one port; ids keep the replies apart
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			var reply Reply
			if err := c.Query(context.Background(), "Arith.Add", &Args{A: i, B: i}, &reply); err != nil {
				errs <- err
				return
			}
			if reply.Result != 2*i {
				errs <- errors.New("reply mixed up between calls")
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
}

func TestClientCallContext(t *testing.T) {
	c, _ := pipeClient(t, newServer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Query(ctx, "Slow.Wait", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded, got %v", err)
	}
}

func TestClientDisconnected(t *testing.T) {
	c, remote := pipeClient(t, newServer(t))

	done := make(chan error, 1)
	go func() { done <- c.Query(context.Background(), "Slow.Wait", nil, nil) }()
	time.Sleep(20 * time.Millisecond)
	remote.Close()

	select {
	case err := <-done:
		if !errors.Is(err, link.ErrDisconnected) {
			t.Fatalf("expect ErrDisconnected, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call not failed on disconnect")
	}
}

func TestClientCloseFailsPending(t *testing.T) {
	c, _ := pipeClient(t, newServer(t))

	done := make(chan error, 1)
	go func() { done <- c.Query(context.Background(), "Slow.Wait", nil, nil) }()
	sub := c.Subscribe(context.Background(), "Ticker.Tick", nil)
	<-sub.Events()
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		if !errors.Is(err, port.ErrClosed) {
			t.Fatalf("expect ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call not failed on Close")
	}

	for range sub.Events() {
	}
	if !errors.Is(sub.Err(), port.ErrClosed) {
		t.Fatalf("expect ErrClosed from subscription, got %v", sub.Err())
	}
}

func TestSubscribe(t *testing.T) {
	c, _ := pipeClient(t, newServer(t))

	sub := c.Subscribe(context.Background(), "Ticker.Tick", nil)
	for want := 0; want < 3; want++ {
		ev := <-sub.Events()
		var got int
		if err := ev.Bind(&got); err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("expect %d, got %d", want, got)
		}
	}
	sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not done after Close")
	}
	if sub.Err() != nil {
		t.Fatalf("expect nil error after Close, got %v", sub.Err())
	}
}

func TestSubscribeContext(t *testing.T) {
	c, _ := pipeClient(t, newServer(t))

	ctx, cancel := context.WithCancel(context.Background())
	sub := c.Subscribe(ctx, "Ticker.Tick", nil)
	<-sub.Events()
	cancel()

	// drain whatever was queued before the cancel
	for range sub.Events() {
	}
	if !errors.Is(sub.Err(), context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", sub.Err())
	}
}

func TestDiscovery(t *testing.T) {
	svr := newServer(t)
	reg := registry.NewMemoryRegistry()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	go svr.ServeListener(listener, addr, reg)
	defer svr.Shutdown(time.Second)

	// wait for the server to register itself
	deadline := time.Now().Add(time.Second)
	for {
		instances, _ := reg.Discover("Arith")
		if len(instances) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	d := NewDiscovery(reg, &loadbalance.RoundRobinBalancer{}, codec.CodecTypeJSON)
	defer d.Close()

	c1, err := d.Client("Arith")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := d.Client("Arith")
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatal("expect one cached client per address")
	}

	var reply Reply
	if err := c1.Query(context.Background(), "Arith.Add", &Args{A: 2, B: 3}, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 5 {
		t.Fatalf("expect 5, got %d", reply.Result)
	}
}

func TestDiscoveryNoInstances(t *testing.T) {
	d := NewDiscovery(registry.NewMemoryRegistry(), &loadbalance.RoundRobinBalancer{}, codec.CodecTypeJSON)
	_, err := d.Client("Missing")
	if !errors.Is(err, loadbalance.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}
