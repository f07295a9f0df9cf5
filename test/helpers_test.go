package test

import (
	"context"
	"net"
	"testing"
	"time"

	"port-rpc/registry"
	"port-rpc/server"
)

// ---- 测试用的服务 ----

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

func (a *Arith) Multiply(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

// countdown emits n, n-1, ..., 1 and stops.
func countdown(ctx context.Context, input any, emit func(any) error) error {
	var n int
	if err := bindInput(input, &n); err != nil {
		return err
	}
	for ; n > 0; n-- {
		if err := emit(n); err != nil {
			return err
		}
	}
	return nil
}

// startServer serves svr on a random local port and returns its address.
func startServer(tb testing.TB, svr *server.Server, reg registry.Registry) string {
	tb.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatal(err)
	}
	addr := listener.Addr().String()
	go svr.ServeListener(listener, addr, reg)
	tb.Cleanup(func() { svr.Shutdown(3 * time.Second) })
	return addr
}

// waitRegistered polls reg until serviceName has n instances.
func waitRegistered(tb testing.TB, reg registry.Registry, serviceName string, n int) {
	tb.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if instances, _ := reg.Discover(serviceName); len(instances) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	tb.Fatalf("%s never reached %d instances", serviceName, n)
}
