package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"port-rpc/codec"
	"port-rpc/config"
	"port-rpc/message"
	"port-rpc/middleware"
	"port-rpc/port"
	"port-rpc/registry"
	"port-rpc/server"
	"port-rpc/transformer"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo procedures until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig(cmd)
			svr := newDemoServer(cfg)

			var reg registry.Registry
			if len(cfg.EtcdEndpoints) > 0 {
				etcd, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
				if err != nil {
					return err
				}
				defer etcd.Close()
				reg = etcd
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			served := make(chan error, 1)
			go func() { served <- svr.Serve(cfg.Network, cfg.Address, cfg.AdvertiseAddr, reg) }()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "serving on %s (%s codec)\n", cfg.Address, cfg.Codec)

			select {
			case err := <-served:
				return err
			case <-ctx.Done():
			}
			if err := svr.Shutdown(5 * time.Second); err != nil {
				return err
			}
			return <-served
		},
	}
}

type GreetArgs struct {
	Name string `json:"name"`
}

type GreetReply struct {
	Message string `json:"message"`
}

// Greeter is registered by reflection: Greeter.Greet.
type Greeter struct{}

func (g *Greeter) Greet(args *GreetArgs, reply *GreetReply) error {
	name := args.Name
	if name == "" {
		name = "world"
	}
	reply.Message = "hello, " + name
	return nil
}

// newDemoServer builds a server with a query, a mutation and a subscription,
// and the middlewares selected by cfg.
func newDemoServer(cfg config.Config) *server.Server {
	svr := server.NewServer(
		server.WithCodec(codec.GetCodec(cfg.Codec)),
		server.WithStreamOptions(port.WithHeartbeat(cfg.HeartbeatInterval)),
	)

	svr.Use(middleware.LoggingMiddleware())
	if cfg.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.RetryMax > 0 {
		svr.Use(middleware.RetryMiddleware(cfg.RetryMax, 50*time.Millisecond))
	}
	svr.Use(middleware.TimeOutMiddleware(cfg.CallTimeout))

	if err := svr.Register(&Greeter{}); err != nil {
		panic(err)
	}

	var counter atomic.Int64
	svr.HandleQuery("Counter.Get", func(ctx context.Context, input any) (any, error) {
		return counter.Load(), nil
	})
	svr.HandleMutation("Counter.Add", func(ctx context.Context, input any) (any, error) {
		var delta int64
		if err := transformer.Bind(input, &delta); err != nil {
			return nil, server.NewError(message.CodeBadRequest, "Counter.Add expects a number")
		}
		return counter.Add(delta), nil
	})

	svr.HandleSubscription("Clock.Tick", func(ctx context.Context, input any, emit func(any) error) error {
		interval := time.Second
		var ms int64
		if err := transformer.Bind(input, &ms); err == nil && ms > 0 {
			interval = time.Duration(ms) * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				if err := emit(now.UTC().Format(time.RFC3339Nano)); err != nil {
					return err
				}
			}
		}
	})
	return svr
}
