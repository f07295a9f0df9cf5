package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"port-rpc/client"
	"port-rpc/codec"
	"port-rpc/config"
	"port-rpc/link"
	"port-rpc/loadbalance"
	"port-rpc/port"
	"port-rpc/registry"
)

// connect returns a client for cfg: through etcd discovery when endpoints and
// a service are configured, else by dialing cfg.Address. closeFn releases it.
func connect(cfg config.Config) (c *client.Client, closeFn func(), err error) {
	if len(cfg.EtcdEndpoints) > 0 && cfg.Service != "" {
		reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints)
		if err != nil {
			return nil, nil, err
		}
		bal, err := loadbalance.New(cfg.Balancer, cfg.AffinityKey)
		if err != nil {
			reg.Close()
			return nil, nil, err
		}
		d := client.NewDiscovery(reg, bal, cfg.Codec)
		c, err := d.Client(cfg.Service)
		if err != nil {
			reg.Close()
			return nil, nil, err
		}
		return c, func() { d.Close(); reg.Close() }, nil
	}

	conn, err := net.Dial(cfg.Network, cfg.Address)
	if err != nil {
		return nil, nil, err
	}
	p := port.NewStreamPort(conn,
		port.WithCodecType(byte(cfg.Codec)),
		port.WithHeartbeat(cfg.HeartbeatInterval))
	c = client.New(p, client.WithCodec(codec.GetCodec(cfg.Codec)))
	return c, func() { c.Close() }, nil
}

// parseInput reads the optional JSON input argument.
func parseInput(args []string) (any, error) {
	if len(args) < 2 {
		return nil, nil
	}
	if !json.Valid([]byte(args[1])) {
		return nil, fmt.Errorf("input is not valid JSON: %s", args[1])
	}
	return json.RawMessage(args[1]), nil
}

func newCallCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <path> [json-input]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig(cmd)
			input, err := parseInput(args)
			if err != nil {
				return err
			}
			c, closeFn, err := connect(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CallTimeout)
			defer cancel()

			var out json.RawMessage
			if use == "mutate" {
				err = c.Mutation(ctx, args[0], input, &out)
			} else {
				err = c.Query(ctx, args[0], input, &out)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newSubscribeCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "subscribe <path> [json-input]",
		Short: "Print subscription events until stopped or interrupted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig(cmd)
			input, err := parseInput(args)
			if err != nil {
				return err
			}
			c, closeFn, err := connect(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub := c.Subscribe(ctx, args[0], input)
			defer sub.Close()

			n := 0
			for ev := range sub.Events() {
				var out json.RawMessage
				if err := ev.Bind(&out); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
				if n++; count > 0 && n >= count {
					return nil
				}
			}
			err = sub.Err()
			switch {
			case err == nil || ctx.Err() != nil:
				return nil
			case errors.Is(err, link.ErrDisconnected):
				return fmt.Errorf("server went away: %w", err)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many events (0 = until the server stops)")
	return cmd
}
