package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"port-rpc/config"
)

type ctxKey string

const configKey ctxKey = "config"

// Execute builds the root command and runs it.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd constructs the root command. Configuration is loaded once in
// PersistentPreRunE and handed to subcommands through the context.
func NewRootCmd() *cobra.Command {
	var cfgPath string
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "portrpc",
		Short:         "Queries, mutations and subscriptions over message ports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				v.SetConfigFile(cfgPath)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey, cfg))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (yaml|toml|json)")
	flags.String("address", "", "listen or target address")
	flags.String("codec", "", "envelope codec: json or binary")
	flags.StringSlice("etcd", nil, "etcd endpoints for registration and discovery")
	flags.String("service", "", "service to discover through etcd")
	// flags win over file and env once bound
	_ = v.BindPFlag("address", flags.Lookup("address"))
	_ = v.BindPFlag("codec", flags.Lookup("codec"))
	_ = v.BindPFlag("etcd.endpoints", flags.Lookup("etcd"))
	_ = v.BindPFlag("service", flags.Lookup("service"))

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCallCmd("query", "Run a query procedure"))
	cmd.AddCommand(newCallCmd("mutate", "Run a mutation procedure"))
	cmd.AddCommand(newSubscribeCmd())

	cmd.Run = func(cmd *cobra.Command, args []string) { _ = cmd.Help() }
	return cmd
}

func getConfig(cmd *cobra.Command) config.Config {
	v := cmd.Context().Value(configKey)
	if v == nil {
		fmt.Fprintln(os.Stderr, "internal error: config not loaded")
		os.Exit(1)
	}
	return v.(config.Config)
}
