// Package config resolves port-rpc settings with Viper.
// Precedence: defaults < config file < PORTRPC_* environment variables < flags
// bound by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"port-rpc/codec"
	"port-rpc/loadbalance"
)

type ConfigOption struct {
	Key     string
	Default any
	Comment string
}

// GetConfigOptions returns every key with its default and meaning.
func GetConfigOptions() []ConfigOption {
	return []ConfigOption{
		{Key: "network", Default: "tcp", Comment: "Network for serve and dial"},
		{Key: "address", Default: "127.0.0.1:9090", Comment: "Listen address (serve) or target address (client commands)"},
		{Key: "advertise_addr", Default: "", Comment: "Address registered for discovery; defaults to address"},
		{Key: "codec", Default: "json", Comment: "Envelope codec: json or binary"},
		{Key: "heartbeat_interval", Default: "30s", Comment: "Stream port heartbeat interval"},
		{Key: "call_timeout", Default: "5s", Comment: "Per-call timeout on the server and the client"},
		{Key: "rate.limit", Default: 0.0, Comment: "Server requests per second; 0 disables rate limiting"},
		{Key: "rate.burst", Default: 10, Comment: "Rate limiter burst size"},
		{Key: "retry.max", Default: 0, Comment: "Query retries on timeout; 0 disables retry"},
		{Key: "etcd.endpoints", Default: []string{}, Comment: "etcd endpoints; empty disables discovery"},
		{Key: "service", Default: "", Comment: "Service to discover when etcd is configured"},
		{Key: "balancer", Default: "round_robin", Comment: "round_robin, weighted_random or consistent_hash"},
		{Key: "affinity_key", Default: "", Comment: "Key routed by the consistent_hash balancer"},
	}
}

// Config is the resolved, validated configuration.
type Config struct {
	Network           string
	Address           string
	AdvertiseAddr     string
	Codec             codec.CodecType
	HeartbeatInterval time.Duration
	CallTimeout       time.Duration
	RateLimit         float64
	RateBurst         int
	RetryMax          int
	EtcdEndpoints     []string
	Service           string
	Balancer          string
	AffinityKey       string
}

// Load fills v from defaults, an optional config file and the environment,
// then validates the result. A missing default config file is not an error;
// a file named with SetConfigFile must exist.
func Load(v *viper.Viper) (Config, error) {
	explicit := v.ConfigFileUsed() != ""
	if !explicit {
		v.SetConfigName("portrpc")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "port-rpc"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "port-rpc"))
		}
		v.AddConfigPath(".")
	}

	for _, o := range GetConfigOptions() {
		v.SetDefault(o.Key, o.Default)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix("portrpc")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return resolve(v)
}

func resolve(v *viper.Viper) (Config, error) {
	var errs []error
	cfg := Config{
		Network:       v.GetString("network"),
		Address:       v.GetString("address"),
		AdvertiseAddr: v.GetString("advertise_addr"),
		RateLimit:     v.GetFloat64("rate.limit"),
		RateBurst:     v.GetInt("rate.burst"),
		RetryMax:      v.GetInt("retry.max"),
		EtcdEndpoints: stringList(v, "etcd.endpoints"),
		Service:       v.GetString("service"),
		Balancer:      v.GetString("balancer"),
		AffinityKey:   v.GetString("affinity_key"),
	}
	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = cfg.Address
	}

	ct, ok := codec.ParseType(v.GetString("codec"))
	if !ok {
		errs = append(errs, fmt.Errorf("codec must be json or binary, got %q", v.GetString("codec")))
	}
	cfg.Codec = ct

	var err error
	if cfg.HeartbeatInterval, err = duration(v, "heartbeat_interval"); err != nil {
		errs = append(errs, err)
	}
	if cfg.CallTimeout, err = duration(v, "call_timeout"); err != nil {
		errs = append(errs, err)
	}

	if cfg.Network == "" {
		errs = append(errs, errors.New("network is required"))
	}
	if cfg.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, errors.New("rate.limit must not be negative"))
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		errs = append(errs, errors.New("rate.burst must be greater than 0"))
	}
	if cfg.RetryMax < 0 {
		errs = append(errs, errors.New("retry.max must not be negative"))
	}
	if _, err := loadbalance.New(cfg.Balancer, cfg.AffinityKey); err != nil {
		errs = append(errs, fmt.Errorf("balancer %q is not supported", cfg.Balancer))
	}
	if cfg.Balancer == "consistent_hash" && cfg.AffinityKey == "" {
		errs = append(errs, errors.New("affinity_key is required by consistent_hash"))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// duration reads a "5s" style value.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	d := v.GetDuration(key)
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v.GetString(key))
	}
	return d, nil
}

// stringList allows a comma-separated env override for list keys.
func stringList(v *viper.Viper, key string) []string {
	list := v.GetStringSlice(key)
	if len(list) == 1 && strings.Contains(list[0], ",") {
		list = strings.Split(list[0], ",")
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
