// Package registry lets port servers announce their address and lets clients
// find them by service name.
package registry

import "time"

// ServiceInstance is one reachable server for a service.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version,omitempty"`
	Codec   string `json:"codec,omitempty"` // envelope codec the server expects ("json", "binary")
}

type Registry interface {
	// Register announces instance under serviceName. The entry disappears
	// about ttl seconds after the process stops renewing it.
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list every time it changes.
	Watch(serviceName string) <-chan []ServiceInstance
}

// KeyPrefix is the root of every registry key.
const KeyPrefix = "/port-rpc/"

// opTimeout bounds each etcd round trip.
const opTimeout = 3 * time.Second

func serviceKey(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}
