package loadbalance

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"port-rpc/registry"
)

// ConsistentHashBalancer maps a key to an instance using a hash ring.
// The same key always maps to the same instance until the ring changes, so a
// client keeps its subscriptions on one server across redials.
//
// Each real instance is placed on the ring as 100 virtual nodes, which keeps
// the load even when there are only a few instances.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string // affinity key used by Pick
	replicas int    // Virtual nodes per real instance

	mu      sync.Mutex
	members string            // addresses the ring was built from
	ring    []uint64          // Sorted hash values on the ring
	nodes   map[uint64]string // Hash value → instance address
}

// NewConsistentHashBalancer creates a balancer whose Pick routes key.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		key:      key,
		replicas: 100,
		nodes:    make(map[uint64]string),
	}
}

// Pick returns the instance owning the balancer's key.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	return b.PickKey(b.key, instances)
}

// PickKey returns the instance owning key. The ring is rebuilt only when the
// set of addresses changes.
func (b *ConsistentHashBalancer) PickKey(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	b.rebuild(instances)
	hash := xxhash.Sum64String(key)
	// Binary search: find first node with hash >= key's hash
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	// Wrap around: if key's hash > all nodes, go to the first node
	if idx == len(b.ring) {
		idx = 0
	}
	addr := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range instances {
		if instances[i].Addr == addr {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("loadbalance: ring lost %s", addr)
}

// rebuild must be called with mu held.
func (b *ConsistentHashBalancer) rebuild(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	slices.Sort(addrs)
	members := strings.Join(addrs, ",")
	if members == b.members {
		return
	}

	b.members = members
	b.ring = b.ring[:0]
	clear(b.nodes)
	for _, addr := range addrs {
		for i := 0; i < b.replicas; i++ {
			hash := xxhash.Sum64String(fmt.Sprintf("%s#%d", addr, i))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = addr
		}
	}
	// Keep the ring sorted for binary search in Pick()
	slices.Sort(b.ring)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
